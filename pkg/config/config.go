/*
Package config loads and validates netevd's YAML configuration file
(spec.md §6). It is parsed once at startup; every field that later
escapes into a hook environment, a message-bus call, or a kernel request
is re-validated at the point of use through pkg/validate regardless of
having passed here (defence in depth, spec.md §4.1).
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/netevd/pkg/errs"
	"github.com/cuemby/netevd/pkg/log"
	"github.com/cuemby/netevd/pkg/validate"
)

// Backend selects the C7 signal-listener variant.
type Backend string

const (
	BackendSystemdNetworkd Backend = "systemd-networkd"
	BackendNetworkManager  Backend = "NetworkManager"
	BackendDHClient        Backend = "dhclient"
)

// Config is the root of the parsed configuration file.
type Config struct {
	System     System     `yaml:"system"`
	Monitoring Monitoring `yaml:"monitoring"`
	Routing    Routing    `yaml:"routing"`
	Backends   Backends   `yaml:"backends"`
	Hooks      Hooks      `yaml:"hooks"`
}

// System holds process-wide settings.
type System struct {
	LogLevel    string  `yaml:"log_level"`
	Backend     Backend `yaml:"backend"`
	RunAsUser   string  `yaml:"run_as_user"`
	HookRoot    string  `yaml:"hook_root"`
	MetricsAddr string  `yaml:"metrics_addr"` // empty disables the metrics listener
}

// Monitoring controls which interfaces the watcher pays attention to.
type Monitoring struct {
	Interfaces []string `yaml:"interfaces"`
}

// Routing controls which interfaces drive the policy-routing engine.
type Routing struct {
	PolicyRules     []string `yaml:"policy_rules"`
	RulePriorityBase int     `yaml:"rule_priority_base"`
}

// Backends holds per-variant C7 settings.
type Backends struct {
	SystemdNetworkd SystemdNetworkdBackend `yaml:"systemd_networkd"`
	DHClient        DHClientBackend        `yaml:"dhclient"`
}

type SystemdNetworkdBackend struct {
	EmitJSON bool `yaml:"emit_json"`
}

type DHClientBackend struct {
	UseDNS      bool `yaml:"use_dns"`
	UseDomain   bool `yaml:"use_domain"`
	UseHostname bool `yaml:"use_hostname"`
}

// Hooks controls the C8 hook dispatcher.
type Hooks struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// defaults applied before unmarshalling, so a sparse file still yields a
// usable configuration.
func defaults() Config {
	return Config{
		System: System{
			LogLevel:  "info",
			RunAsUser: "netevd",
			HookRoot:  "/etc/netevd",
		},
		Routing: Routing{
			RulePriorityBase: 20000,
		},
		Hooks: Hooks{
			TimeoutSeconds: 30,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Fatal("config.Load", fmt.Errorf("read %s: %w", path, err))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Fatal("config.Load", fmt.Errorf("parse %s: %w", path, err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field the daemon depends on at startup. It does not
// replace the per-use validation C1 performs on individual hook/event
// values — it only guards against a daemon that could never run correctly.
func (c *Config) Validate() error {
	switch c.System.Backend {
	case BackendSystemdNetworkd, BackendNetworkManager, BackendDHClient:
	default:
		return errs.Fatal("config.Validate", fmt.Errorf("unknown backend %q", c.System.Backend))
	}

	if _, err := log.ParseLevel(c.System.LogLevel); err != nil {
		return errs.Fatal("config.Validate", fmt.Errorf("system.log_level: %w", err))
	}

	for _, name := range c.Monitoring.Interfaces {
		if err := validate.InterfaceName(name); err != nil {
			return errs.Fatal("config.Validate", fmt.Errorf("monitoring.interfaces: %w", err))
		}
	}
	for _, name := range c.Routing.PolicyRules {
		if err := validate.InterfaceName(name); err != nil {
			return errs.Fatal("config.Validate", fmt.Errorf("routing.policy_rules: %w", err))
		}
	}
	if c.Hooks.TimeoutSeconds <= 0 {
		return errs.Fatal("config.Validate", fmt.Errorf("hooks.timeout_seconds must be positive"))
	}
	if c.Routing.RulePriorityBase <= 0 {
		return errs.Fatal("config.Validate", fmt.Errorf("routing.rule_priority_base must be positive"))
	}
	return nil
}

// Monitored reports whether name should be watched at all. An empty
// monitoring.interfaces set means "all interfaces" (spec.md §6).
func (c *Config) Monitored(name string) bool {
	if len(c.Monitoring.Interfaces) == 0 {
		return true
	}
	return contains(c.Monitoring.Interfaces, name)
}

// Managed reports whether name should drive the policy-routing engine.
func (c *Config) Managed(name string) bool {
	return contains(c.Routing.PolicyRules, name)
}

func contains(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}
