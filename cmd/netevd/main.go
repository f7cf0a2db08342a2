package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/netevd/pkg/config"
	"github.com/cuemby/netevd/pkg/errs"
	"github.com/cuemby/netevd/pkg/hookdispatch"
	"github.com/cuemby/netevd/pkg/log"
	"github.com/cuemby/netevd/pkg/metrics"
	"github.com/cuemby/netevd/pkg/netlinkx"
	"github.com/cuemby/netevd/pkg/policyroute"
	"github.com/cuemby/netevd/pkg/privilege"
	netevdsignal "github.com/cuemby/netevd/pkg/signal"
	"github.com/cuemby/netevd/pkg/signal/dhclient"
	"github.com/cuemby/netevd/pkg/signal/networkd"
	"github.com/cuemby/netevd/pkg/signal/nm"
	"github.com/cuemby/netevd/pkg/state"
	"github.com/cuemby/netevd/pkg/supervisor"
	"github.com/cuemby/netevd/pkg/watcher"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netevd",
	Short: "netevd - privileged network event daemon",
	Long: `netevd watches kernel network events, maintains per-interface
policy routing, and dispatches hook programs in response to address,
link, route, and backend state changes.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"netevd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "/etc/netevd/netevd.yaml", "Path to configuration file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(checkConfigCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	level, err := log.ParseLevel(logLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: logJSON})
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load and validate the configuration file without starting the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if _, err := config.Load(path); err != nil {
			return err
		}
		fmt.Println("configuration OK")
		return nil
	},
}

// runDaemon wires every component (A1-C9) and blocks until the supervisor
// returns.
func runDaemon(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if level, err := log.ParseLevel(cfg.System.LogLevel); err == nil {
		logJSON, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: level, JSONOutput: logJSON})
	}

	if err := privilege.Bootstrap(privilege.Config{RunAsUser: cfg.System.RunAsUser}); err != nil {
		return err
	}

	hookUID, hookGID, err := lookupAccount(cfg.System.RunAsUser)
	if err != nil {
		return err
	}

	st := state.New()
	client := netlinkx.NewLinuxClient()
	engine := policyroute.New(client, st, cfg.Routing.RulePriorityBase, log.WithComponent("policyroute"))
	dispatch := hookdispatch.New(
		cfg.System.HookRoot,
		hookUID, hookGID,
		hookTimeout(cfg.Hooks.TimeoutSeconds),
		log.WithComponent("hookdispatch"),
	)
	w := watcher.New(client, st, engine, dispatch, cfg, log.WithComponent("watcher"))

	if cfg.System.MetricsAddr != "" {
		startMetricsServer(cfg.System.MetricsAddr, log.WithComponent("metrics"))
	}

	listener, err := buildListener(cfg, client)
	if err != nil {
		return err
	}

	sup := supervisor.New(w, listener, dispatch, log.WithComponent("supervisor"))
	return sup.Run(context.Background())
}

// buildListener selects the single active C7 variant named by
// system.backend.
func buildListener(cfg *config.Config, client netlinkx.Client) (netevdsignal.Listener, error) {
	switch cfg.System.Backend {
	case config.BackendSystemdNetworkd:
		return &networkd.Listener{
			Client:   client,
			EmitJSON: cfg.Backends.SystemdNetworkd.EmitJSON,
			Log:      log.WithComponent("signal.networkd"),
		}, nil
	case config.BackendNetworkManager:
		return &nm.Listener{
			Client: client,
			Log:    log.WithComponent("signal.nm"),
		}, nil
	case config.BackendDHClient:
		return &dhclient.Listener{
			UseDNS:      cfg.Backends.DHClient.UseDNS,
			UseDomain:   cfg.Backends.DHClient.UseDomain,
			UseHostname: cfg.Backends.DHClient.UseHostname,
			Log:         log.WithComponent("signal.dhclient"),
		}, nil
	default:
		return nil, errs.Fatal("buildListener", fmt.Errorf("unknown backend %q", cfg.System.Backend))
	}
}

func lookupAccount(name string) (uid, gid uint32, err error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, errs.Fatal("lookupAccount", fmt.Errorf("lookup account %q: %w", name, err))
	}
	uid64, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, errs.Fatal("lookupAccount", fmt.Errorf("account %q has non-numeric uid %q", name, u.Uid))
	}
	gid64, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, errs.Fatal("lookupAccount", fmt.Errorf("account %q has non-numeric gid %q", name, u.Gid))
	}
	return uint32(uid64), uint32(gid64), nil
}

// startMetricsServer serves the process's Prometheus metrics in the
// background. A listener failure is logged, not fatal: scraping is an
// optional observability surface, not part of the event-processing core.
func startMetricsServer(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
}

func hookTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}
