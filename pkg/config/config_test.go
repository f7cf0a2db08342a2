package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "netevd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "system:\n  backend: dhclient\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.System.LogLevel)
	assert.Equal(t, "netevd", cfg.System.RunAsUser)
	assert.Equal(t, "/etc/netevd", cfg.System.HookRoot)
	assert.Equal(t, 30, cfg.Hooks.TimeoutSeconds)
	assert.Equal(t, 20000, cfg.Routing.RulePriorityBase)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "system:\n  backend: carrier-pigeon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidInterfaceName(t *testing.T) {
	path := writeConfig(t, "system:\n  backend: dhclient\nrouting:\n  policy_rules: [\"eth0; rm -rf /\"]\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestMonitoredAndManaged(t *testing.T) {
	cfg := &Config{
		Monitoring: Monitoring{Interfaces: nil},
		Routing:    Routing{PolicyRules: []string{"eth1"}},
	}
	assert.True(t, cfg.Monitored("anything"), "empty monitoring set means monitor all")
	assert.True(t, cfg.Managed("eth1"))
	assert.False(t, cfg.Managed("eth2"))

	cfg.Monitoring.Interfaces = []string{"eth1"}
	assert.True(t, cfg.Monitored("eth1"))
	assert.False(t, cfg.Monitored("eth2"))
}
