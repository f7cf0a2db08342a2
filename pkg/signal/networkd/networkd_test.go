package networkd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/netevd/pkg/validate"
)

func TestIndexFromPath(t *testing.T) {
	index, ok := indexFromPath(dbus.ObjectPath("/org/freedesktop/network1/link/_3"))
	assert.True(t, ok)
	assert.Equal(t, 3, index)

	_, ok = indexFromPath(dbus.ObjectPath("/org/freedesktop/network1/manager"))
	assert.False(t, ok)
}

func TestDeriveStateTag(t *testing.T) {
	tag, ok := deriveStateTag(map[string]string{"ADMIN_STATE": "configured"})
	assert.True(t, ok)
	assert.Equal(t, validate.StateConfigured, tag)

	tag, ok = deriveStateTag(map[string]string{"OPER_STATE": "routable"})
	assert.True(t, ok)
	assert.Equal(t, validate.StateRoutable, tag)

	_, ok = deriveStateTag(map[string]string{"OPER_STATE": "off"})
	assert.False(t, ok)
}

func TestReadLinkState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3"), []byte(
		"# comment\nNAME=eth1\nADMIN_STATE=configured\nOPER_STATE=routable\n"), 0o644))

	l := &Listener{StateDir: dir}
	desc, err := l.readLinkState(3)
	require.NoError(t, err)
	assert.Equal(t, "eth1", desc["NAME"])
	assert.Equal(t, "configured", desc["ADMIN_STATE"])
}
