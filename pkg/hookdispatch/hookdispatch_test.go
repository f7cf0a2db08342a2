package hookdispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/netevd/pkg/log"
	"github.com/cuemby/netevd/pkg/validate"
)

func writeHook(t *testing.T, dir, name, body string, executable bool) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	if executable {
		require.NoError(t, os.Chmod(path, 0o755))
	}
}

func newDispatcher(t *testing.T, root string) *Dispatcher {
	log.Init(log.Config{Level: log.ErrorLevel})
	return New(root, uint32(os.Getuid()), uint32(os.Getgid()), 2*time.Second, log.WithComponent("hookdispatch"))
}

func TestDispatchRunsHooksInLexicographicOrder(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "routable.d")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	order := filepath.Join(root, "order.log")
	writeHook(t, dir, "10-c.sh", "#!/bin/sh\necho c >> "+order+"\n", true)
	writeHook(t, dir, "01-a.sh", "#!/bin/sh\necho a >> "+order+"\n", true)
	writeHook(t, dir, "02-b.sh", "#!/bin/sh\necho b >> "+order+"\n", true)
	writeHook(t, dir, "readme.txt", "not a hook", false)

	d := newDispatcher(t, root)
	d.Dispatch(context.Background(), Event{LinkName: "eth0", State: validate.StateRoutable})

	data, err := os.ReadFile(order)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(data))
}

func TestDispatchContinuesAfterHookFailure(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "routable.d")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	marker := filepath.Join(root, "ok.log")
	writeHook(t, dir, "01-fail.sh", "#!/bin/sh\nexit 1\n", true)
	writeHook(t, dir, "02-ok.sh", "#!/bin/sh\necho ok >> "+marker+"\n", true)

	d := newDispatcher(t, root)
	d.Dispatch(context.Background(), Event{LinkName: "eth0", State: validate.StateRoutable})

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))
}

func TestDispatchEnvironmentDropsInvalidValue(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "routable.d")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	out := filepath.Join(root, "env.log")
	writeHook(t, dir, "01-print.sh", "#!/bin/sh\nenv | sort >> "+out+"\n", true)

	d := newDispatcher(t, root)
	d.Dispatch(context.Background(), Event{
		LinkName: "eth0",
		State:    validate.StateRoutable,
		Payload:  map[string]string{"SAFE": "ok", "UNSAFE": "a;b"},
	})

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SAFE=ok")
	assert.NotContains(t, string(data), "UNSAFE")
}

func TestDispatchMissingDirectoryIsNotAnError(t *testing.T) {
	root := t.TempDir()
	d := newDispatcher(t, root)
	d.Dispatch(context.Background(), Event{LinkName: "eth0", State: validate.StateCarrier})
}
