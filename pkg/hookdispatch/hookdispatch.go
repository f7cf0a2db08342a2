/*
Package hookdispatch implements netevd's hook dispatcher (C8): given a
normalized event, it runs every executable in the matching hook
subdirectory, in lexicographic order, under the unprivileged account,
with a validated environment and a bounded timeout.
*/
package hookdispatch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/netevd/pkg/metrics"
	"github.com/cuemby/netevd/pkg/validate"
)

// Event is the input to Dispatch, matching the C7→C8 contract of spec.md
// §4.7.
type Event struct {
	LinkName  string
	LinkIndex int
	State     validate.StateTag
	Backend   string
	Addresses []string
	Payload   map[string]string
}

// Dispatcher runs hooks under hookRoot as the given unprivileged uid/gid,
// bounding each child to timeout.
type Dispatcher struct {
	hookRoot string
	uid, gid uint32
	timeout  time.Duration
	log      zerolog.Logger
}

// New returns a Dispatcher. uid/gid are the unprivileged account's
// identity (spec.md §4.2); hooks never inherit CAP_NET_ADMIN.
func New(hookRoot string, uid, gid uint32, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{hookRoot: hookRoot, uid: uid, gid: gid, timeout: timeout, log: logger}
}

// Dispatch runs every executable hook under <hookRoot>/<state>.d in sorted
// order (spec.md §4.8). It never returns an error: hook failures are logged
// and do not abort siblings or the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	dir := filepath.Join(d.hookRoot, string(ev.State)+".d")
	hooks, err := d.sortedExecutables(dir)
	if err != nil {
		d.log.Warn().Err(err).Str("dir", dir).Msg("list hook directory")
		return
	}

	env := d.buildEnv(ev)
	for _, hook := range hooks {
		d.runOne(ctx, hook, string(ev.State), env)
	}
}

// DispatchRoute satisfies watcher.HookEmitter for the route task (spec.md
// §4.5 route task), which has no address/state of its own — it maps
// directly to the fixed "routes" state tag and a single EVENT payload key.
func (d *Dispatcher) DispatchRoute(ctx context.Context, event string, linkName string, linkIndex int) {
	d.Dispatch(ctx, Event{
		LinkName:  linkName,
		LinkIndex: linkIndex,
		State:     validate.StateRoutes,
		Backend:   "kernel",
		Payload:   map[string]string{"EVENT": event},
	})
}

func (d *Dispatcher) sortedExecutables(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// buildEnv constructs the child environment, validating every value through
// C1 before inclusion; an offending key is dropped rather than aborting the
// event (spec.md §4.1/§4.8).
func (d *Dispatcher) buildEnv(ev Event) []string {
	env := map[string]string{
		"LINK":       ev.LinkName,
		"LINKINDEX":  strconv.Itoa(ev.LinkIndex),
		"STATE":      string(ev.State),
		"BACKEND":    ev.Backend,
		"ADDRESSES":  strings.Join(ev.Addresses, " "),
	}
	for k, v := range ev.Payload {
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		if err := validate.EnvValue(v); err != nil {
			d.log.Warn().Err(err).Str("key", k).Msg("dropping hook environment key")
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}

func (d *Dispatcher) runOne(ctx context.Context, path, state string, env []string) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: d.uid, Gid: d.gid},
		Setsid:     true,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	logEvt := d.log.With().Str("hook", path).Logger()

	if runCtx.Err() != nil {
		metrics.HooksDispatchedTotal.WithLabelValues(state, "timeout").Inc()
		logEvt.Warn().Msg("hook timed out, killed")
		return
	}
	if err != nil {
		metrics.HooksDispatchedTotal.WithLabelValues(state, "failure").Inc()
		logEvt.Warn().Err(err).Str("stderr", stderr.String()).Msg("hook exited non-zero")
		return
	}
	metrics.HooksDispatchedTotal.WithLabelValues(state, "success").Inc()
	logEvt.Debug().Msg("hook completed")
}
