/*
Package privilege implements netevd's privilege bootstrap (C2): the
one-time, synchronous sequence that drops the daemon from root to an
unprivileged account retaining only CAP_NET_ADMIN, run before any
asynchronous task is spawned.
*/
package privilege

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"

	"github.com/cuemby/netevd/pkg/errs"
)

// Config carries the account to drop into. RunAsUser is a name resolved via
// os/user; defaults to "netevd" (spec.md §6 system.run_as_user).
type Config struct {
	RunAsUser string
}

// Bootstrap performs the spec.md §4.2 sequence. It is a no-op beyond a
// log-worthy skip when not running as root, so the daemon still runs
// (read-only) under a non-privileged test invocation.
func Bootstrap(cfg Config) error {
	if unix.Geteuid() != 0 {
		return nil
	}

	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 1, 0, 0, 0); err != nil {
		return errs.Fatal("privilege.Bootstrap", fmt.Errorf("set keep-capabilities: %w", err))
	}

	u, err := user.Lookup(cfg.RunAsUser)
	if err != nil {
		return errs.Fatal("privilege.Bootstrap", fmt.Errorf("lookup account %q: %w", cfg.RunAsUser, err))
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return errs.Fatal("privilege.Bootstrap", fmt.Errorf("account %q has non-numeric uid %q", cfg.RunAsUser, u.Uid))
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return errs.Fatal("privilege.Bootstrap", fmt.Errorf("account %q has non-numeric gid %q", cfg.RunAsUser, u.Gid))
	}

	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return errs.Fatal("privilege.Bootstrap", fmt.Errorf("setresgid(%d): %w", gid, err))
	}
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return errs.Fatal("privilege.Bootstrap", fmt.Errorf("setresuid(%d): %w", uid, err))
	}

	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 0, 0, 0, 0); err != nil {
		return errs.Fatal("privilege.Bootstrap", fmt.Errorf("clear keep-capabilities: %w", err))
	}

	if err := reduceToNetAdmin(); err != nil {
		return errs.Fatal("privilege.Bootstrap", fmt.Errorf("reduce capabilities: %w", err))
	}

	return nil
}

// reduceToNetAdmin clears every capability bit except CAP_NET_ADMIN in the
// effective and permitted sets.
func reduceToNetAdmin() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("load process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("load process capabilities: %w", err)
	}

	caps.Clear(capability.CAPS)
	caps.Set(capability.EFFECTIVE|capability.PERMITTED, capability.CAP_NET_ADMIN)

	if err := caps.Apply(capability.CAPS); err != nil {
		return fmt.Errorf("apply capability set: %w", err)
	}
	return nil
}
