/*
Package supervisor implements netevd's top-level composition (C9): the
three watcher tasks, the single active signal-listener variant, and a
termination-signal task, all under a first-to-complete shutdown policy.
*/
package supervisor

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"github.com/cuemby/netevd/pkg/hookdispatch"
	netevdsignal "github.com/cuemby/netevd/pkg/signal"
	"github.com/cuemby/netevd/pkg/watcher"
)

// Supervisor wraps a tomb hosting every long-running task of the daemon.
type Supervisor struct {
	watcher  *watcher.Watcher
	listener netevdsignal.Listener
	dispatch *hookdispatch.Dispatcher
	log      zerolog.Logger

	t tomb.Tomb
}

// New builds a Supervisor. listener is the single active C7 variant chosen
// by configuration's system.backend.
func New(w *watcher.Watcher, listener netevdsignal.Listener, dispatch *hookdispatch.Dispatcher, logger zerolog.Logger) *Supervisor {
	return &Supervisor{watcher: w, listener: listener, dispatch: dispatch, log: logger}
}

// Run starts every task and blocks until the first one completes, at which
// point the rest are cancelled and Run returns. It notifies systemd of
// readiness once all tasks are launched (A4).
func (s *Supervisor) Run(ctx context.Context) error {
	// t.Context ties cancellation to the tomb's dying state, so killing the
	// tomb from any one task (below) wakes every other task waiting on
	// runCtx.Done(), and cancelling the caller's ctx propagates the same
	// way.
	runCtx := s.t.Context(ctx)

	if err := s.watcher.Start(runCtx); err != nil {
		return err
	}

	// tomb.v2 only treats a non-nil return as grounds to kill siblings; a
	// clean return from one of these (e.g. the termination task on a plain
	// SIGTERM) must still end the others, so every task explicitly kills
	// the tomb on its way out (spec.md §4.9's first-to-complete policy).
	s.t.Go(func() error {
		err := s.listener.Run(runCtx, s.dispatch)
		s.t.Kill(err)
		return err
	})
	s.t.Go(func() error {
		err := waitForTermination(runCtx)
		s.t.Kill(err)
		return err
	})
	s.t.Go(func() error {
		select {
		case <-s.watcher.Dying():
		case <-runCtx.Done():
		}
		s.t.Kill(nil)
		return nil
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.log.Warn().Err(err).Msg("sd_notify readiness failed")
	} else if sent {
		s.log.Debug().Msg("sent sd_notify READY=1")
	}

	err := s.t.Wait()
	_ = s.watcher.Stop()

	if sent, notifyErr := daemon.SdNotify(false, daemon.SdNotifyStopping); notifyErr == nil && sent {
		s.log.Debug().Msg("sent sd_notify STOPPING=1")
	}

	return err
}

// waitForTermination blocks until SIGINT or SIGTERM, or ctx is cancelled.
func waitForTermination(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(ch)

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return nil
	}
}
