package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/netevd/pkg/config"
	"github.com/cuemby/netevd/pkg/hookdispatch"
	"github.com/cuemby/netevd/pkg/log"
	"github.com/cuemby/netevd/pkg/netlinkx"
	"github.com/cuemby/netevd/pkg/policyroute"
	"github.com/cuemby/netevd/pkg/signal"
	"github.com/cuemby/netevd/pkg/state"
	"github.com/cuemby/netevd/pkg/watcher"
)

// stubListener signals that it started via done, then either returns
// immediately (simulating the listener task completing) or blocks until
// ctx is cancelled, depending on blockUntilCancel.
type stubListener struct {
	done            chan struct{}
	blockUntilCancel bool
}

func (s *stubListener) Run(ctx context.Context, sink signal.EventSink) error {
	close(s.done)
	if s.blockUntilCancel {
		<-ctx.Done()
	}
	return nil
}

func TestRunExitsWhenListenerCompletes(t *testing.T) {
	log.Init(log.Config{Level: log.ErrorLevel})
	fake := netlinkx.NewFake()
	st := state.New()
	engine := policyroute.New(fake, st, 20000, log.WithComponent("policyroute"))
	cfg := &config.Config{}
	w := watcher.New(fake, st, engine, nil, cfg, log.WithComponent("watcher"))
	dispatch := hookdispatch.New(t.TempDir(), 0, 0, time.Second, log.WithComponent("hookdispatch"))

	listener := &stubListener{done: make(chan struct{})}
	sup := New(w, listener, dispatch, log.WithComponent("supervisor"))

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(context.Background()) }()

	select {
	case <-listener.done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never started")
	}

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after listener task completed")
	}
}

func TestRunExitsOnContextCancellation(t *testing.T) {
	log.Init(log.Config{Level: log.ErrorLevel})
	fake := netlinkx.NewFake()
	st := state.New()
	engine := policyroute.New(fake, st, 20000, log.WithComponent("policyroute"))
	cfg := &config.Config{}
	w := watcher.New(fake, st, engine, nil, cfg, log.WithComponent("watcher"))
	dispatch := hookdispatch.New(t.TempDir(), 0, 0, time.Second, log.WithComponent("hookdispatch"))

	listener := &stubListener{done: make(chan struct{}), blockUntilCancel: true}
	sup := New(w, listener, dispatch, log.WithComponent("supervisor"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	<-listener.done
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after context cancellation")
	}
}
