/*
Package watcher implements netevd's kernel-event watcher (C5): three
concurrent tasks, one per netlink notification kind, each an infinite
consumer of the corresponding subscription from pkg/netlinkx.
*/
package watcher

import (
	"context"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"github.com/cuemby/netevd/pkg/config"
	"github.com/cuemby/netevd/pkg/netlinkx"
	"github.com/cuemby/netevd/pkg/policyroute"
	"github.com/cuemby/netevd/pkg/state"
)

// HookEmitter is the subset of the hook dispatcher the route task drives
// (spec.md §4.5 route task, §4.8). Declared as an interface so tests can
// substitute a recorder; hookdispatch.Dispatcher satisfies it.
type HookEmitter interface {
	DispatchRoute(ctx context.Context, event string, linkName string, linkIndex int)
}

// Watcher owns the three C5 tasks under a single tomb.
type Watcher struct {
	client  netlinkx.Client
	state   *state.NetworkState
	engine  *policyroute.Engine
	hooks   HookEmitter
	cfg     *config.Config
	log     zerolog.Logger
	t       tomb.Tomb
}

// New builds a Watcher. Call Start to launch its tasks.
func New(client netlinkx.Client, st *state.NetworkState, engine *policyroute.Engine, hooks HookEmitter, cfg *config.Config, logger zerolog.Logger) *Watcher {
	return &Watcher{client: client, state: st, engine: engine, hooks: hooks, cfg: cfg, log: logger}
}

// Start launches the address, link, and route tasks. Each is tracked by the
// Watcher's tomb: if any exits, the tomb begins dying and the others are
// asked to cancel (spec.md §4.9's transport-failure treatment).
func (w *Watcher) Start(ctx context.Context) error {
	addrCh, err := w.client.SubscribeAddresses(ctx)
	if err != nil {
		return err
	}
	linkCh, err := w.client.SubscribeLinks(ctx)
	if err != nil {
		return err
	}
	routeCh, err := w.client.SubscribeRoutes(ctx)
	if err != nil {
		return err
	}

	// tomb.v2 only dies on its own for a non-nil return, so each task kills
	// the tomb explicitly on its way out, even when it returns cleanly.
	w.t.Go(func() error {
		err := w.runAddressTask(ctx, addrCh)
		w.t.Kill(err)
		return err
	})
	w.t.Go(func() error {
		err := w.runLinkTask(ctx, linkCh)
		w.t.Kill(err)
		return err
	})
	w.t.Go(func() error {
		err := w.runRouteTask(ctx, routeCh)
		w.t.Kill(err)
		return err
	})
	return nil
}

// Stop asks every task to cancel and waits for them to return.
func (w *Watcher) Stop() error {
	w.t.Kill(nil)
	return w.t.Wait()
}

// Dying returns the channel that closes once any task has exited.
func (w *Watcher) Dying() <-chan struct{} { return w.t.Dying() }

func (w *Watcher) runAddressTask(ctx context.Context, ch <-chan netlinkx.AddrChange) error {
	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return nil
			}
			w.handleAddressChange(ctx, change)
		case <-w.t.Dying():
			return nil
		}
	}
}

func (w *Watcher) handleAddressChange(ctx context.Context, change netlinkx.AddrChange) {
	name, ok := w.state.NameOf(change.Index)
	if !ok {
		links, err := w.client.ListLinks(ctx)
		if err != nil {
			w.log.Warn().Err(err).Int("index", change.Index).Msg("refresh link snapshot")
			return
		}
		for _, l := range links {
			w.state.UpsertLink(l.Index, l.Name)
			if l.Index == change.Index {
				name = l.Name
				ok = true
			}
		}
		if !ok {
			w.log.Warn().Int("index", change.Index).Msg("address event for unknown interface")
			return
		}
	}

	if !w.cfg.Monitored(name) {
		return
	}

	if change.Kind == netlinkx.Added {
		w.state.AddAddress(change.Index, change.Prefix, change.Scope)
	} else {
		w.state.RemoveAddress(change.Index, change.Prefix)
	}

	if change.Scope != state.ScopeGlobal || !w.cfg.Managed(name) {
		return
	}

	addr := change.Prefix.Addr()
	if change.Kind == netlinkx.Added {
		w.engine.OnAddressAdded(ctx, change.Index, name, addr)
		// Retry global addresses on this interface whose installation was
		// deferred earlier for lack of a default gateway.
		for _, a := range w.state.AddressesOf(change.Index) {
			other := a.Prefix.Addr()
			if a.Scope != state.ScopeGlobal || other == addr {
				continue
			}
			if _, installed := w.state.RuleTable(other); !installed {
				w.engine.OnAddressAdded(ctx, change.Index, name, other)
			}
		}
	} else {
		w.engine.OnAddressRemoved(ctx, change.Index, name, addr)
	}
}

func (w *Watcher) runLinkTask(ctx context.Context, ch <-chan netlinkx.LinkChange) error {
	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return nil
			}
			w.handleLinkChange(ctx, change)
		case <-w.t.Dying():
			return nil
		}
	}
}

func (w *Watcher) handleLinkChange(ctx context.Context, change netlinkx.LinkChange) {
	if change.Kind == netlinkx.Added {
		w.state.UpsertLink(change.Index, change.Name)
		return
	}

	table := state.TableForIndex(change.Index)
	for _, addr := range w.state.AddressesForTable(table) {
		w.engine.OnAddressRemoved(ctx, change.Index, change.Name, addr)
	}
	w.state.RemoveLink(change.Index)
}

func (w *Watcher) runRouteTask(ctx context.Context, ch <-chan netlinkx.RouteChange) error {
	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return nil
			}
			event := "new"
			if change.Kind == netlinkx.Removed {
				event = "del"
			}
			if w.hooks != nil {
				w.hooks.DispatchRoute(ctx, event, change.OutName, change.OutIndex)
			}
		case <-w.t.Dying():
			return nil
		}
	}
}
