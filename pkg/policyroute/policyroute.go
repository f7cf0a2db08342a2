/*
Package policyroute implements netevd's policy-routing engine (C6): for
each global address gained or lost on a managed interface, it installs or
tears down a dedicated routing table and the FROM/TO rules that send that
address's traffic through it.
*/
package policyroute

import (
	"context"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/cuemby/netevd/pkg/metrics"
	"github.com/cuemby/netevd/pkg/netlinkx"
	"github.com/cuemby/netevd/pkg/state"
)

// Engine runs the C6 algorithm against a kernel transport and the shared
// network state.
type Engine struct {
	client       netlinkx.Client
	state        *state.NetworkState
	rulePriority int
	log          zerolog.Logger
}

// New returns an Engine. rulePriority is the base priority installed for
// both the FROM and TO rule of every address (routing.rule_priority_base).
func New(client netlinkx.Client, st *state.NetworkState, rulePriority int, logger zerolog.Logger) *Engine {
	return &Engine{client: client, state: st, rulePriority: rulePriority, log: logger}
}

// OnAddressAdded runs spec.md §4.6's add algorithm. Failures are logged and
// non-fatal: the watcher loop that calls this keeps running.
func (e *Engine) OnAddressAdded(ctx context.Context, index int, name string, addr netip.Addr) {
	table := state.TableForIndex(index)

	gw, ok, err := e.client.DefaultGateway(ctx, index, addr)
	if err != nil {
		metrics.PolicyRouteErrorsTotal.WithLabelValues("default_gateway").Inc()
		e.log.Warn().Err(err).Str("link", name).Str("address", addr.String()).Msg("discover default gateway")
		return
	}
	if !ok {
		// No gateway known yet; the next address event on this interface
		// retries (spec.md §4.6 step 2).
		e.log.Debug().Str("link", name).Str("address", addr.String()).Msg("no default gateway yet, deferring")
		return
	}

	route := state.Route{
		Destination: netip.Prefix{},
		Gateway:     gw,
		OutIndex:    index,
		Table:       table,
	}
	if err := e.client.AddRoute(ctx, route); err != nil {
		metrics.PolicyRouteErrorsTotal.WithLabelValues("add_route").Inc()
		e.log.Warn().Err(err).Str("link", name).Msg("install default route")
		return
	}
	metrics.RoutesInstalledTotal.Inc()

	if err := e.client.AddRule(ctx, addr, state.DirectionFrom, table, e.rulePriority); err != nil {
		metrics.PolicyRouteErrorsTotal.WithLabelValues("add_rule_from").Inc()
		e.log.Warn().Err(err).Str("link", name).Str("address", addr.String()).Msg("install from-rule, rolling back")
		_ = e.client.RemoveRoute(ctx, index, table, route.Destination)
		return
	}
	metrics.RulesInstalledTotal.WithLabelValues(state.DirectionFrom.String()).Inc()

	if err := e.client.AddRule(ctx, addr, state.DirectionTo, table, e.rulePriority); err != nil {
		metrics.PolicyRouteErrorsTotal.WithLabelValues("add_rule_to").Inc()
		e.log.Warn().Err(err).Str("link", name).Str("address", addr.String()).Msg("install to-rule, rolling back")
		_ = e.client.RemoveRule(ctx, addr, state.DirectionFrom, table)
		_ = e.client.RemoveRoute(ctx, index, table, route.Destination)
		return
	}
	metrics.RulesInstalledTotal.WithLabelValues(state.DirectionTo.String()).Inc()

	e.state.RecordRule(addr, state.DirectionFrom, table)
	e.state.RecordRule(addr, state.DirectionTo, table)
	e.state.RecordRoute(index, table, route)

	e.log.Info().Str("link", name).Str("address", addr.String()).Int("table", table).Msg("installed policy route")
}

// OnAddressRemoved runs spec.md §4.6's remove algorithm. Teardown order is
// TO rule, then FROM rule, then the default route, to minimize the window
// in which traffic could be mis-routed (spec.md §5).
func (e *Engine) OnAddressRemoved(ctx context.Context, index int, name string, addr netip.Addr) {
	table, ok := e.state.RuleTable(addr)
	if !ok {
		return
	}

	if err := e.client.RemoveRule(ctx, addr, state.DirectionTo, table); err != nil {
		metrics.PolicyRouteErrorsTotal.WithLabelValues("remove_rule_to").Inc()
		e.log.Warn().Err(err).Str("link", name).Str("address", addr.String()).Msg("remove to-rule")
	} else {
		metrics.RulesRemovedTotal.WithLabelValues(state.DirectionTo.String()).Inc()
	}
	if err := e.client.RemoveRule(ctx, addr, state.DirectionFrom, table); err != nil {
		metrics.PolicyRouteErrorsTotal.WithLabelValues("remove_rule_from").Inc()
		e.log.Warn().Err(err).Str("link", name).Str("address", addr.String()).Msg("remove from-rule")
	} else {
		metrics.RulesRemovedTotal.WithLabelValues(state.DirectionFrom.String()).Inc()
	}
	if err := e.client.RemoveRoute(ctx, index, table, netip.Prefix{}); err != nil {
		metrics.PolicyRouteErrorsTotal.WithLabelValues("remove_route").Inc()
		e.log.Warn().Err(err).Str("link", name).Msg("remove default route")
	} else {
		metrics.RoutesRemovedTotal.Inc()
	}

	e.state.ForgetRule(addr, state.DirectionTo)
	e.state.ForgetRule(addr, state.DirectionFrom)
	e.state.ForgetRoute(index, table, netip.Prefix{})

	e.log.Info().Str("link", name).Str("address", addr.String()).Int("table", table).Msg("removed policy route")
}
