package policyroute

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/netevd/pkg/log"
	"github.com/cuemby/netevd/pkg/netlinkx"
	"github.com/cuemby/netevd/pkg/state"
)

func newEngine(t *testing.T) (*Engine, *netlinkx.Fake, *state.NetworkState) {
	t.Helper()
	log.Init(log.Config{Level: log.ErrorLevel})
	fake := netlinkx.NewFake()
	st := state.New()
	return New(fake, st, 20000, log.WithComponent("policyroute")), fake, st
}

func TestOnAddressAddedInstallsRouteAndRules(t *testing.T) {
	e, fake, st := newEngine(t)
	addr := netip.MustParseAddr("192.168.1.100")
	gw := netip.MustParseAddr("192.168.1.1")
	fake.Gateways[3] = gw

	e.OnAddressAdded(context.Background(), 3, "eth1", addr)

	require.Len(t, fake.RoutesAdded, 1)
	assert.Equal(t, 203, fake.RoutesAdded[0].Table)
	assert.Equal(t, gw, fake.RoutesAdded[0].Gateway)
	require.Len(t, fake.RulesAdded, 2)

	table, ok := st.RuleTable(addr)
	assert.True(t, ok)
	assert.Equal(t, 203, table)
	assert.True(t, st.HasRoute(3, 203, netip.Prefix{}))
}

func TestOnAddressAddedDefersWithoutGateway(t *testing.T) {
	e, fake, st := newEngine(t)
	addr := netip.MustParseAddr("192.168.1.100")

	e.OnAddressAdded(context.Background(), 3, "eth1", addr)

	assert.Empty(t, fake.RoutesAdded)
	_, ok := st.RuleTable(addr)
	assert.False(t, ok)
}

func TestOnAddressRemovedTearsDownInOrder(t *testing.T) {
	e, fake, st := newEngine(t)
	addr := netip.MustParseAddr("192.168.1.100")
	fake.Gateways[3] = netip.MustParseAddr("192.168.1.1")

	e.OnAddressAdded(context.Background(), 3, "eth1", addr)
	e.OnAddressRemoved(context.Background(), 3, "eth1", addr)

	require.Len(t, fake.RulesRemoved, 2)
	assert.Equal(t, state.DirectionTo, fake.RulesRemoved[0].Dir)
	assert.Equal(t, state.DirectionFrom, fake.RulesRemoved[1].Dir)
	require.Len(t, fake.RoutesRemoved, 1)

	_, ok := st.RuleTable(addr)
	assert.False(t, ok)
	assert.False(t, st.HasRoute(3, 203, netip.Prefix{}))
}

func TestOnAddressRemovedIdempotent(t *testing.T) {
	e, _, _ := newEngine(t)
	addr := netip.MustParseAddr("192.168.1.100")

	// No prior add: must be a silent no-op, not a panic or error log storm.
	e.OnAddressRemoved(context.Background(), 3, "eth1", addr)
}

func TestOnAddressAddedIdempotentOnRepeat(t *testing.T) {
	e, fake, st := newEngine(t)
	addr := netip.MustParseAddr("192.168.1.100")
	fake.Gateways[3] = netip.MustParseAddr("192.168.1.1")

	e.OnAddressAdded(context.Background(), 3, "eth1", addr)
	e.OnAddressAdded(context.Background(), 3, "eth1", addr)

	table, ok := st.RuleTable(addr)
	assert.True(t, ok)
	assert.Equal(t, 203, table)
}
