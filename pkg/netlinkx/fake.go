package netlinkx

import (
	"context"
	"net/netip"
	"sync"

	"github.com/cuemby/netevd/pkg/state"
)

// Fake is an in-memory Client for tests: it records every mutating call and
// lets tests push synthetic subscription events, without a kernel or
// CAP_NET_ADMIN.
type Fake struct {
	mu sync.Mutex

	Links     []LinkEntry
	Addresses map[int][]AddrEntry
	Gateways  map[int]netip.Addr

	RoutesAdded   []state.Route
	RoutesRemoved []struct {
		Index, Table int
		Destination  netip.Prefix
	}
	RulesAdded []struct {
		Addr     netip.Addr
		Dir      state.Direction
		Table    int
		Priority int
	}
	RulesRemoved []struct {
		Addr  netip.Addr
		Dir   state.Direction
		Table int
	}

	addrCh  chan AddrChange
	linkCh  chan LinkChange
	routeCh chan RouteChange
}

// NewFake returns a ready-to-use Fake whose subscription channels are
// buffered, stay open, and carry only what PushAddr/PushLink/PushRoute send.
func NewFake() *Fake {
	return &Fake{
		Addresses: make(map[int][]AddrEntry),
		Gateways:  make(map[int]netip.Addr),
		addrCh:    make(chan AddrChange, 16),
		linkCh:    make(chan LinkChange, 16),
		routeCh:   make(chan RouteChange, 16),
	}
}

func (f *Fake) AddRoute(ctx context.Context, r state.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RoutesAdded = append(f.RoutesAdded, r)
	return nil
}

func (f *Fake) RemoveRoute(ctx context.Context, index, table int, destination netip.Prefix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RoutesRemoved = append(f.RoutesRemoved, struct {
		Index, Table int
		Destination  netip.Prefix
	}{index, table, destination})
	return nil
}

func (f *Fake) AddRule(ctx context.Context, addr netip.Addr, dir state.Direction, table, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RulesAdded = append(f.RulesAdded, struct {
		Addr     netip.Addr
		Dir      state.Direction
		Table    int
		Priority int
	}{addr, dir, table, priority})
	return nil
}

func (f *Fake) RemoveRule(ctx context.Context, addr netip.Addr, dir state.Direction, table int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RulesRemoved = append(f.RulesRemoved, struct {
		Addr  netip.Addr
		Dir   state.Direction
		Table int
	}{addr, dir, table})
	return nil
}

func (f *Fake) ListAddresses(ctx context.Context, index int) ([]AddrEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AddrEntry(nil), f.Addresses[index]...), nil
}

func (f *Fake) ListLinks(ctx context.Context) ([]LinkEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LinkEntry(nil), f.Links...), nil
}

func (f *Fake) DefaultGateway(ctx context.Context, index int, addr netip.Addr) (netip.Addr, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gw, ok := f.Gateways[index]
	return gw, ok, nil
}

func (f *Fake) SubscribeAddresses(ctx context.Context) (<-chan AddrChange, error) {
	return f.addrCh, nil
}

func (f *Fake) SubscribeLinks(ctx context.Context) (<-chan LinkChange, error) {
	return f.linkCh, nil
}

func (f *Fake) SubscribeRoutes(ctx context.Context) (<-chan RouteChange, error) {
	return f.routeCh, nil
}

// PushAddr delivers a synthetic address event to SubscribeAddresses readers.
func (f *Fake) PushAddr(c AddrChange) { f.addrCh <- c }

// PushLink delivers a synthetic link event to SubscribeLinks readers.
func (f *Fake) PushLink(c LinkChange) { f.linkCh <- c }

// PushRoute delivers a synthetic route event to SubscribeRoutes readers.
func (f *Fake) PushRoute(c RouteChange) { f.routeCh <- c }

var _ Client = (*Fake)(nil)
