/*
Package netlinkx is netevd's kernel transport (C3): a typed client over the
Linux route/address/link netlink family, built on
github.com/vishvananda/netlink. It gives the watcher (C5) and the
policy-routing engine (C6) request/reply and subscription primitives without
exposing netlink's raw attribute encoding to the rest of the daemon.
*/
package netlinkx

import (
	"context"
	"net/netip"

	"github.com/cuemby/netevd/pkg/state"
)

// LinkEntry is a snapshot of one interface's index↔name mapping.
type LinkEntry struct {
	Index int
	Name  string
}

// AddrEntry is a snapshot of one address bound to an interface.
type AddrEntry struct {
	Prefix netip.Prefix
	Scope  state.AddrScope
}

// ChangeKind distinguishes an addition from a removal in a subscription
// record.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

// AddrChange is one record from SubscribeAddresses.
type AddrChange struct {
	Index  int
	Prefix netip.Prefix
	Scope  state.AddrScope
	Kind   ChangeKind
}

// LinkChange is one record from SubscribeLinks.
type LinkChange struct {
	Index int
	Name  string
	Kind  ChangeKind
}

// RouteChange is one record from SubscribeRoutes. netevd only observes these
// (it does not own externally-created routes); the fields mirror what C5's
// route task needs to build a hook event.
type RouteChange struct {
	OutIndex    int
	OutName     string
	Destination netip.Prefix
	Kind        ChangeKind
}

// Client is the C3 interface. The production implementation (see
// NewLinuxClient) wraps vishvananda/netlink; tests substitute a fake so that
// C5/C6 logic can run without root or a real network namespace.
type Client interface {
	AddRoute(ctx context.Context, r state.Route) error
	RemoveRoute(ctx context.Context, index, table int, destination netip.Prefix) error
	AddRule(ctx context.Context, addr netip.Addr, dir state.Direction, table, priority int) error
	RemoveRule(ctx context.Context, addr netip.Addr, dir state.Direction, table int) error

	ListAddresses(ctx context.Context, index int) ([]AddrEntry, error)
	ListLinks(ctx context.Context) ([]LinkEntry, error)

	// DefaultGateway discovers an interface's default route gateway for the
	// address family of addr, by listing existing kernel routes for index
	// (spec.md §4.6 step 2). ok is false if none is known yet.
	DefaultGateway(ctx context.Context, index int, addr netip.Addr) (gateway netip.Addr, ok bool, err error)

	SubscribeAddresses(ctx context.Context) (<-chan AddrChange, error)
	SubscribeLinks(ctx context.Context) (<-chan LinkChange, error)
	SubscribeRoutes(ctx context.Context) (<-chan RouteChange, error)
}

// ClassifyScope maps a parsed prefix to its netevd routing scope (spec.md
// §4.6 tie-breaks): IPv4 loopback and IPv6 link-local/loopback are
// link-local; IPv6 ULA is unique-local; everything else is global. The
// classification uses the address alone; the kernel's own scope tag is not
// consulted.
func ClassifyScope(prefix netip.Prefix) state.AddrScope {
	addr := prefix.Addr()
	switch {
	case addr.Is4() && addr.IsLoopback():
		return state.ScopeLinkLocal
	case addr.Is6() && (addr.IsLoopback() || addr.IsLinkLocalUnicast()):
		return state.ScopeLinkLocal
	case addr.Is6() && isUniqueLocal(addr):
		return state.ScopeUniqueLocal
	default:
		return state.ScopeGlobal
	}
}

// isUniqueLocal reports whether addr falls in fc00::/7.
func isUniqueLocal(addr netip.Addr) bool {
	if !addr.Is6() {
		return false
	}
	b := addr.As16()
	return b[0]&0xfe == 0xfc
}
