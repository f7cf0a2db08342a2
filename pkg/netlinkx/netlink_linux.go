package netlinkx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"github.com/vishvananda/netlink"

	"github.com/cuemby/netevd/pkg/state"
)

// linuxClient is the production C3 implementation, backed by
// github.com/vishvananda/netlink.
type linuxClient struct{}

// NewLinuxClient returns a Client that talks to the running kernel's netlink
// socket. It requires CAP_NET_ADMIN for the mutating operations.
func NewLinuxClient() Client {
	return &linuxClient{}
}

func ipNetFromAddr(addr netip.Addr) *net.IPNet {
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	ip := net.IP(addr.AsSlice())
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

func ipNetFromPrefix(p netip.Prefix) *net.IPNet {
	ip := net.IP(p.Addr().AsSlice())
	bits := 32
	if p.Addr().Is6() {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(p.Bits(), bits)}
}

func family(addr netip.Addr) int {
	if addr.Is4() {
		return netlink.FAMILY_V4
	}
	return netlink.FAMILY_V6
}

func (c *linuxClient) AddRoute(ctx context.Context, r state.Route) error {
	nr := &netlink.Route{
		LinkIndex: r.OutIndex,
		Table:     r.Table,
		Priority:  r.Metric,
	}
	if r.Destination.IsValid() && r.Destination.Bits() > 0 {
		nr.Dst = ipNetFromPrefix(r.Destination)
	}
	if r.Gateway.IsValid() {
		nr.Gw = net.IP(r.Gateway.AsSlice())
	}
	// RouteReplace upserts: a second call for the same route is a no-op,
	// satisfying the "already exists is success" tolerance of spec.md §4.3.
	if err := netlink.RouteReplace(nr); err != nil {
		return fmt.Errorf("netlinkx: add route table=%d dev=%d: %w", r.Table, r.OutIndex, err)
	}
	return nil
}

func (c *linuxClient) RemoveRoute(ctx context.Context, index, table int, destination netip.Prefix) error {
	nr := &netlink.Route{LinkIndex: index, Table: table}
	if destination.IsValid() && destination.Bits() > 0 {
		nr.Dst = ipNetFromPrefix(destination)
	}
	if err := netlink.RouteDel(nr); err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("netlinkx: remove route table=%d dev=%d: %w", table, index, err)
	}
	return nil
}

func (c *linuxClient) AddRule(ctx context.Context, addr netip.Addr, dir state.Direction, table, priority int) error {
	rule := netlink.NewRule()
	rule.Table = table
	rule.Priority = priority
	rule.Family = family(addr)
	if dir == state.DirectionFrom {
		rule.Src = ipNetFromAddr(addr)
	} else {
		rule.Dst = ipNetFromAddr(addr)
	}
	if err := netlink.RuleAdd(rule); err != nil {
		if isExists(err) {
			return nil
		}
		return fmt.Errorf("netlinkx: add %s rule for %s table=%d: %w", dir, addr, table, err)
	}
	return nil
}

func (c *linuxClient) RemoveRule(ctx context.Context, addr netip.Addr, dir state.Direction, table int) error {
	rule := netlink.NewRule()
	rule.Table = table
	rule.Family = family(addr)
	if dir == state.DirectionFrom {
		rule.Src = ipNetFromAddr(addr)
	} else {
		rule.Dst = ipNetFromAddr(addr)
	}
	if err := netlink.RuleDel(rule); err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("netlinkx: remove %s rule for %s table=%d: %w", dir, addr, table, err)
	}
	return nil
}

func (c *linuxClient) ListAddresses(ctx context.Context, index int) ([]AddrEntry, error) {
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return nil, fmt.Errorf("netlinkx: lookup link %d: %w", index, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("netlinkx: list addresses on %d: %w", index, err)
	}
	out := make([]AddrEntry, 0, len(addrs))
	for _, a := range addrs {
		prefix, ok := toPrefix(a.IPNet)
		if !ok {
			continue
		}
		out = append(out, AddrEntry{Prefix: prefix, Scope: ClassifyScope(prefix)})
	}
	return out, nil
}

func (c *linuxClient) ListLinks(ctx context.Context) ([]LinkEntry, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlinkx: list links: %w", err)
	}
	out := make([]LinkEntry, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		out = append(out, LinkEntry{Index: attrs.Index, Name: attrs.Name})
	}
	return out, nil
}

func (c *linuxClient) DefaultGateway(ctx context.Context, index int, addr netip.Addr) (netip.Addr, bool, error) {
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("netlinkx: lookup link %d: %w", index, err)
	}
	routes, err := netlink.RouteList(link, family(addr))
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("netlinkx: list routes on %d: %w", index, err)
	}
	for _, r := range routes {
		if r.Dst == nil && r.Gw != nil {
			gw, ok := netip.AddrFromSlice(r.Gw)
			if !ok {
				continue
			}
			return gw.Unmap(), true, nil
		}
	}
	return netip.Addr{}, false, nil
}

func (c *linuxClient) SubscribeAddresses(ctx context.Context) (<-chan AddrChange, error) {
	updates := make(chan netlink.AddrUpdate)
	done := doneChan(ctx)
	if err := netlink.AddrSubscribe(updates, done); err != nil {
		return nil, fmt.Errorf("netlinkx: subscribe addresses: %w", err)
	}

	out := make(chan AddrChange)
	go func() {
		defer close(out)
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				prefix, ok := toPrefix(&u.LinkAddress)
				if !ok {
					continue
				}
				kind := Removed
				if u.NewAddr {
					kind = Added
				}
				change := AddrChange{
					Index:  u.LinkIndex,
					Prefix: prefix,
					Scope:  ClassifyScope(prefix),
					Kind:   kind,
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *linuxClient) SubscribeLinks(ctx context.Context) (<-chan LinkChange, error) {
	updates := make(chan netlink.LinkUpdate)
	done := doneChan(ctx)
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return nil, fmt.Errorf("netlinkx: subscribe links: %w", err)
	}

	out := make(chan LinkChange)
	go func() {
		defer close(out)
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				kind := Added
				if u.Header.Type == syscall.RTM_DELLINK {
					kind = Removed
				}
				change := LinkChange{
					Index: int(u.Index),
					Name:  u.Attrs().Name,
					Kind:  kind,
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *linuxClient) SubscribeRoutes(ctx context.Context) (<-chan RouteChange, error) {
	updates := make(chan netlink.RouteUpdate)
	done := doneChan(ctx)
	if err := netlink.RouteSubscribe(updates, done); err != nil {
		return nil, fmt.Errorf("netlinkx: subscribe routes: %w", err)
	}

	out := make(chan RouteChange)
	go func() {
		defer close(out)
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				kind := Added
				if u.Type == syscall.RTM_DELROUTE {
					kind = Removed
				}
				var dst netip.Prefix
				if u.Route.Dst != nil {
					dst, _ = toPrefix(u.Route.Dst)
				}
				name := ""
				if link, err := netlink.LinkByIndex(u.Route.LinkIndex); err == nil {
					name = link.Attrs().Name
				}
				change := RouteChange{
					OutIndex:    u.Route.LinkIndex,
					OutName:     name,
					Destination: dst,
					Kind:        kind,
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// doneChan bridges a context.Context cancellation into the chan struct{}
// shape vishvananda/netlink's Subscribe functions expect.
func doneChan(ctx context.Context) chan struct{} {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	return done
}

func toPrefix(ipnet *net.IPNet) (netip.Prefix, bool) {
	if ipnet == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(ipnet.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	ones, _ := ipnet.Mask.Size()
	return netip.PrefixFrom(addr, ones), true
}

func isExists(err error) bool {
	return errors.Is(err, syscall.EEXIST)
}

func isNotExist(err error) bool {
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.EINVAL)
}
