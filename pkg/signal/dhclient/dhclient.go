/*
Package dhclient implements C7 variant (c): the lease-file listener. It
watches the ISC dhclient lease file for modifications via the OS's
file-system change notification, reparses it, and emits one event per
interface that has a lease in the file.
*/
package dhclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/cuemby/netevd/pkg/hookdispatch"
	"github.com/cuemby/netevd/pkg/signal"
	"github.com/cuemby/netevd/pkg/validate"
)

const (
	resolve1BusName = "org.freedesktop.resolve1"
	resolve1Path    = "/org/freedesktop/resolve1"
	resolve1Manager = "org.freedesktop.resolve1.Manager"

	hostname1BusName = "org.freedesktop.hostname1"
	hostname1Path    = "/org/freedesktop/hostname1"
	hostname1Iface   = "org.freedesktop.hostname1"
)

// Listener implements signal.Listener for the dhclient backend.
type Listener struct {
	LeaseFile   string // default /var/lib/dhclient/dhclient.leases
	UseDNS      bool
	UseDomain   bool
	UseHostname bool
	Log         zerolog.Logger

	// indexOf resolves an interface name to its kernel index for the
	// event; overridden in tests.
	indexOf func(name string) int
}

var _ signal.Listener = (*Listener)(nil)

// Run parses the lease file once at start and again on every write or
// create, each time feeding one event per interface found in the file to
// sink (whether or not that interface's lease changed), until ctx is done or
// the watch fails.
func (l *Listener) Run(ctx context.Context, sink signal.EventSink) error {
	path := l.LeaseFile
	if path == "" {
		path = "/var/lib/dhclient/dhclient.leases"
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dhclient: new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("dhclient: watch %s: %w", path, err)
	}

	l.processLeaseFile(ctx, path, sink)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("dhclient: watch channel closed")
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				l.processLeaseFile(ctx, path, sink)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("dhclient: error channel closed")
			}
			l.Log.Warn().Err(err).Msg("lease file watch error")
		}
	}
}

func (l *Listener) processLeaseFile(ctx context.Context, path string, sink signal.EventSink) {
	f, err := os.Open(path)
	if err != nil {
		l.Log.Warn().Err(err).Str("path", path).Msg("open lease file")
		return
	}
	defer f.Close()

	leases := ParseLeases(bufio.NewScanner(f))
	for _, lease := range leases {
		l.emit(ctx, lease, sink)
	}
}

func (l *Listener) emit(ctx context.Context, lease Lease, sink signal.EventSink) {
	if err := validate.InterfaceName(lease.Interface); err != nil {
		l.Log.Warn().Err(err).Str("lease_interface", lease.Interface).Msg("invalid interface name in lease")
		return
	}

	payload := map[string]string{}
	var addresses []string
	if lease.Address != "" {
		if err := validateOptional(&payload, "DHCP_ADDRESS", lease.Address); err == nil {
			addresses = append(addresses, lease.Address)
		}
	}
	_ = validateOptional(&payload, "DHCP_GATEWAY", lease.Gateway)
	if len(lease.DNS) > 0 {
		_ = validateOptional(&payload, "DHCP_DNS", joinSpace(lease.DNS))
	}
	_ = validateOptional(&payload, "DHCP_DOMAIN", lease.Domain)
	_ = validateOptional(&payload, "DHCP_HOSTNAME", lease.Hostname)

	resolve := l.indexOf
	if resolve == nil {
		resolve = defaultIndexOf
	}
	index := resolve(lease.Interface)

	sink.Dispatch(ctx, hookdispatch.Event{
		LinkName:  lease.Interface,
		LinkIndex: index,
		State:     validate.StateRoutable,
		Backend:   "dhclient",
		Addresses: addresses,
		Payload:   payload,
	})

	if l.UseDNS && len(lease.DNS) > 0 {
		l.registerDNS(lease, index)
	}
	if l.UseDomain && lease.Domain != "" {
		l.registerDomain(lease, index)
	}
	if l.UseHostname && lease.Hostname != "" {
		l.setHostname(lease)
	}
}

// defaultIndexOf resolves an interface name to its kernel index via the
// standard library, the way pkg/signal/nm's resolveDeviceName does.
func defaultIndexOf(name string) int {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0
	}
	return iface.Index
}

// validateOptional sets key in payload when value is non-empty and passes
// C1's environment-value validator; it is a no-op (not an error) for an
// empty value, since most lease fields are optional.
func validateOptional(payload *map[string]string, key, value string) error {
	if value == "" {
		return nil
	}
	if err := validate.EnvValue(value); err != nil {
		return err
	}
	(*payload)[key] = value
	return nil
}

func joinSpace(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

// dnsAddress is resolve1's wire representation of one DNS server: an
// AF_INET/AF_INET6 family tag plus the raw address bytes.
type dnsAddress struct {
	Family  int32
	Address []byte
}

func dnsAddressesFromStrings(servers []string) []dnsAddress {
	out := make([]dnsAddress, 0, len(servers))
	for _, s := range servers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		if addr.Is4() {
			b := addr.As4()
			out = append(out, dnsAddress{Family: unixAFInet, Address: b[:]})
		} else {
			b := addr.As16()
			out = append(out, dnsAddress{Family: unixAFInet6, Address: b[:]})
		}
	}
	return out
}

const (
	unixAFInet  = 2
	unixAFInet6 = 10
)

// registerDNS forwards the lease's DNS server list to the name-resolution
// service over the message bus (backends.dhclient.use_dns).
func (l *Listener) registerDNS(lease Lease, index int) {
	addrs := dnsAddressesFromStrings(lease.DNS)
	if len(addrs) == 0 {
		return
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		l.Log.Warn().Err(err).Msg("connect system bus for DNS registration")
		return
	}
	obj := conn.Object(resolve1BusName, resolve1Path)

	if err := obj.Call(resolve1Manager+".SetLinkDNS", 0, int32(index), addrs).Err; err != nil {
		l.Log.Warn().Err(err).Str("link", lease.Interface).Msg("register DNS servers with resolved")
	}
}

// registerDomain forwards the lease's search domain to the name-resolution
// service over the message bus (backends.dhclient.use_domain).
func (l *Listener) registerDomain(lease Lease, index int) {
	conn, err := dbus.SystemBus()
	if err != nil {
		l.Log.Warn().Err(err).Msg("connect system bus for domain registration")
		return
	}
	obj := conn.Object(resolve1BusName, resolve1Path)

	if err := obj.Call(resolve1Manager+".SetLinkDomains", 0, int32(index), []struct {
		Domain      string
		RoutingOnly bool
	}{{Domain: lease.Domain, RoutingOnly: false}}).Err; err != nil {
		l.Log.Warn().Err(err).Str("link", lease.Interface).Msg("register domain with resolved")
	}
}

// setHostname forwards the lease's hostname to the host-identity service
// (backends.dhclient.use_hostname).
func (l *Listener) setHostname(lease Lease) {
	conn, err := dbus.SystemBus()
	if err != nil {
		l.Log.Warn().Err(err).Msg("connect system bus for hostname registration")
		return
	}
	obj := conn.Object(hostname1BusName, hostname1Path)
	if err := obj.Call(hostname1Iface+".SetHostname", 0, lease.Hostname, false).Err; err != nil {
		l.Log.Warn().Err(err).Str("hostname", lease.Hostname).Msg("set hostname via hostname1")
	}
}
