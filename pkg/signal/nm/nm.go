/*
Package nm implements C7 variant (b): the connection-manager
(NetworkManager) listener. It subscribes to device state-change signals on
the system message bus and maps NetworkManager's device-state enumeration
onto netevd's state-tag set.
*/
package nm

import (
	"context"
	"fmt"
	"net"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/cuemby/netevd/pkg/hookdispatch"
	"github.com/cuemby/netevd/pkg/netlinkx"
	"github.com/cuemby/netevd/pkg/signal"
	"github.com/cuemby/netevd/pkg/state"
	"github.com/cuemby/netevd/pkg/validate"
)

const (
	busName   = "org.freedesktop.NetworkManager"
	devIface  = "org.freedesktop.NetworkManager.Device"
	signalMem = "StateChanged"
)

// NetworkManager device states, per org.freedesktop.NetworkManager.Device's
// NM_DEVICE_STATE enumeration.
const (
	nmStateUnavailable  = 20
	nmStateDisconnected = 30
	nmStatePrepare      = 40
	nmStateConfig       = 50
	nmStateIPConfig     = 70
	nmStateIPCheck      = 80
	nmStateSecondaries  = 90
	nmStateActivated    = 100
	nmStateDeactivating = 110
	nmStateFailed       = 120
)

// Listener implements signal.Listener for the NetworkManager backend.
type Listener struct {
	Client netlinkx.Client
	Log    zerolog.Logger

	// nameOf resolves a device object path to an interface name; overridden
	// in tests. In production it queries the Device.Interface property.
	nameOf func(conn *dbus.Conn, path dbus.ObjectPath) (string, int, error)
}

var _ signal.Listener = (*Listener)(nil)

// Run subscribes to StateChanged signals on NetworkManager device objects
// and feeds mapped events to sink until ctx is done.
func (l *Listener) Run(ctx context.Context, sink signal.EventSink) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("nm: connect system bus: %w", err)
	}

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='%s',sender='%s'", devIface, signalMem, busName)
	if call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, matchRule); call.Err != nil {
		return fmt.Errorf("nm: add match: %w", call.Err)
	}

	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)

	resolve := l.nameOf
	if resolve == nil {
		resolve = resolveDeviceName
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("nm: signal channel closed")
			}
			l.handleSignal(ctx, conn, sig, resolve, sink)
		}
	}
}

func (l *Listener) handleSignal(ctx context.Context, conn *dbus.Conn, sig *dbus.Signal, resolve func(*dbus.Conn, dbus.ObjectPath) (string, int, error), sink signal.EventSink) {
	if len(sig.Body) == 0 {
		return
	}
	newState, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}

	tag, ok := stateTag(newState)
	if !ok {
		return
	}

	name, index, err := resolve(conn, sig.Path)
	if err != nil {
		l.Log.Warn().Err(err).Str("path", string(sig.Path)).Msg("resolve device name")
		return
	}
	if err := validate.InterfaceName(name); err != nil {
		l.Log.Warn().Err(err).Msg("invalid interface name from NetworkManager")
		return
	}

	var addresses []string
	if l.Client != nil {
		addrs, err := l.Client.ListAddresses(ctx, index)
		if err != nil {
			l.Log.Warn().Err(err).Str("link", name).Msg("list addresses")
		}
		for _, a := range addrs {
			if a.Scope == state.ScopeGlobal {
				addresses = append(addresses, a.Prefix.Addr().String())
			}
		}
	}

	sink.Dispatch(ctx, hookdispatch.Event{
		LinkName:  name,
		LinkIndex: index,
		State:     tag,
		Backend:   "NetworkManager",
		Addresses: addresses,
	})
}

// stateTag maps NM_DEVICE_STATE to netevd's activated/disconnected/manager
// tags (spec.md §4.7 variant b).
func stateTag(nmState uint32) (validate.StateTag, bool) {
	switch nmState {
	case nmStateActivated:
		return validate.StateActivated, true
	case nmStateDisconnected, nmStateFailed, nmStateDeactivating, nmStateUnavailable:
		return validate.StateDisconnected, true
	case nmStatePrepare, nmStateConfig, nmStateIPConfig, nmStateIPCheck, nmStateSecondaries:
		return validate.StateManager, true
	default:
		return "", false
	}
}

// resolveDeviceName reads the device object's Interface property and maps
// it to a kernel ifindex via the standard library. NetworkManager's device
// object does not itself expose the ifindex, only the interface name.
func resolveDeviceName(conn *dbus.Conn, path dbus.ObjectPath) (string, int, error) {
	obj := conn.Object(busName, path)

	iface, err := obj.GetProperty(devIface + ".Interface")
	if err != nil {
		return "", 0, fmt.Errorf("read Interface property: %w", err)
	}
	name, ok := iface.Value().(string)
	if !ok {
		return "", 0, fmt.Errorf("Interface property is not a string")
	}

	link, err := net.InterfaceByName(name)
	if err != nil {
		return "", 0, fmt.Errorf("resolve ifindex for %s: %w", name, err)
	}
	return name, link.Index, nil
}
