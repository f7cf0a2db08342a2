/*
Package networkd implements C7 variant (a): the routing-manager
(systemd-networkd) listener. It subscribes to link property-change signals
on the system message bus, re-reads each link's structured state file, and
emits a normalized hookdispatch.Event.
*/
package networkd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/cuemby/netevd/pkg/hookdispatch"
	"github.com/cuemby/netevd/pkg/netlinkx"
	"github.com/cuemby/netevd/pkg/signal"
	"github.com/cuemby/netevd/pkg/state"
	"github.com/cuemby/netevd/pkg/validate"
)

const (
	busName        = "org.freedesktop.network1"
	linkInterface  = "org.freedesktop.network1.Link"
	propsInterface = "org.freedesktop.DBus.Properties"
)

// stateTagsByAdminState maps the routing manager's AdministrativeState
// property to netevd's closed state-tag set.
var stateTagsByAdminState = map[string]validate.StateTag{
	"configuring": validate.StateDegraded,
	"configured":  validate.StateConfigured,
	"degraded":    validate.StateDegraded,
	"failed":      validate.StateDegraded,
}

// stateTagsByOperState maps OperationalState, consulted when
// AdministrativeState doesn't resolve a tag.
var stateTagsByOperState = map[string]validate.StateTag{
	"carrier":  validate.StateCarrier,
	"degraded": validate.StateDegraded,
	"routable": validate.StateRoutable,
}

// Listener implements signal.Listener for the systemd-networkd backend.
type Listener struct {
	Client   netlinkx.Client
	StateDir string // default /run/systemd/netif/links
	EmitJSON bool
	Log      zerolog.Logger
}

var _ signal.Listener = (*Listener)(nil)

// Run subscribes to PropertiesChanged on org.freedesktop.network1.Link
// objects and feeds derived events to sink until ctx is done.
func (l *Listener) Run(ctx context.Context, sink signal.EventSink) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("networkd: connect system bus: %w", err)
	}

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='PropertiesChanged',sender='%s'", propsInterface, busName)
	if call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, matchRule); call.Err != nil {
		return fmt.Errorf("networkd: add match: %w", call.Err)
	}

	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("networkd: signal channel closed")
			}
			l.handleSignal(ctx, sig, sink)
		}
	}
}

func (l *Listener) handleSignal(ctx context.Context, sig *dbus.Signal, sink signal.EventSink) {
	index, ok := indexFromPath(sig.Path)
	if !ok {
		return
	}

	desc, err := l.readLinkState(index)
	if err != nil {
		l.Log.Warn().Err(err).Int("index", index).Msg("read link state file")
		return
	}

	name := desc["NAME"]
	if err := validate.InterfaceName(name); err != nil {
		l.Log.Warn().Err(err).Int("index", index).Msg("invalid interface name in link state file")
		return
	}

	tag, ok := deriveStateTag(desc)
	if !ok {
		return
	}

	addrs, err := l.Client.ListAddresses(ctx, index)
	if err != nil {
		l.Log.Warn().Err(err).Str("link", name).Msg("list addresses")
		addrs = nil
	}

	var addresses []string
	for _, a := range addrs {
		if a.Scope == state.ScopeGlobal {
			addresses = append(addresses, a.Prefix.Addr().String())
		}
	}

	payload := map[string]string{}
	if l.EmitJSON {
		if j, err := json.Marshal(desc); err == nil {
			payload["JSON"] = string(j)
		}
	}

	sink.Dispatch(ctx, hookdispatch.Event{
		LinkName:  name,
		LinkIndex: index,
		State:     tag,
		Backend:   "systemd-networkd",
		Addresses: addresses,
		Payload:   payload,
	})
}

func deriveStateTag(desc map[string]string) (validate.StateTag, bool) {
	if tag, ok := stateTagsByAdminState[desc["ADMIN_STATE"]]; ok {
		return tag, true
	}
	if tag, ok := stateTagsByOperState[desc["OPER_STATE"]]; ok {
		return tag, true
	}
	return "", false
}

// readLinkState reads and validates the per-index, line-delimited
// key/value structured state file systemd-networkd maintains.
func (l *Listener) readLinkState(index int) (map[string]string, error) {
	dir := l.StateDir
	if dir == "" {
		dir = "/run/systemd/netif/links"
	}
	path := filepath.Join(dir, strconv.Itoa(index))

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out, scanner.Err()
}

// indexFromPath extracts the trailing numeric link index from a
// /org/freedesktop/network1/link/_NN object path.
func indexFromPath(path dbus.ObjectPath) (int, bool) {
	s := string(path)
	idx := strings.LastIndex(s, "/_")
	if idx == -1 {
		return 0, false
	}
	n, err := strconv.Atoi(s[idx+2:])
	if err != nil {
		return 0, false
	}
	return n, true
}
