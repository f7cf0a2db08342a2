package dhclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/netevd/pkg/hookdispatch"
	"github.com/cuemby/netevd/pkg/validate"
)

type recordingSink struct {
	events []hookdispatch.Event
}

func (r *recordingSink) Dispatch(ctx context.Context, ev hookdispatch.Event) {
	r.events = append(r.events, ev)
}

func TestEmitBuildsRoutableEventWithDHCPPayload(t *testing.T) {
	l := &Listener{indexOf: func(name string) int { return 3 }}
	sink := &recordingSink{}

	l.emit(context.Background(), Lease{
		Interface: "eth0",
		Address:   "10.0.0.5",
		Gateway:   "10.0.0.1",
		DNS:       []string{"8.8.8.8"},
		Domain:    "example.com",
		Hostname:  "workstation",
	}, sink)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "eth0", ev.LinkName)
	assert.Equal(t, 3, ev.LinkIndex)
	assert.Equal(t, validate.StateRoutable, ev.State)
	assert.Equal(t, []string{"10.0.0.5"}, ev.Addresses)
	assert.Equal(t, "10.0.0.5", ev.Payload["DHCP_ADDRESS"])
	assert.Equal(t, "10.0.0.1", ev.Payload["DHCP_GATEWAY"])
	assert.Equal(t, "8.8.8.8", ev.Payload["DHCP_DNS"])
	assert.Equal(t, "example.com", ev.Payload["DHCP_DOMAIN"])
	assert.Equal(t, "workstation", ev.Payload["DHCP_HOSTNAME"])
}

func TestEmitRejectsInvalidInterfaceName(t *testing.T) {
	l := &Listener{}
	sink := &recordingSink{}

	l.emit(context.Background(), Lease{Interface: "eth0; rm -rf /", Address: "10.0.0.5"}, sink)
	assert.Empty(t, sink.events)
}
