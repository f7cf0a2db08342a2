/*
Package signal declares netevd's C7 contract: exactly one listener variant
runs at a time, selected by configuration's system.backend, and every
variant feeds the same normalized event shape into the hook dispatcher
(C8). The three concrete variants live in the networkd, nm, and dhclient
subpackages.
*/
package signal

import (
	"context"

	"github.com/cuemby/netevd/pkg/hookdispatch"
)

// EventSink receives normalized events produced by a Listener. The
// production implementation is *hookdispatch.Dispatcher.
type EventSink interface {
	Dispatch(ctx context.Context, ev hookdispatch.Event)
}

// Listener is one C7 variant. Run blocks, feeding events to sink, until ctx
// is cancelled or the underlying subscription fails.
type Listener interface {
	Run(ctx context.Context, sink EventSink) error
}
