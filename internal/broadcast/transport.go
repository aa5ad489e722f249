// Package broadcast carries session-change notifications between tabs of one
// origin. A Bus fans a publish out to a primary pub/sub transport and a
// fallback transport, and delivers what other tabs publish exactly once per
// envelope ID.
package broadcast

import "context"

// Handler receives envelopes from a transport. Transports call it from their
// own goroutine and must not call it concurrently for one subscription.
type Handler func(Envelope)

// Transport is a best-effort origin-scoped pub/sub channel.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers envelopes until stop is called or ctx is done.
	Subscribe(ctx context.Context, h Handler) (stop func(), err error)
}
