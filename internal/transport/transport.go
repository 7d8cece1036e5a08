// Package transport defines the push-transport capabilities the bridge
// depends on and provides three implementations: a UDP datagram feed, a
// line-oriented serial feed, and an in-process loopback for tests and mock
// mode. Connect/retry semantics beyond these contracts belong to the
// transport, not the bridge.
package transport

import "context"

// Handler receives one raw payload from the push transport. Implementations
// must not panic into the transport; the bridge catches, logs, and counts
// all per-message failures itself.
type Handler func(payload []byte)

// Subscriber delivers raw payloads from a named channel to a handler.
// Subscribe registers the handler and returns; delivery continues until the
// context is cancelled or the subscriber is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, h Handler) error
	Close() error
}

// Publisher sends a payload to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}
