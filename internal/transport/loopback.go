package transport

import (
	"context"
	"sync"
)

// Loopback is an in-process transport connecting publishers and subscribers
// by channel name. Delivery is synchronous in Publish. It backs mock mode
// and tests.
type Loopback struct {
	mu       sync.Mutex
	closed   bool
	handlers map[string][]registration
}

type registration struct {
	ctx context.Context
	h   Handler
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[string][]registration)}
}

// Subscribe registers h for payloads published on channel. The registration
// lapses when ctx is cancelled.
func (l *Loopback) Subscribe(ctx context.Context, channel string, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return context.Canceled
	}
	l.handlers[channel] = append(l.handlers[channel], registration{ctx: ctx, h: h})
	return nil
}

// Publish delivers payload to every live subscriber of channel.
func (l *Loopback) Publish(_ context.Context, channel string, payload []byte) error {
	l.mu.Lock()
	regs := make([]registration, len(l.handlers[channel]))
	copy(regs, l.handlers[channel])
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return context.Canceled
	}
	for _, r := range regs {
		if r.ctx.Err() != nil {
			continue
		}
		r.h(payload)
	}
	return nil
}

// Close drops all registrations. Publish and Subscribe fail afterwards.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = make(map[string][]registration)
	return nil
}
