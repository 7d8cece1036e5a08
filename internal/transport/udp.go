package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
)

// maxDatagramSize comfortably exceeds the largest JSON telemetry record.
const maxDatagramSize = 8192

// UDPFeed receives raw telemetry payloads as UDP datagrams. The vehicle's
// radio gateway forwards one message per datagram; channel names select the
// local listen address at construction time, so the channel argument to
// Subscribe is informational only.
type UDPFeed struct {
	conn *net.UDPConn

	mu     sync.Mutex
	closed bool
}

// NewUDPFeed binds a listener on addr (e.g. ":9700").
func NewUDPFeed(addr string) (*UDPFeed, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve feed address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &UDPFeed{conn: conn}, nil
}

// Subscribe starts the datagram read loop. Each datagram is handed to h
// unmodified. The loop ends when ctx is cancelled or the feed is closed.
func (f *UDPFeed) Subscribe(ctx context.Context, channel string, h Handler) error {
	go func() {
		monitoring.Logf("udp feed: receiving %s on %s", channel, f.conn.LocalAddr())
		buf := make([]byte, maxDatagramSize)
		for {
			if ctx.Err() != nil {
				return
			}
			// Short deadline so context cancellation is noticed promptly.
			f.conn.SetReadDeadline(time.Now().Add(time.Second))
			n, _, err := f.conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				if f.isClosed() || ctx.Err() != nil {
					return
				}
				monitoring.Logf("udp feed: read error: %v", err)
				continue
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			h(payload)
		}
	}()
	return nil
}

func (f *UDPFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close shuts down the listener; the read loop exits on the next read.
func (f *UDPFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.conn.Close()
}

// UDPPublisher sends payloads as UDP datagrams to a fixed downstream
// address, one datagram per sample.
type UDPPublisher struct {
	conn *net.UDPConn
	addr string
}

// NewUDPPublisher dials the downstream consumer at addr.
func NewUDPPublisher(addr string) (*UDPPublisher, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve publish address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &UDPPublisher{conn: conn, addr: addr}, nil
}

// Publish writes one datagram. The channel name is carried for symmetry
// with richer transports; UDP consumers are address-scoped.
func (p *UDPPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		p.conn.SetWriteDeadline(deadline)
	} else {
		p.conn.SetWriteDeadline(time.Now().Add(time.Second))
	}
	if _, err := p.conn.Write(payload); err != nil {
		return fmt.Errorf("publish to %s: %w", p.addr, err)
	}
	return nil
}

// Close shuts down the connection.
func (p *UDPPublisher) Close() error {
	return p.conn.Close()
}
