package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
)

// SerialFeed receives raw telemetry payloads as newline-delimited records
// from the vehicle's USB/serial radio bridge. One line is one payload.
type SerialFeed struct {
	port io.ReadWriteCloser
	name string
}

// NewSerialFeed opens a serial port at the given path. The radio bridge
// ships 115200 8N1.
func NewSerialFeed(path string) (*SerialFeed, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return &SerialFeed{port: port, name: path}, nil
}

// NewSerialFeedFromPort wraps an already-open port. Tests inject an
// in-memory pipe here.
func NewSerialFeedFromPort(name string, port io.ReadWriteCloser) *SerialFeed {
	return &SerialFeed{port: port, name: name}
}

// Subscribe starts the line scan loop. Scanning runs in its own goroutine
// so a blocking read cannot wedge cancellation: the scanner feeds a channel
// the dispatch loop selects on alongside ctx.
func (f *SerialFeed) Subscribe(ctx context.Context, channel string, h Handler) error {
	lineChan := make(chan []byte)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		scan := bufio.NewScanner(f.port)
		for scan.Scan() {
			line := make([]byte, len(scan.Bytes()))
			copy(line, scan.Bytes())
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	go func() {
		monitoring.Logf("serial feed: receiving %s on %s", channel, f.name)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-scanErrChan:
				monitoring.Logf("serial feed: scan error on %s: %v", f.name, err)
				return
			case line, ok := <-lineChan:
				if !ok {
					return
				}
				if len(line) == 0 {
					continue
				}
				h(line)
			}
		}
	}()
	return nil
}

// Close closes the underlying port; the scan loop exits on the next read.
func (f *SerialFeed) Close() error {
	return f.port.Close()
}
