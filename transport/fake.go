package transport

import (
	"context"
	"sync"
)

// Fake is an in-memory Transport double for tests: it simulates a
// device's byte stream without a network connection, in the spirit of
// the fleet's mock driver for exercising session logic deterministically.
// Recv blocks until a chunk is available or ctx is done, matching the
// real transports' behavior so Session code under test can't busy-loop.
type Fake struct {
	mu           sync.Mutex
	sent         [][]byte
	closed       bool
	onSend       func(data []byte) [][]byte
	capabilities string

	chunks chan []byte
}

// NewFake builds a Fake transport. onSend, if non-nil, is invoked for
// every Send call and its return value is queued as the chunks Recv will
// hand back in order; this lets a test script a device's reply to each
// command. If onSend is nil, responses must be queued up front with
// QueueRecv.
func NewFake(onSend func(data []byte) [][]byte) *Fake {
	return &Fake{
		onSend: onSend,
		chunks: make(chan []byte, 256),
	}
}

// WithCapabilities sets the hello/capabilities string a NETCONF-aware
// caller observes via Capabilities, mimicking NETCONF.DialNetconf's
// capture of the server hello during dial. It returns f for chaining at
// the NewFake call site.
func (f *Fake) WithCapabilities(caps string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capabilities = caps
	return f
}

// Capabilities returns the hello/capabilities string set via
// WithCapabilities, satisfying transport.NetconfTransport so tests can
// drive a session through a scripted NETCONF double.
func (f *Fake) Capabilities() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capabilities
}

// QueueRecv appends chunks to be returned by future Recv calls, for
// tests that don't need per-command scripting.
func (f *Fake) QueueRecv(chunks ...[]byte) {
	for _, c := range chunks {
		f.chunks <- c
	}
}

// Sent returns every byte slice passed to Send, in order.
func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *Fake) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	f.mu.Unlock()

	if f.onSend != nil {
		f.QueueRecv(f.onSend(data)...)
	}
	return nil
}

func (f *Fake) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-f.chunks:
		return chunk, nil
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ Transport = (*Fake)(nil)
var _ NetconfTransport = (*Fake)(nil)
