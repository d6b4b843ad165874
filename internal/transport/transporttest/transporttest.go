// Package transporttest provides a scripted in-memory Transporter for
// exercising the transfer engine without a network.
package transporttest

import (
	"context"
	"sync"

	"github.com/courierfs/courier/internal/transport"
)

// Fake is a Transporter that records every send and can be scripted to
// fail specific chunk indexes a fixed number of times. It also tracks the
// highest number of concurrently in-flight sends it has observed.
type Fake struct {
	mu sync.Mutex

	// failures maps chunk index to the number of times Send should fail
	// with a transport error before succeeding.
	failures map[int]int

	// Delay, when non-nil, is invoked inside Send while the send counts as
	// in-flight. Tests use it to hold sends open and observe concurrency.
	Delay func(ctx context.Context, req transport.ChunkRequest)

	sends         []transport.ChunkRequest
	inFlight      int
	maxInFlight   int
	bytesAccepted int64
}

var _ transport.Transporter = (*Fake)(nil)

// NewFake returns an empty fake that accepts every chunk.
func NewFake() *Fake {
	return &Fake{failures: make(map[int]int)}
}

// FailChunk scripts the fake to reject chunk index idx the next n times it
// is sent, with a 503 transport error.
func (f *Fake) FailChunk(idx, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[idx] = n
}

// Send implements transport.Transporter.
func (f *Fake) Send(ctx context.Context, req transport.ChunkRequest) (transport.Ack, error) {
	if err := ctx.Err(); err != nil {
		return transport.Ack{}, err
	}

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.sends = append(f.sends, req)
	delay := f.Delay
	f.mu.Unlock()

	if delay != nil {
		delay(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--

	if err := ctx.Err(); err != nil {
		return transport.Ack{}, err
	}

	if n := f.failures[req.ChunkIndex]; n > 0 {
		f.failures[req.ChunkIndex] = n - 1
		return transport.Ack{}, &transport.Error{Status: 503, Message: "scripted failure"}
	}

	f.bytesAccepted += int64(len(req.Data))
	return transport.Ack{OK: true}, nil
}

// SendCount returns the total number of Send calls observed.
func (f *Fake) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// SendsFor returns the number of Send calls for one chunk index.
func (f *Fake) SendsFor(idx int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sends {
		if s.ChunkIndex == idx {
			n++
		}
	}
	return n
}

// MaxInFlight returns the highest concurrent send count observed.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// BytesAccepted returns the total payload bytes acknowledged.
func (f *Fake) BytesAccepted() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bytesAccepted
}
