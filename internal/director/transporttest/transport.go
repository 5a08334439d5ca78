// Package transporttest provides a scriptable director.Transport double
// for unit tests that don't want to stand up a real HTTP/FastCGI backend.
package transporttest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/christianparpart/x0-sub000/internal/director"
)

// Transport is a test double recording every Process call and replaying
// a scripted sequence of results (error or nil) in order. Once the
// script is exhausted it repeats the last entry.
type Transport struct {
	mu      sync.Mutex
	results []error
	calls   int64
	delay   func()
}

// New returns a transport that always succeeds.
func New() *Transport { return &Transport{} }

// WithResults scripts the sequence of results Process returns, one per call.
func (t *Transport) WithResults(results ...error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = results
	return t
}

// WithDelay runs fn synchronously before returning from Process, e.g. to
// simulate a slow backend in a test that asserts on timing.
func (t *Transport) WithDelay(fn func()) *Transport {
	t.delay = fn
	return t
}

// Calls reports how many times Process has been invoked.
func (t *Transport) Calls() int64 { return atomic.LoadInt64(&t.calls) }

func (t *Transport) Process(ctx context.Context, req director.Request, b *director.Backend) error {
	n := atomic.AddInt64(&t.calls, 1)
	if t.delay != nil {
		t.delay()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.results) == 0 {
		req.SetStatus(200)
		req.Finish()
		return nil
	}
	idx := int(n) - 1
	if idx >= len(t.results) {
		idx = len(t.results) - 1
	}
	// Only write and finish on success. A scripted failure leaves req
	// untouched, mirroring a real transport: the core decides whether to
	// retry against another backend or finish req itself (spec §4.1).
	if err := t.results[idx]; err != nil {
		return err
	}
	req.SetStatus(200)
	req.Finish()
	return nil
}
