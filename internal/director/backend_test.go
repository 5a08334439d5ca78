package director

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubTransport struct {
	err error
}

func (s *stubTransport) Process(ctx context.Context, req Request, b *Backend) error {
	return s.err
}

func TestBackendCapacityZeroIsUnbounded(t *testing.T) {
	b := NewBackend("b1", RoleActive, 0, &stubTransport{})
	for i := 0; i < 1000; i++ {
		if !b.acceptsNewRequest() {
			t.Fatalf("expected unbounded capacity backend to always accept, failed at %d", i)
		}
	}
}

func TestBackendAcceptsFirstRequestUnderCapacity(t *testing.T) {
	b := NewBackend("b1", RoleActive, 1, &stubTransport{})
	notes := &RequestNotes{}
	done := make(chan error, 1)
	outcome := b.tryProcess(context.Background(), nil, notes, func(err error) { done <- err })
	if outcome != Success {
		t.Fatalf("expected first dispatch to be accepted, got %v", outcome)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error from stub transport, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for done callback")
	}
}

func TestBackendTerminateRoleRejectsNewRequests(t *testing.T) {
	b := NewBackend("b1", RoleTerminate, 10, &stubTransport{})
	if b.acceptsNewRequest() {
		t.Fatal("expected RoleTerminate backend to reject new requests")
	}
}

func TestBackendDisabledRejectsNewRequests(t *testing.T) {
	b := NewBackend("b1", RoleActive, 10, &stubTransport{})
	b.SetEnabled(false)
	if b.acceptsNewRequest() {
		t.Fatal("expected disabled backend to reject new requests")
	}
}

func TestBackendOfflineHealthRejectsNewRequests(t *testing.T) {
	b := NewBackend("b1", RoleActive, 10, &stubTransport{})
	hm := NewHealthMonitor(b, Lazy, 0, 1, false, nil)
	b.AttachHealthMonitor(hm)
	hm.RecordProbe(false)
	if b.acceptsNewRequest() {
		t.Fatal("expected offline backend to reject new requests")
	}
}

func TestBackendTryProcessRecordsBreakerFailures(t *testing.T) {
	b := NewBackend("b1", RoleActive, 10, &stubTransport{err: errors.New("boom")})
	// The backend's breaker opens after 5 samples (minSamples) at a 100%
	// failure rate; once open, tryProcess is Unavailable and done never runs.
	for i := 0; i < 5; i++ {
		notes := &RequestNotes{}
		done := make(chan error, 1)
		b.tryProcess(context.Background(), nil, notes, func(err error) { done <- err })
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for done callback")
		}
	}
	if b.breaker.Allow() {
		t.Fatal("expected breaker to open after repeated failures")
	}
}
