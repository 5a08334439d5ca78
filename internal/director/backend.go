package director

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/christianparpart/x0-sub000/internal/breaker"
	"github.com/christianparpart/x0-sub000/internal/obs"
)

// Role is a backend's membership in its pool's scheduling policy (spec §4.1).
type Role int

const (
	// RoleActive participates in normal load distribution.
	RoleActive Role = iota
	// RoleBackup only receives traffic once every active backend is
	// Offline or at capacity.
	RoleBackup
	// RoleTerminate drains in-flight requests but accepts no new ones.
	RoleTerminate
)

func (r Role) String() string {
	switch r {
	case RoleBackup:
		return "backup"
	case RoleTerminate:
		return "terminate"
	default:
		return "active"
	}
}

// Backend is one upstream origin: a capacity limit, a health monitor and a
// circuit breaker guarding the fast admission path (spec §4.1, §4.3).
type Backend struct {
	name     string
	role     Role
	capacity int
	enabled  bool

	load    int64 // atomic: requests currently assigned to this backend
	breaker *breaker.CircuitBreaker
	health  *HealthMonitor

	transport Transport
}

// NewBackend constructs a backend bound to the given transport. capacity
// <= 0 means unlimited concurrency ("RoadWarrior capacity-0 passthrough",
// spec §3 supplemented feature).
func NewBackend(name string, role Role, capacity int, transport Transport) *Backend {
	return &Backend{
		name:      name,
		role:      role,
		capacity:  capacity,
		enabled:   true,
		transport: transport,
		breaker:   breaker.New(10*time.Second, 5*time.Second, 0.5, 5),
	}
}

// AttachHealthMonitor wires a HealthMonitor into this backend. Called once
// during cluster construction.
func (b *Backend) AttachHealthMonitor(hm *HealthMonitor) { b.health = hm }

func (b *Backend) Name() string      { return b.name }
func (b *Backend) Role() Role        { return b.role }
func (b *Backend) Capacity() int     { return b.capacity }
func (b *Backend) Enabled() bool     { return b.enabled }
func (b *Backend) SetEnabled(v bool) { b.enabled = v }

// Transport exposes the backend's wire transport so a Prober can reach the
// same origin a live request would (spec §4.3 active health checks run
// against the same backend, not a separate side channel).
func (b *Backend) Transport() Transport { return b.transport }

// RunHealthMonitor runs the attached HealthMonitor's probe loop until ctx is
// canceled. A no-op if no monitor was attached.
func (b *Backend) RunHealthMonitor(ctx context.Context) {
	if b.health != nil {
		b.health.Run(ctx)
	}
}

func (b *Backend) inflight() int64 { return atomic.LoadInt64(&b.load) }

// HealthState reports the backend's current health, Undefined if no
// monitor has been attached yet.
func (b *Backend) HealthState() HealthState {
	if b.health == nil {
		return Undefined
	}
	return b.health.State()
}

// acceptsNewRequest reports whether this backend may currently be chosen
// by a scheduling policy: enabled, not draining, under capacity (or
// unlimited), healthy enough, and not circuit-broken.
func (b *Backend) acceptsNewRequest() bool {
	if !b.enabled || b.role == RoleTerminate {
		return false
	}
	if b.capacity > 0 && b.inflight() >= int64(b.capacity) {
		return false
	}
	if b.HealthState() == Offline {
		return false
	}
	if !b.breaker.Allow() {
		return false
	}
	return true
}

// Outcome is the result of an admission attempt against one backend
// (spec §4.1, §8: "tryProcess Success admissions == release+reject
// callbacks").
type Outcome int

const (
	// Unavailable means the backend refused admission outright (role,
	// disabled, offline, breaker open); done is never called.
	Unavailable Outcome = iota
	// Overloaded means the backend is at capacity right now; done is
	// never called. Distinct from Unavailable so a caller can choose to
	// retry the same backend later rather than marking it down.
	Overloaded
	// Success means the backend accepted the request and is processing
	// it; done will be called exactly once with the transport's result.
	Success
)

func (o Outcome) String() string {
	switch o {
	case Overloaded:
		return "overloaded"
	case Success:
		return "success"
	default:
		return "unavailable"
	}
}

// tryProcess attempts to admit req onto this backend. The admission
// check itself is synchronous and fast (role, enabled, health, breaker,
// capacity); it never blocks on the network. On Success, the transport
// round trip runs on its own goroutine and done is invoked exactly once
// when it completes — the caller never blocks a worker waiting for an
// upstream response (spec §5). On any other outcome done is never
// called.
func (b *Backend) tryProcess(ctx context.Context, req Request, notes *RequestNotes, done func(err error)) Outcome {
	if !b.acceptsNewRequest() {
		if b.capacity > 0 && b.inflight() >= int64(b.capacity) {
			return Overloaded
		}
		return Unavailable
	}

	atomic.AddInt64(&b.load, 1)
	obs.BackendLoad.WithLabelValues(b.name).Set(float64(atomic.LoadInt64(&b.load)))
	notes.backend = b
	notes.tryCount++

	go func() {
		err := b.transport.Process(ctx, req, b)

		atomic.AddInt64(&b.load, -1)
		obs.BackendLoad.WithLabelValues(b.name).Set(float64(atomic.LoadInt64(&b.load)))

		b.breaker.Record(err == nil)
		done(err)
	}()

	return Success
}
