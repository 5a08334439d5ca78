package director

import (
	"sync"
)

// SchedulePolicy chooses the next backend to try from a pool (spec §4.1).
type SchedulePolicy interface {
	// Next returns the next candidate backend, or nil if every backend in
	// the pool currently refuses new requests.
	Next(pool *BackendPool) *Backend
}

// BackendPool groups a cluster's backends and applies a scheduling policy
// across the active role before falling back to backup role backends
// (spec §4.1: "backup only receives traffic once every active backend is
// offline or at capacity").
type BackendPool struct {
	mu       sync.Mutex
	backends []*Backend
	policy   SchedulePolicy
}

// NewBackendPool constructs an empty pool using policy.
func NewBackendPool(policy SchedulePolicy) *BackendPool {
	return &BackendPool{policy: policy}
}

// Add registers a backend with the pool.
func (p *BackendPool) Add(b *Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends = append(p.backends, b)
}

// Backends returns a snapshot of the pool's members.
func (p *BackendPool) Backends() []*Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Backend, len(p.backends))
	copy(out, p.backends)
	return out
}

// Find returns the backend registered under name, or nil.
func (p *BackendPool) Find(name string) *Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

// next picks a candidate backend honoring the active-before-backup rule.
func (p *BackendPool) next() *Backend {
	if b := p.policy.Next(p.withRole(RoleActive)); b != nil {
		return b
	}
	return p.policy.Next(p.withRole(RoleBackup))
}

// withRole returns a throwaway pool view restricted to one role, so the
// policy implementations stay ignorant of the active/backup distinction.
func (p *BackendPool) withRole(role Role) *BackendPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	filtered := &BackendPool{policy: p.policy}
	for _, b := range p.backends {
		if b.Role() == role {
			filtered.backends = append(filtered.backends, b)
		}
	}
	return filtered
}

// RoundRobinPolicy cycles through a pool's backends in registration
// order, skipping any that currently refuse new requests.
type RoundRobinPolicy struct {
	mu   sync.Mutex
	next int
}

func NewRoundRobinPolicy() *RoundRobinPolicy { return &RoundRobinPolicy{} }

func (p *RoundRobinPolicy) Next(pool *BackendPool) *Backend {
	backends := pool.Backends()
	if len(backends) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < len(backends); i++ {
		idx := (p.next + i) % len(backends)
		b := backends[idx]
		if b.acceptsNewRequest() {
			p.next = idx + 1
			return b
		}
	}
	p.next = (p.next + 1) % len(backends)
	return nil
}

// ChancePolicy scans the pool in storage order starting at index 0 on
// every call, returning the first eligible backend. Per spec §4.3 this
// is deliberately deterministic, "equivalent to round-robin starting at
// 0 each time" rather than a cursor that advances between calls — the
// distinguishing property from RoundRobinPolicy is that Chance never
// remembers where the last call left off.
type ChancePolicy struct{}

// NewChancePolicy constructs a Chance scheduling policy. seed is accepted
// for config-compatibility with callers that historically seeded a PRNG,
// but the policy's selection no longer depends on it.
func NewChancePolicy(seed int64) *ChancePolicy {
	return &ChancePolicy{}
}

func (p *ChancePolicy) Next(pool *BackendPool) *Backend {
	backends := pool.Backends()
	for _, b := range backends {
		if b.acceptsNewRequest() {
			return b
		}
	}
	return nil
}
