package director

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/christianparpart/x0-sub000/internal/obs"
)

// HealthState is the tri-state active health model from spec §4.3: a
// backend starts Undefined (never probed), becomes Online only after
// successThreshold consecutive successful probes, and drops to Offline on
// a single failed probe. Only probe outcomes change the state.
type HealthState int

const (
	Undefined HealthState = iota
	Offline
	Online
)

func (s HealthState) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "undefined"
	}
}

// HealthCheckMode controls how aggressively HealthMonitor probes a
// backend outside of live traffic (spec §4.3).
type HealthCheckMode int

const (
	// Paranoid probes on a fixed interval regardless of traffic.
	Paranoid HealthCheckMode = iota
	// Opportunistic probes only when live traffic is sparse, throttled by
	// a token bucket so a quiet backend isn't hammered with probes.
	Opportunistic
	// Lazy never probes proactively; Run returns at once and the state
	// changes only through explicit RecordProbe calls.
	Lazy
)

// Prober issues one health-check round trip to a backend and reports
// success. The real implementation lives in the HTTP/FastCGI transport;
// this package only consumes the interface (spec §6 transport contract).
type Prober interface {
	Probe(ctx context.Context, b *Backend) error
}

// HealthMonitor owns the hysteresis state machine for one backend. It is
// embedded in Backend rather than shared, since every backend probes and
// recovers independently.
type HealthMonitor struct {
	mu sync.Mutex

	mode              HealthCheckMode
	interval          time.Duration
	successThreshold  int
	stickyOffline     bool
	consecutiveOK     int
	state             HealthState
	limiter           *rate.Limiter
	prober            Prober
	backend           *Backend
	stop              chan struct{}
	stopOnce          sync.Once
}

// NewHealthMonitor constructs a monitor in the Undefined state.
func NewHealthMonitor(b *Backend, mode HealthCheckMode, interval time.Duration, successThreshold int, sticky bool, prober Prober) *HealthMonitor {
	if successThreshold < 1 {
		successThreshold = 1
	}
	hm := &HealthMonitor{
		mode:             mode,
		interval:         interval,
		successThreshold: successThreshold,
		stickyOffline:    sticky,
		state:            Undefined,
		prober:           prober,
		backend:          b,
		stop:             make(chan struct{}),
	}
	if mode == Opportunistic {
		hm.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return hm
}

// State returns the current health state.
func (hm *HealthMonitor) State() HealthState {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.state
}

// RecordProbe applies the outcome of an active health-check probe.
func (hm *HealthMonitor) RecordProbe(ok bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.apply(ok)
}

func (hm *HealthMonitor) apply(ok bool) {
	prev := hm.state
	if ok {
		hm.consecutiveOK++
		if hm.consecutiveOK >= hm.successThreshold {
			hm.state = Online
		}
	} else {
		hm.consecutiveOK = 0
		hm.state = Offline
	}
	if hm.state != prev {
		obs.HealthState.WithLabelValues(hm.backend.Name()).Set(float64(hm.state))
		// sticky-offline-mode: a backend that recovers from Offline stays
		// administratively disabled until an operator re-enables it,
		// rather than immediately rejoining the pool (spec §4.4, §8
		// scenario 6).
		if hm.stickyOffline && prev == Offline && hm.state == Online {
			hm.backend.SetEnabled(false)
		}
	}
}

// Run starts the background probe loop for Paranoid and Opportunistic
// modes. Lazy mode returns immediately; there is nothing to run.
func (hm *HealthMonitor) Run(ctx context.Context) {
	if hm.mode == Lazy || hm.prober == nil {
		return
	}
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hm.stop:
			return
		case <-ticker.C:
			hm.maybeProbe(ctx)
		}
	}
}

func (hm *HealthMonitor) maybeProbe(ctx context.Context) {
	if hm.mode == Opportunistic {
		if hm.backend.inflight() > 0 {
			return // live traffic is already exercising the backend
		}
		if !hm.limiter.Allow() {
			return
		}
	}
	err := hm.prober.Probe(ctx, hm.backend)
	hm.RecordProbe(err == nil)
}

// Stop terminates the background probe loop.
func (hm *HealthMonitor) Stop() {
	hm.stopOnce.Do(func() { close(hm.stop) })
}
