package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScheduleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "director_schedule_total",
		Help: "Total number of schedule() calls by outcome",
	}, []string{"outcome"})

	BackendLoad = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "director_backend_load",
		Help: "Current concurrent requests assigned to a backend",
	}, []string{"backend"})

	BackendCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "director_backend_capacity",
		Help: "Configured capacity of a backend (0 = unbounded)",
	}, []string{"backend"})

	HealthState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "director_health_state",
		Help: "0 Undefined, 1 Offline, 2 Online",
	}, []string{"backend"})

	ShaperAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "director_shaper_available",
		Help: "Unallocated tokens on a shaper node",
	}, []string{"node"})

	ShaperActualRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "director_shaper_actual_rate",
		Help: "Tokens currently checked out on a shaper node, including borrowed ones",
	}, []string{"node"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "director_queue_depth",
		Help: "Number of requests currently queued at a shaper node",
	}, []string{"node"})

	QueueDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_queue_dropped_total",
		Help: "Total requests dropped with 503 because the queue was full; disabled-cluster and retry-exhausted 503s are not counted",
	})

	QueueTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_queue_timeout_total",
		Help: "Total requests that timed out while queued",
	})

	RetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_retry_total",
		Help: "Total failed backend attempts handed to reject(), including the final one when retries are exhausted",
	})

	CacheLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "director_cache_lookup_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_cache_hits_total",
		Help: "Total fresh (unexpired) cache hits served without an upstream build; stale serves are not counted here",
	})

	ClientAbortTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_client_abort_total",
		Help: "Total client disconnects observed on requests using the notify abort action",
	})
)

func init() {
	prometheus.MustRegister(
		ScheduleTotal, BackendLoad, BackendCapacity, HealthState,
		ShaperAvailable, ShaperActualRate, QueueDepth, QueueDroppedTotal,
		QueueTimeoutTotal, RetryTotal, CacheLookupTotal, CacheHitsTotal,
		ClientAbortTotal,
	)
}
