package director

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/christianparpart/x0-sub000/internal/obs"
)

// methodPurge is the HTTP method used to evict a cached object (spec
// §4.5, §6). The stdlib does not define an http.MethodPurge constant.
const methodPurge = "PURGE"

// ClusterConfig carries the per-cluster knobs from configuration that
// Cluster needs at runtime (spec §4, §5).
type ClusterConfig struct {
	Name                 string
	Enabled              bool
	QueueLimit           int
	QueueTimeout         time.Duration
	MaxRetryCount        int
	OnClientAbort        ClientAbortAction
	EnqueueOnUnavailable bool
}

// pending is one request waiting on a shaper node's own FIFO for a
// token to free up (spec §4.2: per-node queues, not a global one).
type pending struct {
	req   Request
	notes *RequestNotes
}

// Cluster is the scheduling facade spec §4 describes: it owns the token
// shaper, the backend pool and the request queue, and drives the retry
// state machine bounding every request to maxRetryCount dispatch attempts.
//
// Cluster methods never block the calling goroutine on I/O; a request
// that cannot be dispatched immediately is queued and later resumed via
// Request.Post, and a dispatched request's upstream round trip runs on
// its own goroutine, with release/reject as its only two exits (spec
// §4.1, §5, §8: "tryProcess Success admissions == release+reject
// callbacks").
type Cluster struct {
	cfg    ClusterConfig
	shaper *TokenShaper
	pool   *BackendPool
	cache  *ObjectCache // nil when caching is disabled

	mu     sync.Mutex
	runCtx context.Context // background context resumed (queued) work runs under
}

// NewCluster wires a shaper and pool into a scheduling facade.
func NewCluster(cfg ClusterConfig, shaper *TokenShaper, pool *BackendPool) *Cluster {
	return &Cluster{
		cfg:    cfg,
		shaper: shaper,
		pool:   pool,
		runCtx: context.Background(),
	}
}

// AttachCache wires an optional response cache in front of backend
// dispatch (spec §4.5). Nil disables caching.
func (c *Cluster) AttachCache(cache *ObjectCache) { c.cache = cache }

// Schedule is the entry point for a freshly accepted request: acquire a
// shaper token for bucketName, then attempt dispatch. If no token or
// backend is immediately available the request is queued (bounded by
// queue-limit) and retried as capacity frees up, until queue-timeout.
// A PURGE request bypasses scheduling entirely and is handled against
// the object cache (spec §4.5).
func (c *Cluster) Schedule(ctx context.Context, req Request, bucketName string) error {
	if !c.cfg.Enabled {
		req.SetStatus(503)
		req.Finish()
		return ErrClusterDisabled
	}

	if req.Method() == methodPurge {
		return c.purge(ctx, req)
	}

	notes := notesFor(req, c)
	node, ok := c.shaper.Node(bucketName)
	if !ok {
		return ErrBucketNotFound
	}
	req.Header().Set("X-Director-Bucket", bucketName)

	if c.cache != nil {
		return c.cache.Serve(ctx, req, notes, func(ctx context.Context, r Request) error {
			return c.admitAndWait(ctx, r, notesFor(r, c), node)
		})
	}

	return c.admit(ctx, req, notes, node)
}

// ScheduleOn bypasses bucket/backend selection and dispatches directly
// against a named backend (spec §4.1 edge case: sticky/pinned requests).
// It makes exactly one attempt and never retries against a different
// backend: a refused admission returns ErrNoBackendAvailable and leaves
// req untouched, and a failed transport attempt finishes req with 502.
func (c *Cluster) ScheduleOn(ctx context.Context, req Request, backendName string) error {
	if !c.cfg.Enabled {
		req.SetStatus(503)
		req.Finish()
		return ErrClusterDisabled
	}
	b := c.pool.Find(backendName)
	if b == nil {
		return ErrBackendNotFound
	}
	notes := notesFor(req, c)
	req.Header().Set("X-Director-Backend", backendName)

	dctx := c.transportContext(ctx, req, notes)
	outcome := b.tryProcess(dctx, req, notes, func(err error) {
		if err == nil {
			req.Header().Set("Via", "1.1 director")
			c.release(req, notes)
			return
		}
		notes.finalize()
		req.Header().Set("Retry-After", "1")
		req.SetStatus(502)
		req.Finish()
	})
	if outcome != Success {
		notes.finalize()
		return ErrNoBackendAvailable
	}
	return nil
}

func (c *Cluster) admit(ctx context.Context, req Request, notes *RequestNotes, node *Node) error {
	if !node.get(notes) {
		return c.enqueue(req, notes, node)
	}
	c.dispatch(ctx, req, notes)
	return nil
}

// admitAndWait drives the same admission path as admit but blocks until
// req reaches a terminal outcome. The object cache is the only caller:
// a cache miss can only be stored once the upstream call behind it has
// actually finished, so its BuildFunc needs a synchronous result even
// though ordinary scheduling does not (spec §4.5).
func (c *Cluster) admitAndWait(ctx context.Context, req Request, notes *RequestNotes, node *Node) error {
	notes.waiter = make(chan error, 1)
	c.admit(ctx, req, notes, node)
	return <-notes.waiter
}

// signal delivers req's terminal result to admitAndWait's caller, if one
// is waiting. A no-op for ordinary (non-cache) requests.
func (c *Cluster) signal(notes *RequestNotes, err error) {
	if notes.waiter != nil {
		notes.waiter <- err
		close(notes.waiter)
		notes.waiter = nil
	}
}

// dispatch tries backends from the pool against req. Admission is
// synchronous and fast; once a backend accepts the request its upstream
// round trip runs on its own goroutine and dispatch returns immediately
// — it never blocks a worker waiting on I/O (spec §5). The eventual
// outcome reaches release or reject exactly once per accepted attempt.
//
// It assumes a shaper token is already held by notes. The token is
// released exactly once, by whichever terminal path req reaches:
// release, reject after retries are exhausted, or re-enqueue when the
// whole pool is unavailable and enqueue-on-unavailable is set.
func (c *Cluster) dispatch(ctx context.Context, req Request, notes *RequestNotes) {
	limit := len(c.pool.Backends())
	if limit == 0 {
		limit = 1
	}

	for attempt := 0; attempt < limit; attempt++ {
		b := c.pool.next()
		if b == nil {
			break
		}
		req.Header().Set("X-Director-Backend", b.Name())
		dctx := c.transportContext(ctx, req, notes)
		outcome := b.tryProcess(dctx, req, notes, func(err error) {
			if err == nil {
				req.Header().Set("Via", "1.1 director")
				c.release(req, notes)
				return
			}
			obs.RetryTotal.Inc()
			c.reject(ctx, req, notes, 503)
		})
		if outcome == Success {
			return
		}
		// Overloaded/Unavailable: this candidate became ineligible
		// between selection and dispatch; scan the pool for another.
	}

	if c.cfg.EnqueueOnUnavailable {
		notes.release()
		c.enqueue(req, notes, notes.Bucket())
		return
	}

	notes.finalize()
	obs.ScheduleTotal.WithLabelValues("exhausted").Inc()
	req.Header().Set("Retry-After", "1")
	req.SetStatus(503)
	req.Finish()
	c.signal(notes, ErrNoBackendAvailable)
}

// release marks a request that completed successfully as terminal,
// returns its shaper token, and immediately tries to hand the freed
// capacity to a queued waiter rather than leaving it for the next sweep
// tick (spec §4.1, §8 scenario 1). The backend transport has already
// written and finished the response; release only does core bookkeeping.
func (c *Cluster) release(req Request, notes *RequestNotes) {
	notes.finalize()
	obs.ScheduleTotal.WithLabelValues("success").Inc()
	c.signal(notes, nil)
	c.dequeueNow()
}

// reject handles a failed dispatch attempt: retries against another
// backend while attempts remain under maxRetryCount, otherwise finishes
// req with suggestedStatus (spec §4.1, §6: "reject(request,
// suggestedStatus)").
func (c *Cluster) reject(ctx context.Context, req Request, notes *RequestNotes, suggestedStatus int) {
	if notes.tryCount < c.retryLimit() {
		c.dispatch(ctx, req, notes)
		return
	}
	notes.finalize()
	obs.ScheduleTotal.WithLabelValues("exhausted").Inc()
	req.Header().Set("Retry-After", "1")
	req.SetStatus(suggestedStatus)
	req.Finish()
	c.signal(notes, ErrRetryExhausted)
	c.dequeueNow()
}

func (c *Cluster) retryLimit() int {
	if c.cfg.MaxRetryCount < 1 {
		return 1
	}
	return c.cfg.MaxRetryCount
}

// transportContext derives the context a backend's transport call runs
// under from req's client-abort policy (spec §5): Close ties the
// upstream call's lifetime to the client's own connection so it is
// canceled on disconnect, Notify leaves it running to completion but
// records the disconnect, and Ignore — the default — does neither.
func (c *Cluster) transportContext(ctx context.Context, req Request, notes *RequestNotes) context.Context {
	switch notes.ClientAbortAction() {
	case AbortClose:
		return req.Context()
	case AbortNotify:
		go c.watchAbort(req)
		return ctx
	default:
		return ctx
	}
}

func (c *Cluster) watchAbort(req Request) {
	<-req.Context().Done()
	if req.Context().Err() != nil {
		obs.ClientAbortTotal.Inc()
	}
}

// enqueue parks req on node's own FIFO until a token frees up or
// queue-timeout elapses. Per spec §5 no goroutine blocks on req's
// behalf inside the core itself: a single background sweeper (run by
// Cluster.Run) drives both the queue-timeout eviction and
// opportunistic retry-on-release, and release itself also dequeues
// immediately when it frees capacity.
func (c *Cluster) enqueue(req Request, notes *RequestNotes, node *Node) error {
	if c.cfg.QueueLimit > 0 && c.shaper.QueueLen() >= c.cfg.QueueLimit {
		obs.QueueDroppedTotal.Inc()
		req.SetStatus(503)
		req.Finish()
		c.signal(notes, ErrQueueFull)
		return ErrQueueFull
	}
	c.shaper.Enqueue(node, &pending{req: req, notes: notes})
	obs.ScheduleTotal.WithLabelValues("queued").Inc()
	return nil
}

// dequeueNow grants freed capacity to every waiter the shaper can
// currently satisfy, resuming each on the worker that owns its request
// (spec §5 cross-worker dequeue contract).
func (c *Cluster) dequeueNow() {
	ctx := c.backgroundCtx()
	for {
		payload, ok := c.shaper.Dequeue()
		if !ok {
			return
		}
		p := payload.(*pending)
		req, notes := p.req, p.notes
		req.Post(func() {
			c.dispatch(ctx, req, notes)
		})
	}
}

func (c *Cluster) backgroundCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCtx
}

// purge removes a cached object in response to a PURGE request (spec
// §4.5, §6): 200 if something was found and removed, 404 otherwise
// (including when no cache is attached at all).
func (c *Cluster) purge(ctx context.Context, req Request) error {
	if c.cache == nil {
		req.SetStatus(404)
		req.Finish()
		return nil
	}
	var found bool
	var purgeErr error
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		ok, err := c.cache.Purge(ctx, method, req.Path())
		found = found || ok
		if err != nil {
			purgeErr = err
		}
	}
	if found {
		req.SetStatus(200)
	} else {
		req.SetStatus(404)
	}
	req.Finish()
	return purgeErr
}

// Run drives the background queue sweep: every tick it evicts anything
// past queue-timeout and retries whatever waiters the shaper can now
// satisfy. It must be started once per Cluster and stopped via ctx
// cancellation. Requests resumed from the queue between ticks (see
// release) run under the same ctx Run was started with.
func (c *Cluster) Run(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cluster) sweep() {
	for _, payload := range c.shaper.EvictTimedOut(c.cfg.QueueTimeout) {
		p := payload.(*pending)
		obs.QueueTimeoutTotal.Inc()
		p.notes.finalize()
		p.req.Header().Set("Retry-After", "1")
		p.req.SetStatus(504)
		p.req.Finish()
		c.signal(p.notes, ErrQueueTimeout)
	}
	c.dequeueNow()
}
