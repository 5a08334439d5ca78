package director

import "time"

// ClientAbortAction decides what happens to an in-flight upstream call when
// the client disconnects before a response is ready (spec §5).
type ClientAbortAction int

const (
	AbortIgnore ClientAbortAction = iota
	AbortClose
	AbortNotify
)

func (a ClientAbortAction) String() string {
	switch a {
	case AbortClose:
		return "close"
	case AbortNotify:
		return "notify"
	default:
		return "ignore"
	}
}

// RequestNotes is the per-request scheduling state owned by the request's
// custom-data slot (spec §3, §4.6). Its lifetime is the request's lifetime.
type RequestNotes struct {
	ctime    time.Time
	cluster  *Cluster
	backend  *Backend
	tryCount int
	bucket   *Node
	tokens   int
	id       string

	clientAbortAction ClientAbortAction

	// Cache fields, populated only when ObjectCache is enabled.
	cacheKey    string
	cacheTTL    time.Duration
	cacheIgnore bool

	// waiter, when non-nil, receives this request's terminal error
	// exactly once. Only set by Cluster.admitAndWait, the synchronous
	// path the object cache drives a build through.
	waiter chan error
}

// ID returns the unique identifier assigned to this request on first
// contact with the core; stable for the request's lifetime, so it can
// correlate log lines about one request.
func (n *RequestNotes) ID() string { return n.id }

// CTime returns the request's creation time as observed by the core.
func (n *RequestNotes) CTime() time.Time { return n.ctime }

// TryCount returns the number of dispatch attempts made so far.
func (n *RequestNotes) TryCount() int { return n.tryCount }

// Backend returns the backend currently bound to this request, or nil.
func (n *RequestNotes) Backend() *Backend { return n.backend }

// Bucket returns the shaper node this request is assigned to, or nil
// before the request has reached Cluster.Schedule.
func (n *RequestNotes) Bucket() *Node { return n.bucket }

// Tokens returns the number of shaper tokens currently held (0 or 1).
func (n *RequestNotes) Tokens() int { return n.tokens }

// ClientAbortAction returns the configured abort policy for this request.
func (n *RequestNotes) ClientAbortAction() ClientAbortAction { return n.clientAbortAction }

// SetClientAbortAction overrides the abort policy for this one request.
func (n *RequestNotes) SetClientAbortAction(a ClientAbortAction) { n.clientAbortAction = a }

// release returns any held token to its bucket. Safe to call more than
// once; a second call is a no-op. Mirrors the teacher's defensive
// double-release guards in worker.processJob.
func (n *RequestNotes) release() {
	if n.tokens > 0 && n.bucket != nil {
		n.bucket.put(n.tokens)
	}
	n.tokens = 0
}

// finalize asserts the "tokens == 0 on destruction" invariant (spec §4.6).
// It is called by Cluster once a request reaches a terminal outcome, and
// is the Go-arena equivalent of the source's ref-counted destructor check:
// rather than trusting every exit path to have already released, it is
// itself the one place that guarantees it.
func (n *RequestNotes) finalize() {
	n.release()
}
