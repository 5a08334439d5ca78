package transporttest

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"github.com/christianparpart/x0-sub000/internal/director"
)

// Request is a scriptable director.Request double for tests.
type Request struct {
	mu       sync.Mutex
	method   string
	path     string
	query    string
	header   http.Header
	status   int
	body     bytes.Buffer
	finished bool
	ctx      context.Context
	notes    *director.NoteSlot
	postedFn []func()
	inline   bool
}

// NewRequest builds a GET request double for path.
func NewRequest(path string) *Request {
	return &Request{
		method: http.MethodGet,
		path:   path,
		header: make(http.Header),
		ctx:    context.Background(),
		notes:  director.NewNoteSlot(),
		inline: true,
	}
}

// WithMethod overrides the HTTP method.
func (r *Request) WithMethod(m string) *Request { r.method = m; return r }

// WithQuery sets the raw query string.
func (r *Request) WithQuery(q string) *Request { r.query = q; return r }

// WithHeader sets a request header value.
func (r *Request) WithHeader(k, v string) *Request { r.header.Set(k, v); return r }

// Posted returns how many callbacks were queued via Post.
func (r *Request) Posted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.postedFn)
}

// RunPosted executes every callback queued by Post, in order.
func (r *Request) RunPosted() {
	r.mu.Lock()
	fns := r.postedFn
	r.postedFn = nil
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (r *Request) Method() string     { return r.method }
func (r *Request) Path() string       { return r.path }
func (r *Request) Query() string      { return r.query }
func (r *Request) Header() http.Header { return r.header }

func (r *Request) SetStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

func (r *Request) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Request) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *Request) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Bytes()
}

func (r *Request) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
}

func (r *Request) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *Request) Post(fn func()) {
	if r.inline {
		fn()
		return
	}
	r.mu.Lock()
	r.postedFn = append(r.postedFn, fn)
	r.mu.Unlock()
}

func (r *Request) Context() context.Context { return r.ctx }
func (r *Request) Notes() *director.NoteSlot { return r.notes }
