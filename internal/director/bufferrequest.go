package director

import (
	"context"
	"net/http"
)

// bufferRequest is a synthetic Request used for background cache
// refreshes, which have no live client connection to write through. It
// clones the triggering request's method/path/query/header and discards
// whatever gets written; ObjectCache wraps it in a recordingRequest to
// capture the refreshed body instead.
type bufferRequest struct {
	method, path, query string
	header               http.Header
	status               int
	ctx                  context.Context
	notes                *NoteSlot
}

func newBufferRequest(orig Request) *bufferRequest {
	header := make(http.Header, len(orig.Header()))
	for k, v := range orig.Header() {
		header[k] = v
	}
	return &bufferRequest{
		method: orig.Method(),
		path:   orig.Path(),
		query:  orig.Query(),
		header: header,
		ctx:    context.Background(),
		notes:  NewNoteSlot(),
	}
}

func (b *bufferRequest) Method() string        { return b.method }
func (b *bufferRequest) Path() string          { return b.path }
func (b *bufferRequest) Query() string         { return b.query }
func (b *bufferRequest) Header() http.Header    { return b.header }
func (b *bufferRequest) SetStatus(code int)     { b.status = code }
func (b *bufferRequest) Write(p []byte) (int, error) { return len(p), nil }
func (b *bufferRequest) Finish()                {}
func (b *bufferRequest) Post(fn func())         { fn() }
func (b *bufferRequest) Context() context.Context { return b.ctx }
func (b *bufferRequest) Notes() *NoteSlot       { return b.notes }
