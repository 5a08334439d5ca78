// Package director implements the request-scheduling and traffic-shaping
// core of the reverse-proxy: the token shaper, backend pools, health
// monitoring, per-request retry state and the optional response cache.
//
// The HTTP/FastCGI wire transports, the accept loop and the admin API are
// external collaborators; this package only consumes what section 6 of the
// spec calls the backend transport contract.
package director

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is the subset of an in-flight HTTP request the core needs. The
// real wire parser, TLS termination and sendfile path live outside this
// package; a Request is just enough surface for scheduling decisions and
// for finishing a request locally (503/504) without an upstream round trip.
type Request interface {
	Method() string
	Path() string
	Query() string

	// Header exposes push/remove/overwrite on the response header map.
	Header() http.Header

	// SetStatus records the final response status for a request the core
	// finishes itself (503, 504, 304, 412, ...).
	SetStatus(code int)

	// Write appends response body bytes, mirroring http.ResponseWriter.
	Write(p []byte) (int, error)

	// Finish signals that the complete response has been produced, either
	// by the core itself or by a backend transport; no further data will
	// be written.
	Finish()

	// Post schedules fn to run on the worker that owns this request. Used
	// when a dequeue happens from a different worker than the one the
	// request is pinned to (see spec §5 concurrency model).
	Post(fn func())

	// Context carries cancellation for abort handling and tracing.
	Context() context.Context

	// Notes returns the request's owner-keyed custom-data slot. The core
	// stores *RequestNotes there under its own identity key so repeated
	// calls return the same notes.
	Notes() *NoteSlot
}

// NoteSlot is the opaque per-request custom-data map keyed by owner
// identity (spec §3, §4.6). Only this package's key is populated here;
// other components (cache, admin API) would use their own keys in a
// fuller system.
type NoteSlot struct {
	values map[interface{}]interface{}
}

// NewNoteSlot allocates an empty custom-data slot for one request.
func NewNoteSlot() *NoteSlot {
	return &NoteSlot{values: make(map[interface{}]interface{})}
}

type notesKey struct{}

// notesFor returns this package's RequestNotes for r, creating it on first
// access and binding it to cluster c.
func notesFor(r Request, c *Cluster) *RequestNotes {
	slot := r.Notes()
	if v, ok := slot.values[notesKey{}]; ok {
		return v.(*RequestNotes)
	}
	n := &RequestNotes{
		ctime:             time.Now(),
		cluster:           c,
		id:                uuid.NewString(),
		clientAbortAction: c.cfg.OnClientAbort,
	}
	slot.values[notesKey{}] = n
	return n
}

// PeekNotes returns the RequestNotes already attached to r, or nil if none
// has been attached yet (the request has not reached Cluster.Schedule).
func PeekNotes(r Request) *RequestNotes {
	slot := r.Notes()
	if v, ok := slot.values[notesKey{}]; ok {
		return v.(*RequestNotes)
	}
	return nil
}
