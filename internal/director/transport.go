package director

import "context"

// Transport is the backend wire protocol contract (spec §6): given a
// request and the backend chosen to serve it, perform the round trip
// (HTTP reverse-proxy or FastCGI) and write the response through Request
// itself. A non-nil error means the attempt failed and the request is a
// candidate for retry against another backend, subject to maxRetryCount.
//
// HTTPTransport in this package is the HTTP implementation that
// cmd/directord wires to every backend; there is no FastCGI
// implementation. internal/director/transporttest provides a test double.
type Transport interface {
	Process(ctx context.Context, req Request, b *Backend) error
}
