package director

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTransport implements Transport by reverse-proxying to a backend's
// host:port over plain HTTP. It is the default wire transport; a FastCGI
// transport would implement the same interface against a FastCGI
// connection pool instead (spec §6 names both as interchangeable backend
// protocols behind one contract).
type HTTPTransport struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	client *http.Client
}

// NewHTTPTransport builds a transport bound to one backend origin.
func NewHTTPTransport(host string, port int, connectTimeout, readTimeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		Host:           host,
		Port:           port,
		ConnectTimeout: connectTimeout,
		ReadTimeout:    readTimeout,
		client: &http.Client{
			Timeout: connectTimeout + readTimeout,
		},
	}
}

func (t *HTTPTransport) Process(ctx context.Context, req Request, b *Backend) error {
	url := fmt.Sprintf("http://%s:%d%s", t.Host, t.Port, req.Path())
	if q := req.Query(); q != "" {
		url += "?" + q
	}

	outCtx, cancel := context.WithTimeout(ctx, t.ConnectTimeout+t.ReadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(outCtx, req.Method(), url, nil)
	if err != nil {
		return err
	}
	httpReq.Header = req.Header().Clone()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// A 5xx leaves req untouched and reports failure so the core can
	// retry against another backend; writing or finishing here would
	// leave a retried request already finished once it reaches its next
	// attempt (spec §4.1 reject/retry contract).
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("backend %s returned status %d", b.Name(), resp.StatusCode)
	}

	for name, values := range resp.Header {
		for _, v := range values {
			req.Header().Add(name, v)
		}
	}
	req.SetStatus(resp.StatusCode)
	if _, err := io.Copy(writerFunc(req.Write), resp.Body); err != nil {
		return err
	}
	req.Finish()
	return nil
}

// writerFunc adapts a Write(p []byte) (int, error) method value to io.Writer.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// HTTPProber implements Prober by issuing a GET against a fixed health-check
// path on the backend, independent of live traffic (spec §4.3). A 2xx/3xx
// response counts as success; anything else, including a transport error or
// timeout, counts as failure.
type HTTPProber struct {
	Path       string
	HostHeader string
	Timeout    time.Duration

	client *http.Client
}

// NewHTTPProber builds a prober for one backend's health-check endpoint.
func NewHTTPProber(path, hostHeader string, timeout time.Duration) *HTTPProber {
	if path == "" {
		path = "/"
	}
	return &HTTPProber{
		Path:       path,
		HostHeader: hostHeader,
		Timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, b *Backend) error {
	t, ok := b.Transport().(*HTTPTransport)
	if !ok {
		return fmt.Errorf("backend %s: health probe requires an HTTP transport", b.Name())
	}

	url := fmt.Sprintf("http://%s:%d%s", t.Host, t.Port, p.Path)
	probeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if p.HostHeader != "" {
		req.Host = p.HostHeader
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("backend %s: probe returned status %d", b.Name(), resp.StatusCode)
	}
	return nil
}
