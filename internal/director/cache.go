package director

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/christianparpart/x0-sub000/internal/director/cachestore"
	"github.com/christianparpart/x0-sub000/internal/obs"
)

// BuildFunc dispatches req through the normal scheduling path (bucket +
// backend pool) and is supplied by Cluster.Schedule; ObjectCache calls it
// on a cache miss or to refresh a stale entry.
type BuildFunc func(ctx context.Context, req Request) error

// CacheConfig carries the object-cache knobs from configuration (spec §4.5).
type CacheConfig struct {
	Enabled         bool
	LockOnUpdate    bool
	DefaultTTL      time.Duration
	MaxObjectSize   int64
	CompressMinSize int64
	NoCachePaths    []string // doublestar glob patterns
}

// ObjectCache is the optional single-flight response cache sitting in
// front of backend dispatch (spec §4.5). A request that matches a cached,
// unexpired object is served without touching the backend pool or shaper.
// A stale object is served immediately while at most one background
// refresh runs per key; a cold key funnels concurrent requests through a
// single build so a thundering herd only dispatches once upstream.
type ObjectCache struct {
	cfg   CacheConfig
	store cachestore.Store
	enc   *zstd.Encoder

	mu        sync.Mutex
	building  map[string]chan struct{}
	refresh   map[string]bool
	hitCounts map[string]int64
}

// NewObjectCache constructs a cache in front of store.
func NewObjectCache(cfg CacheConfig, store cachestore.Store) (*ObjectCache, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &ObjectCache{
		cfg:       cfg,
		store:     store,
		enc:       enc,
		building:  make(map[string]chan struct{}),
		refresh:   make(map[string]bool),
		hitCounts: make(map[string]int64),
	}, nil
}

// cacheableMethod reports whether method can be served from the cache
// (spec §4.1: GET and HEAD, never POST/PUT/PURGE/...).
func cacheableMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func (c *ObjectCache) recordHit(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hitCounts[key]++
	return c.hitCounts[key]
}

func (c *ObjectCache) excluded(path string) bool {
	for _, pattern := range c.cfg.NoCachePaths {
		if ok, _ := doublestar.Match(pattern, strings.TrimPrefix(path, "/")); ok {
			return true
		}
	}
	return false
}

// keyFor computes the cache key from method, path and query. Vary
// discrimination is layered on top via varyKey once an entry's Vary
// header is known (spec §3 supplemented feature: VaryingObject keying).
func keyFor(req Request) string {
	return req.Method() + " " + req.Path() + "?" + req.Query()
}

func varyKey(base string, header http.Header, varyNames []string) string {
	if len(varyNames) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	for _, name := range varyNames {
		b.WriteString("|")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(header.Get(name))
	}
	return b.String()
}

// Serve runs req through the cache: a hit short-circuits build entirely,
// a stale hit serves the stale copy and kicks a background refresh, and
// a miss funnels into a single-flight build.
func (c *ObjectCache) Serve(ctx context.Context, req Request, notes *RequestNotes, build BuildFunc) error {
	if notes.cacheIgnore || !cacheableMethod(req.Method()) || c.excluded(req.Path()) {
		return build(ctx, req)
	}

	base := keyFor(req)
	// Vary is only known once an object has been stored once; look up the
	// sidecar first so repeat requests key on the same discriminator the
	// first response declared.
	varyNames, _ := c.lookupVary(ctx, base)
	key := varyKey(base, req.Header(), varyNames)
	notes.cacheKey = key

	entry, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		obs.CacheLookupTotal.WithLabelValues("miss").Inc()
		return c.buildOnce(ctx, key, base, req, build)
	}

	now := time.Now()
	if !entry.Expired(now) {
		obs.CacheLookupTotal.WithLabelValues("hit").Inc()
		obs.CacheHitsTotal.Inc()
		c.serveFromCache(req, entry, key, "hit")
		return nil
	}

	obs.CacheLookupTotal.WithLabelValues("stale").Inc()
	c.refreshAsync(key, base, req, build)
	c.serveFromCache(req, entry, key, "stale")
	return nil
}

// serveFromCache writes the cache-inspection headers (spec §4.7/§6),
// honors conditional-GET preconditions, and otherwise writes entry as the
// response body.
func (c *ObjectCache) serveFromCache(req Request, entry *cachestore.Entry, key, lookup string) {
	age := int(time.Since(entry.StoredAt).Seconds())
	if age < 0 {
		age = 0
	}
	req.Header().Set("X-Cache-Lookup", lookup)
	req.Header().Set("X-Cache-Hits", strconv.FormatInt(c.recordHit(key), 10))
	req.Header().Set("Age", strconv.Itoa(age))

	if status := conditionalStatus(req, entry); status != 0 {
		req.SetStatus(status)
		req.Finish()
		return
	}
	c.writeEntry(req, entry)
}

// conditionalStatus evaluates If-None-Match/If-Modified-Since and
// If-Match/If-Unmodified-Since against entry, returning the short-circuit
// status (304 or 412) or 0 if the request should be served normally.
func conditionalStatus(req Request, entry *cachestore.Entry) int {
	etag := entry.Header.Get("ETag")
	lastMod := entry.Header.Get("Last-Modified")

	if inm := req.Header().Get("If-None-Match"); inm != "" {
		if matchesETag(inm, etag) {
			return http.StatusNotModified
		}
	} else if ims := req.Header().Get("If-Modified-Since"); ims != "" && lastMod != "" {
		if !modifiedSince(lastMod, ims) {
			return http.StatusNotModified
		}
	}

	if im := req.Header().Get("If-Match"); im != "" {
		if !matchesETag(im, etag) {
			return http.StatusPreconditionFailed
		}
	} else if ius := req.Header().Get("If-Unmodified-Since"); ius != "" && lastMod != "" {
		if modifiedSince(lastMod, ius) {
			return http.StatusPreconditionFailed
		}
	}
	return 0
}

func matchesETag(headerValue, etag string) bool {
	if etag == "" {
		return false
	}
	for _, part := range strings.Split(headerValue, ",") {
		part = strings.TrimSpace(part)
		if part == "*" || part == etag || part == "W/"+etag {
			return true
		}
	}
	return false
}

func modifiedSince(lastModified, compareValue string) bool {
	lm, err := http.ParseTime(lastModified)
	if err != nil {
		return true
	}
	cv, err := http.ParseTime(compareValue)
	if err != nil {
		return true
	}
	return lm.After(cv)
}

func (c *ObjectCache) lookupVary(ctx context.Context, base string) ([]string, bool) {
	entry, found, err := c.store.Get(ctx, base+"|vary")
	if err != nil || !found {
		return nil, false
	}
	if len(entry.Body) == 0 {
		return nil, true
	}
	return strings.Split(string(entry.Body), ","), true
}

func (c *ObjectCache) buildOnce(ctx context.Context, key, base string, req Request, build BuildFunc) error {
	c.mu.Lock()
	if ch, ok := c.building[key]; ok {
		c.mu.Unlock()
		<-ch
		if entry, found, _ := c.store.Get(ctx, key); found {
			c.writeEntry(req, entry)
			return nil
		}
		return build(ctx, req)
	}
	ch := make(chan struct{})
	c.building[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.building, key)
		c.mu.Unlock()
		close(ch)
	}()

	rec := newRecordingRequest(req, c.cfg.MaxObjectSize)
	err := build(ctx, rec)
	if err == nil && rec.cacheable() {
		c.store.Set(ctx, base+"|vary", &cachestore.Entry{Body: []byte(strings.Join(rec.varyNames(), ","))})
		entry := c.encode(rec)
		c.store.Set(ctx, key, entry)
	}
	return err
}

func (c *ObjectCache) refreshAsync(key, base string, req Request, build BuildFunc) {
	c.mu.Lock()
	if c.refresh[key] {
		c.mu.Unlock()
		return
	}
	c.refresh[key] = true
	c.mu.Unlock()

	buf := newBufferRequest(req)
	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refresh, key)
			c.mu.Unlock()
		}()
		rec := newRecordingRequest(buf, c.cfg.MaxObjectSize)
		ctx := context.Background()
		if err := build(ctx, rec); err == nil && rec.cacheable() {
			c.store.Set(ctx, base+"|vary", &cachestore.Entry{Body: []byte(strings.Join(rec.varyNames(), ","))})
			c.store.Set(ctx, key, c.encode(rec))
		}
	}()
}

func (c *ObjectCache) encode(rec *recordingRequest) *cachestore.Entry {
	body := rec.body.Bytes()
	compressed := false
	if c.cfg.CompressMinSize > 0 && int64(len(body)) >= c.cfg.CompressMinSize {
		body = c.enc.EncodeAll(body, nil)
		compressed = true
	}
	ttl := c.cfg.DefaultTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &cachestore.Entry{
		Status:     rec.status,
		Header:     rec.header,
		Body:       body,
		Compressed: compressed,
		StoredAt:   time.Now(),
		TTL:        ttl,
	}
}

func (c *ObjectCache) writeEntry(req Request, entry *cachestore.Entry) {
	body := entry.Body
	if entry.Compressed {
		dec, err := zstd.NewReader(nil)
		if err == nil {
			if out, err := dec.DecodeAll(body, nil); err == nil {
				body = out
			}
			dec.Close()
		}
	}
	for name, values := range entry.Header {
		for _, v := range values {
			req.Header().Add(name, v)
		}
	}
	req.SetStatus(entry.Status)
	req.Write(body)
	req.Finish()
}

// Purge removes every Vary variant of method+path from the cache and
// reports whether anything was actually cached, so a PURGE handler can
// answer 200 (removed) vs 404 (nothing to remove) per spec §4.7.
func (c *ObjectCache) Purge(ctx context.Context, method, path string) (bool, error) {
	base := method + " " + path + "?"
	return c.store.DeletePrefix(ctx, base)
}

// recordingRequest buffers a response produced by BuildFunc so it can be
// stored in the cache once the upstream call completes successfully.
type recordingRequest struct {
	Request
	max      int64
	status   int
	header   http.Header
	body     bytes.Buffer
	overflow bool
}

func newRecordingRequest(inner Request, max int64) *recordingRequest {
	return &recordingRequest{Request: inner, max: max, status: 200, header: make(http.Header)}
}

func (r *recordingRequest) SetStatus(code int) {
	r.status = code
	r.Request.SetStatus(code)
}

func (r *recordingRequest) Write(p []byte) (int, error) {
	if r.max <= 0 || int64(r.body.Len()+len(p)) <= r.max {
		r.body.Write(p)
	} else {
		r.overflow = true
	}
	return r.Request.Write(p)
}

func (r *recordingRequest) Finish() {
	for name, values := range r.Request.Header() {
		r.header[name] = values
	}
	r.Request.Finish()
}

func (r *recordingRequest) cacheable() bool {
	if r.overflow || r.status < 200 || r.status >= 300 {
		return false
	}
	if r.header.Get("Set-Cookie") != "" {
		return false
	}
	if hasDirective(r.header.Get("Cache-Control"), "no-cache") || hasDirective(r.header.Get("Cache-Control"), "no-store") {
		return false
	}
	if strings.EqualFold(r.header.Get("Pragma"), "no-cache") {
		return false
	}
	return true
}

func hasDirective(cacheControl, directive string) bool {
	for _, part := range strings.Split(cacheControl, ",") {
		if strings.EqualFold(strings.TrimSpace(part), directive) {
			return true
		}
	}
	return false
}

func (r *recordingRequest) varyNames() []string {
	v := r.header.Get("Vary")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
