// Package plainhttp implements the plain-HTTP handler (C5): combine the
// request parser, cache, and origin fetcher to serve one HTTP request over
// a plain TCP connection, grounded on original_source/proxy/ClientToServer.c's
// FetchResCache flow.
package plainhttp

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/mitmcache/proxy/internal/cache"
	"github.com/mitmcache/proxy/internal/classifier"
	"github.com/mitmcache/proxy/internal/proxy/fetch"
	"github.com/mitmcache/proxy/internal/proxy/request"
	"github.com/mitmcache/proxy/internal/util/log"
	"github.com/mitmcache/proxy/internal/util/metrics"
	"github.com/mitmcache/proxy/internal/util/tracing"
)

// Canned500 is the byte-exact 500 response from §6.
var Canned500 = []byte("HTTP/1.1 500 Internal Server Error\r\n" +
	"Content-Type: text/html\r\n" +
	"Content-Length: 53\r\n" +
	"\r\n" +
	"<html><body><h1>500 Internal Server Error</h1></body></html>")

// locker is the narrow interface plainhttp needs from a sync.Mutex,
// matching the spec's single cache-wide mutex (§4.3) shared with the MITM
// engine.
type locker interface {
	Lock()
	Unlock()
}

// Handler serves plain (non-CONNECT) requests.
type Handler struct {
	Cache      *cache.Cache
	CacheMu    locker
	Fetcher    *fetch.Fetcher
	Classifier classifier.Classifier
}

// New returns a Handler sharing cache c (guarded by mu), fetcher f, and URL
// classifier cls (classifier.NoOp{} if no reputation check is configured).
func New(c *cache.Cache, mu locker, f *fetch.Fetcher, cls classifier.Classifier) *Handler {
	return &Handler{Cache: c, CacheMu: mu, Fetcher: f, Classifier: cls}
}

// Serve handles one parsed GET request over conn, per §4.5's five steps.
// Only GET is handled; any other method yields an immediate 500.
func (h *Handler) Serve(ctx context.Context, conn net.Conn, req *request.Request) {
	if req.Method != "GET" {
		h.writeAndClose(conn, Canned500)
		return
	}

	_, span := tracing.NewChildSpan(ctx, "plainhttp", "cache-lookup")
	h.CacheMu.Lock()
	entry, hit := h.Cache.Lookup(req.Host, req.Path)
	var body []byte
	if hit {
		body = entry.Body()
	}
	h.CacheMu.Unlock()
	span.End()

	if hit {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		h.writeAndClose(conn, body)
		return
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	if blocked, resp := h.classify(ctx, req.Host, req.Path); blocked {
		h.writeAndClose(conn, resp)
		return
	}

	result, err := h.Fetcher.Fetch(ctx, req.Host, req.Path)
	if err != nil {
		log.Warn("origin fetch failed", log.Pairs{"host": req.Host, "path": req.Path, "error": err.Error()})
		h.writeAndClose(conn, Canned500)
		return
	}

	h.CacheMu.Lock()
	evictedBefore := h.Cache.Evictions()
	insErr := h.Cache.Insert(req.Host, req.Path, result.Bytes, int64(len(result.Bytes)), result.Elapsed.Seconds())
	metrics.CacheSize.Set(float64(h.Cache.Size()))
	metrics.CacheEvictions.Add(float64(h.Cache.Evictions() - evictedBefore))
	h.CacheMu.Unlock()
	if insErr != nil {
		log.Warn("cache insert failed", log.Pairs{"host": req.Host, "path": req.Path, "error": insErr.Error()})
	}

	h.writeAndClose(conn, result.Bytes)
}

// classify consults h.Classifier before fetching, per §6's classifier seam:
// an unsafe verdict serves the canned block page instead of reaching the
// origin. A classifier error is treated as safe, since the hook is a
// best-effort collaborator, not a trust boundary.
func (h *Handler) classify(ctx context.Context, host, path string) (bool, []byte) {
	if h.Classifier == nil {
		return false, nil
	}
	u := (&url.URL{Scheme: "http", Host: host, Path: path}).String()
	verdict, err := h.Classifier.Classify(ctx, u)
	if err != nil || verdict.Safe {
		return false, nil
	}
	log.Warn("url classified unsafe", log.Pairs{"host": host, "path": path, "label": verdict.Label})
	return true, classifier.BlockResponse(verdict.Explanation)
}

// writeAndClose writes body to conn with retries on short writes, per
// §4.5 step 4. Any send error closes the connection with no further
// action.
func (h *Handler) writeAndClose(conn net.Conn, body []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	written := 0
	for written < len(body) {
		n, err := conn.Write(body[written:])
		if err != nil {
			_ = conn.Close()
			return
		}
		written += n
	}
}
