// Package mitm implements the MITM HTTPS intercept path (C6): per-host
// certificate minting, the CONNECT handshake, inner TLS acceptance, inner
// request parsing, cache consultation, upstream fetch, and response
// injection, or a transparent relay fallback. Grounded on
// original_source/proxy/EntryClient.c's CONNECT branch.
package mitm

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mitmcache/proxy/internal/cache"
	"github.com/mitmcache/proxy/internal/certs"
	"github.com/mitmcache/proxy/internal/classifier"
	"github.com/mitmcache/proxy/internal/proxy/fetch"
	"github.com/mitmcache/proxy/internal/proxy/plainhttp"
	"github.com/mitmcache/proxy/internal/proxy/request"
	"github.com/mitmcache/proxy/internal/util/log"
	"github.com/mitmcache/proxy/internal/util/metrics"
	"github.com/mitmcache/proxy/internal/util/tracing"
)

const (
	innerReadLimit = 8 * 1024
	tlsDeadline    = 5 * time.Second
	tracerName     = "mitm"
)

var (
	// ErrCertMint is returned when the certificate minter fails.
	ErrCertMint = errors.New("mitm: certificate mint failed")
	// ErrTLSHandshake is returned when the inner TLS accept fails.
	ErrTLSHandshake = errors.New("mitm: tls handshake failed")
)

type locker interface {
	Lock()
	Unlock()
}

// Engine drives the CONNECT sub-protocol.
type Engine struct {
	Cache      *cache.Cache
	CacheMu    locker
	Minter     *certs.Minter
	Fetcher    *fetch.Fetcher
	Classifier classifier.Classifier

	// UpstreamTLSConfig, when set, is cloned (with ServerName overridden
	// per-host) for the relay fallback's upstream TLS leg instead of the
	// default verify-against-system-roots config. Tests use this to trust
	// a non-public CA; production should leave it nil.
	UpstreamTLSConfig *tls.Config
}

// New returns an Engine sharing cache c (guarded by mu), minter m, fetcher
// f, and URL classifier cls (classifier.NoOp{} if no reputation check is
// configured).
func New(c *cache.Cache, mu locker, m *certs.Minter, f *fetch.Fetcher, cls classifier.Classifier) *Engine {
	return &Engine{Cache: c, CacheMu: mu, Minter: m, Fetcher: f, Classifier: cls}
}

// Serve handles one CONNECT request over the raw client socket conn, whose
// target is host:port per req.Host / request.ConnectPort(req.Target).
func (e *Engine) Serve(ctx context.Context, conn net.Conn, req *request.Request) {
	ctx, span := tracing.NewChildSpan(ctx, tracerName, "mitm-handshake")
	defer span.End()

	host := req.Host
	port := request.ConnectPort(req.Target)

	tlsCert, err := e.Minter.LoadTLSCertificate(host)
	if err != nil {
		log.Warn("cert mint failed", log.Pairs{"host": host, "error": err.Error()})
		_, _ = conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		_ = conn.Close()
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = conn.Close()
		return
	}

	tlsConfig := &tls.Config{Certificates: []tls.Certificate{*tlsCert}}
	tlsConn := tls.Server(conn, tlsConfig)
	_ = tlsConn.SetDeadline(time.Now().Add(tlsDeadline))
	if err := tlsConn.Handshake(); err != nil {
		log.Debug("inner tls handshake failed", log.Pairs{"host": host, "error": err.Error()})
		_ = tlsConn.Close()
		return
	}

	buf, err := readInnerRequest(tlsConn)
	if err != nil {
		// not a parseable request within the header buffer: relay
		e.relay(ctx, conn, tlsConn, host, port, buf)
		return
	}

	innerReq, err := request.Parse(buf)
	if err != nil || innerReq.Method != "GET" {
		e.relay(ctx, conn, tlsConn, host, port, buf)
		return
	}

	e.serveGET(ctx, tlsConn, innerReq)
}

// readInnerRequest reads up to innerReadLimit bytes from the TLS session,
// waiting for the header terminator.
func readInnerRequest(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)
	for len(buf) < innerReadLimit {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if containsTerminator(buf) {
			return buf, nil
		}
		if err != nil {
			return buf, err
		}
	}
	return buf, errors.New("mitm: inner request exceeds header buffer")
}

func containsTerminator(buf []byte) bool {
	return len(buf) >= 4 && indexOf(buf, []byte("\r\n\r\n")) >= 0
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// serveGET handles the cache-lookup/fetch/insert/write flow for an inner
// GET request, writing the response over the TLS session and terminating
// it gracefully.
func (e *Engine) serveGET(ctx context.Context, tlsConn *tls.Conn, innerReq *request.Request) {
	defer func() {
		_ = tlsConn.Close()
	}()

	_, lookupSpan := tracing.NewChildSpan(ctx, tracerName, "cache-lookup")
	e.CacheMu.Lock()
	entry, hit := e.Cache.Lookup(innerReq.Host, innerReq.Path)
	var body []byte
	if hit {
		body = entry.Body()
	}
	e.CacheMu.Unlock()
	lookupSpan.End()

	if hit {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		writeAll(tlsConn, body)
		return
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	if blocked, resp := e.classify(ctx, innerReq.Host, innerReq.Path); blocked {
		writeAll(tlsConn, resp)
		return
	}

	result, err := e.Fetcher.Fetch(ctx, innerReq.Host, innerReq.Path)
	if err != nil {
		log.Warn("mitm upstream fetch failed", log.Pairs{"host": innerReq.Host, "path": innerReq.Path, "error": err.Error()})
		writeAll(tlsConn, plainhttp.Canned500)
		return
	}

	e.CacheMu.Lock()
	evictedBefore := e.Cache.Evictions()
	insErr := e.Cache.Insert(innerReq.Host, innerReq.Path, result.Bytes, int64(len(result.Bytes)), result.Elapsed.Seconds())
	metrics.CacheSize.Set(float64(e.Cache.Size()))
	metrics.CacheEvictions.Add(float64(e.Cache.Evictions() - evictedBefore))
	e.CacheMu.Unlock()
	if insErr != nil {
		log.Warn("cache insert failed", log.Pairs{"host": innerReq.Host, "error": insErr.Error()})
	}

	writeAll(tlsConn, result.Bytes)
}

// classify consults e.Classifier before fetching, the same seam and
// block-page behavior as plainhttp.Handler.classify, applied to the
// TLS-terminated inner request.
func (e *Engine) classify(ctx context.Context, host, path string) (bool, []byte) {
	if e.Classifier == nil {
		return false, nil
	}
	u := (&url.URL{Scheme: "https", Host: host, Path: path}).String()
	verdict, err := e.Classifier.Classify(ctx, u)
	if err != nil || verdict.Safe {
		return false, nil
	}
	log.Warn("url classified unsafe", log.Pairs{"host": host, "path": path, "label": verdict.Label})
	return true, classifier.BlockResponse(verdict.Explanation)
}

func writeAll(w io.Writer, body []byte) {
	written := 0
	for written < len(body) {
		n, err := w.Write(body[written:])
		if err != nil {
			return
		}
		written += n
	}
}

// relay falls back to transparent bidirectional relay per §4.6 step 9:
// dial host:port in plaintext, wrap it in a TLS client session, and shuttle
// bytes between the two TLS sessions (replaying any already-buffered bytes
// from the client first) until either side closes.
func (e *Engine) relay(ctx context.Context, rawConn net.Conn, clientTLS *tls.Conn, host string, port int, buffered []byte) {
	defer clientTLS.Close()

	upstream, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), tlsDeadline)
	if err != nil {
		log.Debug("relay dial failed", log.Pairs{"host": host, "error": err.Error()})
		return
	}
	defer upstream.Close()

	upstreamCfg := &tls.Config{ServerName: host}
	if e.UpstreamTLSConfig != nil {
		upstreamCfg = e.UpstreamTLSConfig.Clone()
		upstreamCfg.ServerName = host
	}
	upstreamTLS := tls.Client(upstream, upstreamCfg)
	if err := upstreamTLS.Handshake(); err != nil {
		log.Debug("relay upstream tls handshake failed", log.Pairs{"host": host, "error": err.Error()})
		return
	}
	defer upstreamTLS.Close()

	if len(buffered) > 0 {
		if _, err := upstreamTLS.Write(buffered); err != nil {
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(upstreamTLS, clientTLS)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(clientTLS, upstreamTLS)
	}()
	wg.Wait()
}
