// Package fetch implements the origin fetcher (fetch(host, path) ->
// bytes, elapsed time), grounded nearly line-for-line on
// original_source/proxy/FetchServer.c: resolve, then up to 3 attempts, each
// trying every resolved endpoint in order with a 5s socket timeout and a
// GET request built with a fixed header set, reading to end of stream into
// a buffer that doubles from 4KiB.
package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mitmcache/proxy/internal/resolver"
	"github.com/mitmcache/proxy/internal/util/log"
	"github.com/mitmcache/proxy/internal/util/metrics"
	"github.com/mitmcache/proxy/internal/util/tracing"
)

const (
	maxAttempts     = 3
	socketTimeout   = 5 * time.Second
	initialBufSize  = 4 * 1024
	tracerName      = "fetch"
)

// Failure taxonomy per §4.2/§7.
var (
	ErrDNSFailure     = errors.New("fetch: dns lookup failed")
	ErrConnectFailure = errors.New("fetch: all endpoints unusable")
	ErrTimeout        = errors.New("fetch: recv timed out with no bytes")
	ErrPartialRead    = errors.New("fetch: recv error after partial read")
	ErrOutOfMemory    = errors.New("fetch: buffer growth failed")
)

// Result is the outcome of a successful fetch.
type Result struct {
	Bytes   []byte
	Elapsed time.Duration
}

// Fetcher resolves a host and retrieves path over plain HTTP/1.1.
type Fetcher struct {
	Resolver resolver.Resolver
	Port     int // destination TCP port; 80 for plain HTTP, 80 again for MITM's upstream leg per §4.6
}

// New returns a Fetcher targeting port 80, the plain-HTTP and MITM-upstream
// default.
func New(r resolver.Resolver) *Fetcher {
	return &Fetcher{Resolver: r, Port: 80}
}

// Fetch performs up to 3 attempts to GET path from host, returning the raw
// response bytes and the elapsed time of the successful attempt.
func (f *Fetcher) Fetch(ctx context.Context, host, path string) (*Result, error) {
	ctx, span := tracing.NewChildSpan(ctx, tracerName, "origin-fetch")
	defer span.End()

	endpoints, err := f.Resolver.Resolve(ctx, host, f.Port)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("dns_failure").Inc()
		return nil, ErrDNSFailure
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		body, attemptErr := f.tryEndpoints(endpoints, host, path)
		if attemptErr == nil {
			elapsed := time.Since(start)
			metrics.FetchDuration.Observe(elapsed.Seconds())
			metrics.FetchAttempts.WithLabelValues("success").Inc()
			return &Result{Bytes: body, Elapsed: elapsed}, nil
		}
		lastErr = attemptErr
		log.Debug("fetch attempt failed", log.Pairs{"host": host, "path": path, "attempt": attempt, "error": attemptErr.Error()})
		metrics.FetchAttempts.WithLabelValues(outcomeLabel(attemptErr)).Inc()
	}

	return nil, lastErr
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectFailure):
		return "connect_failure"
	case errors.Is(err, ErrPartialRead):
		return "partial_read"
	default:
		return "other"
	}
}

// tryEndpoints attempts each endpoint in order, returning on the first that
// yields a non-empty successful read.
func (f *Fetcher) tryEndpoints(endpoints []resolver.Endpoint, host, path string) ([]byte, error) {
	var lastErr error = ErrConnectFailure
	for _, ep := range endpoints {
		body, err := f.fetchOne(ep, host, path)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOne(ep resolver.Endpoint, host, path string) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", ep.String(), socketTimeout)
	if err != nil {
		return nil, ErrConnectFailure
	}
	defer conn.Close()

	deadline := time.Now().Add(socketTimeout)
	_ = conn.SetDeadline(deadline)

	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: proxy/1.0\r\nAccept: */*\r\nConnection: close\r\n\r\n", path, host)
	if _, err := conn.Write([]byte(req)); err != nil {
		return nil, ErrConnectFailure
	}

	return readToEOF(conn)
}

// readToEOF reads until the peer closes, growing the buffer geometrically
// from initialBufSize, mirroring FetchServer.c's malloc/realloc loop.
func readToEOF(r net.Conn) ([]byte, error) {
	buf := make([]byte, 0, initialBufSize)
	reader := bufio.NewReaderSize(r, initialBufSize)
	chunk := make([]byte, initialBufSize)

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if len(buf) == 0 {
					return nil, ErrTimeout
				}
				return nil, ErrPartialRead
			}
			if len(buf) == 0 {
				return nil, ErrConnectFailure
			}
			return nil, ErrPartialRead
		}
	}

	if len(buf) == 0 {
		return nil, ErrConnectFailure
	}
	return buf, nil
}
