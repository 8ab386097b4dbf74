// Package dispatcher implements the connection dispatcher (C8): a TCP
// listener, accept loop, and per-connection worker that parses the request
// and routes it to the plain-HTTP handler or the MITM engine. Grounded on
// original_source/proxy/EntryClient.c's main()/handle_client() accept-and-
// spawn loop; SO_REUSEADDR/SO_REUSEPORT are set via golang.org/x/sys/unix
// since net.Listen does not expose socket options directly.
package dispatcher

import (
	"context"
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mitmcache/proxy/internal/cache"
	"github.com/mitmcache/proxy/internal/proxy/mitm"
	"github.com/mitmcache/proxy/internal/proxy/plainhttp"
	"github.com/mitmcache/proxy/internal/proxy/request"
	"github.com/mitmcache/proxy/internal/util/log"
	"github.com/mitmcache/proxy/internal/util/metrics"
)

// listenBacklog documents the spec's target listen queue of 10; the Go
// runtime's net package does not expose a way to override its own
// syscall.Listen backlog (it always passes SOMAXCONN), so this is
// informational only.
const listenBacklog = 10

const (
	connectionDeadline  = 5 * time.Second
	initialHeaderBuffer = 1024
	maxHeaderBuffer     = 64 * 1024
)

// Config controls the dispatcher's listener and admission behavior.
type Config struct {
	ListenAddress  string
	ListenPort     int
	MaxConnections int // 0 == unbounded, per §9's open question
}

// Dispatcher owns the accept loop and per-connection routing. plain and
// mitm must share the same cache.Cache and mutex; the dispatcher itself
// never touches the cache directly.
type Dispatcher struct {
	cfg   Config
	cache *cache.Cache
	plain *plainhttp.Handler
	mitm  *mitm.Engine
	sem   chan struct{}
}

// New wires a Dispatcher around a shared cache and the plain/MITM handlers
// built from it. plainHandler and mitmEngine must share the same Cache and
// mutex as c.
func New(cfg Config, c *cache.Cache, plainHandler *plainhttp.Handler, mitmEngine *mitm.Engine) *Dispatcher {
	d := &Dispatcher{cfg: cfg, cache: c, plain: plainHandler, mitm: mitmEngine}
	if cfg.MaxConnections > 0 {
		d.sem = make(chan struct{}, cfg.MaxConnections)
	}
	return d
}

// listenConfig returns a net.ListenConfig whose Control callback sets
// SO_REUSEADDR and SO_REUSEPORT (best-effort; SO_REUSEPORT failures are
// logged, not fatal, since not every kernel supports it).
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					log.Debug("SO_REUSEPORT unavailable", log.Pairs{"error": err.Error()})
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// ListenAndServe binds the listener and runs the accept loop until ctx is
// canceled or the listener errors.
func (d *Dispatcher) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(d.cfg.ListenAddress, strconv.Itoa(d.cfg.ListenPort))
	lc := listenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.Info("dispatcher listening", log.Pairs{"address": addr})

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Warn("accept failed", log.Pairs{"error": err.Error()})
				continue
			}
		}
		d.dispatch(ctx, conn)
	}
}

// dispatch spawns a worker for conn, applying the optional admission gate
// from §9's open question on unbounded worker concurrency.
func (d *Dispatcher) dispatch(ctx context.Context, conn net.Conn) {
	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
		default:
			_ = conn.Close()
			return
		}
	}

	metrics.ActiveConnections.Inc()
	go func() {
		defer metrics.ActiveConnections.Dec()
		if d.sem != nil {
			defer func() { <-d.sem }()
		}
		d.handle(ctx, conn)
	}()
}

// handle is one worker's state machine: set deadlines, read headers, parse,
// and route to the plain-HTTP handler or the MITM engine.
func (d *Dispatcher) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	deadline := time.Now().Add(connectionDeadline)
	_ = conn.SetDeadline(deadline)

	buf, err := readHeaders(conn)
	if err != nil {
		log.Debug("header read failed", log.Pairs{"error": err.Error()})
		return
	}

	req, err := request.Parse(buf)
	if err != nil {
		log.Debug("malformed request", log.Pairs{"error": err.Error()})
		return
	}

	if req.Method == "CONNECT" {
		d.mitm.Serve(ctx, conn, req)
		return
	}

	d.plain.Serve(ctx, conn, req)
}

// readHeaders drains bytes into a buffer that doubles from
// initialHeaderBuffer until the header terminator appears, per §4.8.
func readHeaders(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 0, initialHeaderBuffer)
	chunk := make([]byte, initialHeaderBuffer)

	for len(buf) < maxHeaderBuffer {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if containsTerminator(buf) {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, net.ErrClosed
		}
	}
	return nil, request.ErrMalformed
}

func containsTerminator(buf []byte) bool {
	const term = "\r\n\r\n"
	if len(buf) < len(term) {
		return false
	}
	for i := 0; i+len(term) <= len(buf); i++ {
		if string(buf[i:i+len(term)]) == term {
			return true
		}
	}
	return false
}
