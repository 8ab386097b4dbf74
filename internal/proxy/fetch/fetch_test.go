package fetch

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitmcache/proxy/internal/resolver"
)

// staticResolver resolves every hostname to one fixed loopback endpoint,
// letting tests stand up a real net.Listener as the "origin".
type staticResolver struct {
	port int
}

func (s *staticResolver) Resolve(ctx context.Context, host string, port int) ([]resolver.Endpoint, error) {
	return []resolver.Endpoint{{IP: net.ParseIP("127.0.0.1"), Port: s.port}}, nil
}

func serveOnce(t *testing.T, response []byte) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = conn.Write(response)
	}()

	t.Cleanup(func() { ln.Close() })
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestFetchSuccess(t *testing.T) {
	port := serveOnce(t, []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	f := &Fetcher{Resolver: &staticResolver{port: port}, Port: port}

	res, err := f.Fetch(context.Background(), "example.com", "/")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(res.Bytes), "200 OK"))
	assert.GreaterOrEqual(t, res.Elapsed, time.Duration(0))
}

func TestFetchDNSFailure(t *testing.T) {
	f := &Fetcher{Resolver: &failingResolver{}, Port: 80}
	_, err := f.Fetch(context.Background(), "nonexistent.invalid", "/")
	assert.ErrorIs(t, err, ErrDNSFailure)
}

type failingResolver struct{}

func (f *failingResolver) Resolve(ctx context.Context, host string, port int) ([]resolver.Endpoint, error) {
	return nil, resolver.ErrDNSFailure
}

func TestFetchConnectFailure(t *testing.T) {
	// nothing listening on this port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	f := &Fetcher{Resolver: &staticResolver{port: port}, Port: port}
	_, err = f.Fetch(context.Background(), "example.com", "/")
	assert.ErrorIs(t, err, ErrConnectFailure)
}
