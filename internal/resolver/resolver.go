// Package resolver resolves destination hostnames to an ordered list of
// endpoint addresses, mirroring original_source/proxy/FetchServer.c's
// getIP() (a getaddrinfo() call whose results are tried in order). Unlike
// the DNS-forwarding stacks elsewhere in this codebase's reference corpus,
// this proxy asks the operating system's own resolver rather than speaking
// the DNS wire protocol itself, since the contract here is "whatever the
// host already trusts to resolve names," not a configurable DNS server.
package resolver

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// ErrDNSFailure is returned when the system resolver reports no results for
// a hostname.
var ErrDNSFailure = errors.New("resolver: dns lookup failed")

// Endpoint is one resolved address a caller may attempt to connect to.
type Endpoint struct {
	IP   net.IP
	Port int
}

// String renders the endpoint as a dial-ready "host:port" address.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

// Resolver resolves a hostname to an ordered list of endpoints.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) ([]Endpoint, error)
}

// System resolves hostnames via the operating system's resolver
// (net.DefaultResolver), preserving the order the OS returns addresses in.
// Both address families are requested; callers try endpoints in order.
type System struct {
	Timeout time.Duration
}

// New returns a System resolver with a 5s lookup timeout, matching the
// origin fetcher's per-attempt socket timeout.
func New() *System {
	return &System{Timeout: 5 * time.Second}
}

// Resolve looks up host and pairs every resulting address with port, in the
// order the resolver returned them.
func (s *System) Resolve(ctx context.Context, host string, port int) ([]Endpoint, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return nil, ErrDNSFailure
	}

	endpoints := make([]Endpoint, 0, len(addrs))
	for _, a := range addrs {
		endpoints = append(endpoints, Endpoint{IP: a.IP, Port: port})
	}
	return endpoints, nil
}
