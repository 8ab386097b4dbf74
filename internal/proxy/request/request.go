// Package request parses a raw client request into its method, target,
// version, and derived (host, path) cache key, grounded on
// original_source/proxy/ClientToServer.c's sscanf-based request-line parse
// and EntryClient.c's CONNECT/Host-header host derivation. This is a
// bespoke wire grammar, not full HTTP/1.1, so it is parsed by hand rather
// than handed to net/http's parser.
package request

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// ErrMalformed is returned for any request that fails to parse or that
// overflows one of the length caps below.
var ErrMalformed = errors.New("request: malformed request")

const (
	maxMethodLen  = 15
	maxTargetLen  = 511
	maxVersionLen = 15

	defaultHTTPSPort = 443
)

// Request is the transient record extracted from one client request.
type Request struct {
	Method  string
	Target  string
	Version string
	Headers []byte

	Host string
	Path string
}

// Terminator is the header-block terminator the dispatcher scans for
// before handing bytes to Parse.
const Terminator = "\r\n\r\n"

// Parse splits buf (a complete header block, terminated by \r\n\r\n) into a
// Request and derives (Host, Path) per the rules in §4.4: absolute-form
// targets strip their scheme; CONNECT targets are host:port; otherwise the
// target is the path and Host: is read from the header block.
func Parse(buf []byte) (*Request, error) {
	idx := bytes.Index(buf, []byte(Terminator))
	if idx < 0 {
		return nil, ErrMalformed
	}
	head := buf[:idx]

	lineEnd := bytes.Index(head, []byte("\r\n"))
	var requestLine, headers []byte
	if lineEnd < 0 {
		requestLine = head
		headers = nil
	} else {
		requestLine = head[:lineEnd]
		headers = head[lineEnd+2:]
	}

	fields := strings.Fields(string(requestLine))
	if len(fields) != 3 {
		return nil, ErrMalformed
	}
	method, target, version := fields[0], fields[1], fields[2]

	if len(method) > maxMethodLen || len(target) > maxTargetLen || len(version) > maxVersionLen {
		return nil, ErrMalformed
	}

	r := &Request{Method: method, Target: target, Version: version, Headers: headers}

	host, path, err := deriveHostPath(method, target, headers)
	if err != nil {
		return nil, err
	}
	r.Host = host
	r.Path = path

	return r, nil
}

func deriveHostPath(method, target string, headers []byte) (string, string, error) {
	switch {
	case strings.HasPrefix(target, "http://"):
		return splitAuthorityPath(target[len("http://"):])
	case strings.HasPrefix(target, "https://"):
		return splitAuthorityPath(target[len("https://"):])
	case method == "CONNECT":
		host, _, err := splitHostPort(target, defaultHTTPSPort)
		if err != nil {
			return "", "", err
		}
		return host, "", nil
	default:
		path := target
		if path == "" {
			path = "/"
		}
		host := headerValue(headers, "Host")
		if host == "" {
			return "", "", ErrMalformed
		}
		return strings.ToLower(host), path, nil
	}
}

func splitAuthorityPath(rest string) (string, string, error) {
	slash := strings.IndexByte(rest, '/')
	var authority, path string
	if slash < 0 {
		authority = rest
		path = "/"
	} else {
		authority = rest[:slash]
		path = rest[slash:]
	}
	if authority == "" {
		return "", "", ErrMalformed
	}
	host := authority
	if colon := strings.IndexByte(authority, ':'); colon >= 0 {
		host = authority[:colon]
	}
	return strings.ToLower(host), path, nil
}

func splitHostPort(target string, defaultPort int) (string, int, error) {
	colon := strings.LastIndexByte(target, ':')
	if colon < 0 {
		if target == "" {
			return "", 0, ErrMalformed
		}
		return strings.ToLower(target), defaultPort, nil
	}
	host := target[:colon]
	portStr := target[colon+1:]
	if host == "" {
		return "", 0, ErrMalformed
	}
	if portStr == "" {
		return strings.ToLower(host), defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, ErrMalformed
	}
	return strings.ToLower(host), port, nil
}

// headerValue returns the first occurrence of header name (case-insensitive),
// trimmed of leading whitespace, stopping at \r.
func headerValue(headers []byte, name string) string {
	lines := bytes.Split(headers, []byte("\r\n"))
	prefix := strings.ToLower(name) + ":"
	for _, line := range lines {
		s := string(line)
		if len(s) <= len(prefix) {
			continue
		}
		if strings.ToLower(s[:len(prefix)]) == prefix {
			return strings.TrimLeft(s[len(prefix):], " \t")
		}
	}
	return ""
}

// ConnectPort returns the port carried in a CONNECT target (host:port),
// defaulting to 443 when absent.
func ConnectPort(target string) int {
	_, port, err := splitHostPort(target, defaultHTTPSPort)
	if err != nil {
		return defaultHTTPSPort
	}
	return port
}
