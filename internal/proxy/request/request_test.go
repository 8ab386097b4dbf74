package request

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAbsoluteForm(t *testing.T) {
	buf := []byte("GET http://example.com/foo HTTP/1.1\r\nHost: example.com\r\n\r\n")
	r, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "GET", r.Method)
	assert.Equal(t, "example.com", r.Host)
	assert.Equal(t, "/foo", r.Path)
}

func TestParseHostHeaderForm(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	r, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "example.com", r.Host)
	assert.Equal(t, "/", r.Path)
}

func TestParseMissingTargetIsMalformed(t *testing.T) {
	buf := []byte("GET  HTTP/1.1\r\nHost: example.com\r\n\r\n")
	_, err := Parse(buf)
	// two consecutive spaces collapse under Fields, so the request line has
	// only two tokens and is rejected; an empty target never reaches the
	// path-defaulting branch.
	assert.Error(t, err)
}

func TestParseConnect(t *testing.T) {
	buf := []byte("CONNECT secure.example:443 HTTP/1.1\r\n\r\n")
	r, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "CONNECT", r.Method)
	assert.Equal(t, "secure.example", r.Host)
	assert.Equal(t, 443, ConnectPort(r.Target))
}

func TestParseConnectDefaultPort(t *testing.T) {
	buf := []byte("CONNECT secure.example HTTP/1.1\r\n\r\n")
	r, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "secure.example", r.Host)
	assert.Equal(t, 443, ConnectPort(r.Target))
}

func TestParseMalformedRequestLine(t *testing.T) {
	buf := []byte("FOO /bar\r\n\r\n")
	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseNoTerminator(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n")
	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseOverlongMethod(t *testing.T) {
	buf := []byte("REALLYREALLYLONGMETHODNAME / HTTP/1.1\r\nHost: h\r\n\r\n")
	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseMissingHostHeader(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\n\r\n")
	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParserRoundTrip(t *testing.T) {
	cases := []string{
		"http://example.com/",
		"http://example.com/foo/bar",
		"http://a.b.c/x?y=1",
	}
	for _, target := range cases {
		buf := []byte(fmt.Sprintf("GET %s HTTP/1.1\r\nHost: placeholder\r\n\r\n", target))
		r, err := Parse(buf)
		require.NoError(t, err)
		recomposed := fmt.Sprintf("http://%s%s", r.Host, r.Path)
		assert.Equal(t, target, recomposed)
	}
}

func TestHeaderValueCaseInsensitive(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nhOsT: example.com\r\n\r\n")
	r, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "example.com", r.Host)
}
