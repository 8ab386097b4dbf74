package classifier

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpAlwaysSafe(t *testing.T) {
	var c Classifier = NoOp{}
	v, err := c.Classify(context.Background(), "http://example.com/")
	require.NoError(t, err)
	assert.True(t, v.Safe)
}

func TestBlockPageIncludesReason(t *testing.T) {
	html := BlockPage("phishing")
	assert.Contains(t, html, "phishing")
	assert.Contains(t, html, "Access Blocked")
}

func TestBlockPageDefaultsReason(t *testing.T) {
	html := BlockPage("")
	assert.Contains(t, html, "Unknown threat detected")
}

func TestBlockResponseIsWellFormedHTTP(t *testing.T) {
	resp := BlockResponse("malware")
	s := string(resp)
	assert.True(t, strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, s, "malware")
	assert.Contains(t, s, "Content-Length:")
}
