package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, defaultListenPort, c.Listener.ListenPort)
	assert.Equal(t, defaultCacheCapacity, c.Cache.Capacity)
	assert.Equal(t, 0, c.Listener.MaxConnections)
	assert.Equal(t, defaultTracerImplementation, c.Tracing.Implementation)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/proxy.conf"
	contents := `
[listener]
listen_port = 9999

[cache]
capacity = 128
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	c := NewConfig()
	require.NoError(t, c.loadFile(path))
	assert.Equal(t, 9999, c.Listener.ListenPort)
	assert.Equal(t, 128, c.Cache.Capacity)
	// untouched fields keep their defaults
	assert.Equal(t, defaultCacheCompression, c.Cache.Compression)
}

func TestStringRoundTripsTOML(t *testing.T) {
	c := NewConfig()
	s := c.String()
	assert.True(t, strings.Contains(s, "listen_port"))
}
