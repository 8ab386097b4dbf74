package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLocalhost(t *testing.T) {
	r := New()
	eps, err := r.Resolve(context.Background(), "localhost", 80)
	require.NoError(t, err)
	require.NotEmpty(t, eps)
	for _, e := range eps {
		assert.Equal(t, 80, e.Port)
		assert.NotNil(t, e.IP)
	}
}

func TestResolveUnknownHostFails(t *testing.T) {
	r := New()
	_, err := r.Resolve(context.Background(), "this-host-should-not-exist.invalid.", 80)
	assert.ErrorIs(t, err, ErrDNSFailure)
}

func TestEndpointString(t *testing.T) {
	r := New()
	eps, err := r.Resolve(context.Background(), "localhost", 443)
	require.NoError(t, err)
	require.NotEmpty(t, eps)
	assert.Contains(t, eps[0].String(), "443")
}
