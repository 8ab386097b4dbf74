package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColdThenWarmGet(t *testing.T) {
	c := New(Config{Capacity: 5})

	_, hit := c.Lookup("example.com", "/")
	assert.False(t, hit)
	assert.EqualValues(t, 1, c.Misses())

	body := make([]byte, 200)
	require.NoError(t, c.Insert("example.com", "/", body, 200, 0))
	assert.Equal(t, 1, c.Size())

	e, hit := c.Lookup("example.com", "/")
	require.True(t, hit)
	assert.EqualValues(t, 1, c.Hits())
	assert.EqualValues(t, 1, c.Misses())
	assert.Equal(t, body, e.Body())
}

func TestEviction(t *testing.T) {
	c := New(Config{Capacity: 2})
	body := make([]byte, 1000)

	require.NoError(t, c.Insert("h1", "/p", body, 1000, 0.10))
	require.NoError(t, c.Insert("h2", "/p", body, 1000, 0.05))
	require.NoError(t, c.Insert("h3", "/p", body, 1000, 0.20))

	assert.Equal(t, 2, c.Size())
	assert.EqualValues(t, 1, c.Evictions())

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "h3", snap[0].Host)
	assert.Equal(t, "h1", snap[1].Host)
}

func TestHitReordering(t *testing.T) {
	c := New(Config{Capacity: 3})
	body := make([]byte, 1000)

	require.NoError(t, c.Insert("A", "/", body, 1000, 0.1))
	require.NoError(t, c.Insert("B", "/", body, 1000, 0.2))
	require.NoError(t, c.Insert("C", "/", body, 1000, 0.3))

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"C", "B", "A"}, []string{snap[0].Host, snap[1].Host, snap[2].Host})

	for i := 0; i < 3; i++ {
		_, hit := c.Lookup("A", "/")
		require.True(t, hit)
	}

	snap = c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"A", "C", "B"}, []string{snap[0].Host, snap[1].Host, snap[2].Host})
}

func TestInsertRejectsSizeMismatch(t *testing.T) {
	c := New(Config{Capacity: 2})
	err := c.Insert("h", "/p", []byte("abc"), 4, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestDuplicateKeysAreNotDeduplicated(t *testing.T) {
	c := New(Config{Capacity: 10})
	body := make([]byte, 10)
	require.NoError(t, c.Insert("h", "/p", body, 10, 0.1))
	require.NoError(t, c.Insert("h", "/p", body, 10, 0.1))
	assert.Equal(t, 2, c.Size())
}

func TestBoundedSizeProperty(t *testing.T) {
	const capacity = 7
	c := New(Config{Capacity: capacity})
	body := make([]byte, 100)
	for i := 0; i < 200; i++ {
		require.NoError(t, c.Insert(fmt.Sprintf("h%d", i), "/p", body, 100, float64(i)*0.01))
		assert.LessOrEqual(t, c.Size(), capacity)
	}
}

func TestOrderingMonotonic(t *testing.T) {
	c := New(Config{Capacity: 50})
	body := make([]byte, 100)
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Insert(fmt.Sprintf("h%d", i), "/p", body, 100, float64(i%11)*0.03))
	}
	for i := 0; i < 25; i++ {
		c.Lookup(fmt.Sprintf("h%d", i), "/p")
	}
	snap := c.Snapshot()
	for i := 1; i < len(snap); i++ {
		assert.GreaterOrEqual(t, snap[i-1].Score, snap[i].Score)
	}
}

func TestScoreFormula(t *testing.T) {
	c := New(Config{Capacity: 10})
	body := make([]byte, 500)
	require.NoError(t, c.Insert("h", "/p", body, 500, 0.25))
	e, _ := c.Lookup("h", "/p")
	expected := (float64(e.Frequency) * e.Latency) / float64(e.Size)
	assert.InEpsilon(t, expected, e.Score, 1e-9)
}

func TestCompressionRoundTrip(t *testing.T) {
	c := New(Config{Capacity: 5, Compress: true})
	body := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility, repeated for compressibility")
	require.NoError(t, c.Insert("h", "/p", body, int64(len(body)), 0.1))
	e, hit := c.Lookup("h", "/p")
	require.True(t, hit)
	assert.Equal(t, body, e.Body())
}

func TestMaxEntryBytesRejectsOversizedInsert(t *testing.T) {
	c := New(Config{Capacity: 5, MaxEntryBytes: 10})
	body := make([]byte, 20)
	err := c.Insert("h", "/p", body, 20, 0.1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestMsgpRoundTrip(t *testing.T) {
	e := &Entry{Host: "h", Path: "/p", Response: []byte("abc"), Size: 3, Frequency: 2, Latency: 0.5, Score: 0.333}
	b, err := e.MarshalMsg(nil)
	require.NoError(t, err)

	var e2 Entry
	_, err = e2.UnmarshalMsg(b)
	require.NoError(t, err)
	assert.Equal(t, e.Host, e2.Host)
	assert.Equal(t, e.Path, e2.Path)
	assert.Equal(t, e.Response, e2.Response)
	assert.Equal(t, e.Size, e2.Size)
	assert.Equal(t, e.Frequency, e2.Frequency)
}
