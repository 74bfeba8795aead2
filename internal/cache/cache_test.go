package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(zaptest.NewLogger(t), Config{TTL: time.Minute, MaxSizeMB: 4})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_SetGet(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("price:BTC", []byte(`{"usd":65000}`)))

	value, ok := c.Get("price:BTC")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"usd":65000}`), value)

	_, ok = c.Get("price:DOGE")
	assert.False(t, ok)
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("key", []byte("value")))
	require.NoError(t, c.Delete("key"))

	_, ok := c.Get("key")
	assert.False(t, ok)

	// Deleting an absent key is not an error
	assert.NoError(t, c.Delete("never-there"))
}

func TestCache_Reset(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("a", []byte("1")))
	require.NoError(t, c.Set("b", []byte("2")))
	require.Equal(t, 2, c.Len())

	require.NoError(t, c.Reset())
	assert.Equal(t, 0, c.Len())

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats["resets"])
}

func TestCache_Stats(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("hit", []byte("x")))
	c.Get("hit")
	c.Get("miss")

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats["hits"])
	assert.Equal(t, uint64(1), stats["misses"])
	assert.Equal(t, 1, stats["entries"])
}

func TestCache_DefaultsAppliedForZeroTTL(t *testing.T) {
	c, err := New(zaptest.NewLogger(t), Config{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("k", []byte("v")))
	_, ok := c.Get("k")
	assert.True(t, ok)
}
