package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/clock"
)

func TestCache_BasicOperations(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 10, TTL: time.Minute})

	c.Set("key1", 100)
	value, found := c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, 100, value)

	_, found = c.Get("missing")
	assert.False(t, found)

	assert.True(t, c.Delete("key1"))
	assert.False(t, c.Delete("key1"))

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestCache_ExpiresAfterWrite(t *testing.T) {
	fc := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New[string, string](Config{TTL: 3 * time.Second, Now: fc.Now})

	c.Set("r1", "committed")
	fc.Advance(2 * time.Second)
	_, found := c.Get("r1")
	require.True(t, found, "reads do not extend the lifetime but the entry is still fresh")

	fc.Advance(time.Second)
	_, found = c.Get("r1")
	assert.False(t, found)
	assert.EqualValues(t, 1, c.Stats().Expires)
}

func TestCache_CleanExpired(t *testing.T) {
	fc := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New[int, int](Config{TTL: time.Second, Now: fc.Now})

	c.Set(1, 1)
	fc.Advance(500 * time.Millisecond)
	c.Set(2, 2)
	fc.Advance(600 * time.Millisecond)

	assert.Equal(t, 1, c.CleanExpired())
	assert.Equal(t, 1, c.Size())
}

func TestCache_LRUEviction(t *testing.T) {
	c := New[string, int](Config{Name: "lru", MaxSize: 2})

	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a") // b 成为最久未使用
	c.Set("c", 3)

	_, found := c.Get("b")
	assert.False(t, found)
	_, found = c.Get("a")
	assert.True(t, found)
	assert.EqualValues(t, 1, c.Stats().Evictions)
	assert.Contains(t, c.String(), "Cache[lru]")
}
