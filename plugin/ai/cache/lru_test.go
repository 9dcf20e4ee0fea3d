package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLRU[V any](capacity int, ttl time.Duration) (*LRU[V], *manualClock) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRU[V](capacity, ttl)
	c.now = clock.Now
	return c, clock
}

func TestLRU_BasicOperations(t *testing.T) {
	c, _ := newTestLRU[[]byte](100, time.Minute)

	t.Run("SetAndGet", func(t *testing.T) {
		c.Set("key1", []byte("value1"), 0)

		val, ok := c.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, []byte("value1"), val)
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		val, ok := c.Get("nonexistent")
		assert.False(t, ok)
		assert.Nil(t, val)
	})

	t.Run("UpdateExisting", func(t *testing.T) {
		c.Set("key2", []byte("original"), 0)
		c.Set("key2", []byte("updated"), 0)

		val, ok := c.Get("key2")
		assert.True(t, ok)
		assert.Equal(t, []byte("updated"), val)
		assert.Equal(t, 2, c.Len())
	})
}

func TestLRU_Expiration(t *testing.T) {
	c, clock := newTestLRU[string](100, time.Minute)

	c.Set("short", "a", time.Second)
	c.Set("default", "b", 0)

	clock.Advance(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("default")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.Len())
}

func TestLRU_Eviction(t *testing.T) {
	c, _ := newTestLRU[int](3, time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", 4, 0)

	_, ok = c.Get("b")
	assert.False(t, ok)
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
	assert.Equal(t, 3, c.Len())
}

func TestLRU_Invalidate(t *testing.T) {
	c, _ := newTestLRU[int](10, time.Minute)
	c.Set("user:1:a", 1, 0)
	c.Set("user:1:b", 2, 0)
	c.Set("user:2:a", 3, 0)

	assert.Equal(t, 2, c.Invalidate("user:1:*"))
	assert.Equal(t, 1, c.Invalidate("user:2:a"))
	assert.Equal(t, 0, c.Invalidate("missing"))
	assert.Equal(t, 0, c.Len())
}

func TestLRU_Stats(t *testing.T) {
	c, _ := newTestLRU[int](10, time.Minute)
	c.Set("a", 1, 0)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	assert.Equal(t, Stats{Size: 1, Hits: 2, Misses: 1}, c.Stats())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[int](50, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (i*200+j)%80)
				c.Set(key, j, 0)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}

func TestService_CleanupLoop(t *testing.T) {
	s := NewService[string](ServiceConfig{Capacity: 10, DefaultTTL: 10 * time.Millisecond, CleanupInterval: 5 * time.Millisecond})
	defer s.Close()

	s.Set("k", "v", 0)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	s.Close()
	assert.NotPanics(t, s.Close)
}

func TestDefaultServiceConfig(t *testing.T) {
	cfg := DefaultServiceConfig()
	assert.Equal(t, 1000, cfg.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}
