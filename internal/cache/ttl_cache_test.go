package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time { return f.t }

func TestTTLCacheExpires(t *testing.T) {
	clock := &fakeNow{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTTLCache[string, int](10, clock.now)

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.t = clock.t.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheBoundsSize(t *testing.T) {
	clock := &fakeNow{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTTLCache[int, int](2, clock.now)

	c.Set(1, 1, time.Second)
	c.Set(2, 2, time.Minute)
	clock.t = clock.t.Add(2 * time.Second)

	c.Set(3, 3, time.Minute)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Set(4, 4, time.Minute)
	assert.Equal(t, 2, c.Len())
	v, ok := c.Get(4)
	assert.True(t, ok)
	assert.Equal(t, 4, v)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("k", "v", time.Minute)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}
