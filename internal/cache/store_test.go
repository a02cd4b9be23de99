package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	s := New(4)
	s.Set("a", 1, time.Minute)

	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	s := New(4)
	s.Set("a", 1, 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "expired entries are dropped on access")
}

func TestLRUBound(t *testing.T) {
	s := New(2)
	s.Set("a", 1, time.Minute)
	s.Set("b", 2, time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := s.Get("a")
	assert.True(t, ok)

	s.Set("c", 3, time.Minute)

	_, ok = s.Get("b")
	assert.False(t, ok, "least recently used entry is evicted at the cap")
	_, ok = s.Get("a")
	assert.True(t, ok)
	_, ok = s.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestSetUpdatesExisting(t *testing.T) {
	s := New(2)
	s.Set("a", 1, time.Minute)
	s.Set("a", 2, time.Minute)

	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, s.Len())
}

func TestPurge(t *testing.T) {
	s := New(8)
	s.Set("short-1", 1, 5*time.Millisecond)
	s.Set("short-2", 2, 5*time.Millisecond)
	s.Set("long", 3, time.Minute)

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, s.Purge())
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("long")
	assert.True(t, ok)
}

func TestDelete(t *testing.T) {
	s := New(4)
	s.Set("a", 1, time.Minute)
	s.Delete("a")
	s.Delete("never-existed")

	_, ok := s.Get("a")
	assert.False(t, ok)
}
