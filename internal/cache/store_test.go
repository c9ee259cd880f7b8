package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSetTryGet(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()
	s.Set("a", "hello", SetOptions{})
	v, ok := s.TryGet("a")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestStoreTryGetMiss(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()
	_, ok := s.TryGet("missing")
	assert.False(t, ok)
}

func TestStoreRemoveFiresCallback(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()
	var gotReason EvictionReason
	s.Set("a", 1, SetOptions{OnEvicted: []EvictionCallback{func(key string, value any, reason EvictionReason) {
		gotReason = reason
	}}})
	s.Remove("a")
	assert.Equal(t, EvictionRemoved, gotReason)
}

func TestStoreReplaceFiresReplaced(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()
	var reasons []EvictionReason
	cb := EvictionCallback(func(key string, value any, reason EvictionReason) { reasons = append(reasons, reason) })
	s.Set("a", 1, SetOptions{OnEvicted: []EvictionCallback{cb}})
	s.Set("a", 2, SetOptions{})
	require.Len(t, reasons, 1)
	assert.Equal(t, EvictionReplaced, reasons[0])
}

func TestStoreClearEmptiesCounters(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()
	s.Set("a", 1, SetOptions{SizeBytes: 10})
	s.Set("b", 2, SetOptions{SizeBytes: 10})
	s.Clear()
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, int64(0), s.CurrentSizeBytes())
}

func TestStoreExpirationAbsolute(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()
	past := time.Now().Add(-time.Second)
	s.Set("a", 1, SetOptions{AbsoluteExpiration: &past})
	_, ok := s.TryGet("a")
	assert.False(t, ok)
}

func TestStoreSlidingRefresh(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()
	window := 50 * time.Millisecond
	s.Set("a", 1, SetOptions{SlidingWindow: &window})

	time.Sleep(25 * time.Millisecond)
	_, ok := s.TryGet("a") // refreshes
	require.True(t, ok)

	time.Sleep(35 * time.Millisecond)
	_, ok = s.TryGet("a") // total 60ms since set, but refreshed at 25ms so only 35ms since refresh
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = s.TryGet("a")
	assert.False(t, ok)
}

func TestStoreEvictionNeverEvict(t *testing.T) {
	s := NewStore(100, 0)
	defer s.Close()
	s.Set("keep", 1, SetOptions{SizeBytes: 60, Priority: PriorityNeverEvict})
	s.Set("low", 2, SetOptions{SizeBytes: 60, Priority: PriorityLow})

	_, keepOK := s.TryGet("keep")
	assert.True(t, keepOK)
}

func TestStoreEvictionPriorityOrder(t *testing.T) {
	s := NewStore(100, 0)
	defer s.Close()
	var evictedKeys []string
	cb := EvictionCallback(func(key string, value any, reason EvictionReason) {
		if reason == EvictionCapacity {
			evictedKeys = append(evictedKeys, key)
		}
	})
	s.OnEvict(cb)

	s.Set("low", 1, SetOptions{SizeBytes: 50, Priority: PriorityLow})
	s.Set("high", 2, SetOptions{SizeBytes: 50, Priority: PriorityHigh})
	s.Set("new", 3, SetOptions{SizeBytes: 50, Priority: PriorityNormal})

	require.Contains(t, evictedKeys, "low")
	_, highOK := s.TryGet("high")
	assert.True(t, highOK)
}

func TestStoreKeysSnapshot(t *testing.T) {
	s := NewStore(0, 0)
	defer s.Close()
	s.Set("a", 1, SetOptions{})
	s.Set("b", 2, SetOptions{})
	keys := s.Keys()
	assert.Len(t, keys, 2)
}
