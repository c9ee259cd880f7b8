package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolrun/internal/fingerprint"
	"toolrun/internal/toolrun"
)

func newTestCache() *ExecutionCache {
	store := NewStore(0, 0)
	return NewExecutionCache(store, time.Hour)
}

func TestExecutionCacheMissThenHit(t *testing.T) {
	c := newTestCache()
	key := c.GenerateCacheKey("echo", map[string]any{"x": 1}, nil)

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, "echo", toolrun.ToolResult{Success: true, Data: "hi"}, SetPolicy{})
	cached, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(1), cached.HitCount)

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
}

func TestExecutionCacheDoesNotStoreFailuresByDefault(t *testing.T) {
	c := newTestCache()
	c.Set("k", "echo", toolrun.ToolResult{Success: false}, SetPolicy{})
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestExecutionCacheStoresFailuresWhenPolicySays(t *testing.T) {
	c := newTestCache()
	c.Set("k", "echo", toolrun.ToolResult{Success: false}, SetPolicy{CacheFailures: true})
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestExecutionCacheInvalidateTransitive(t *testing.T) {
	c := newTestCache()
	c.Set("root", "a", toolrun.ToolResult{Success: true}, SetPolicy{})
	c.Set("child", "a", toolrun.ToolResult{Success: true}, SetPolicy{Dependencies: []string{"root"}})
	c.Set("grandchild", "a", toolrun.ToolResult{Success: true}, SetPolicy{Dependencies: []string{"child"}})

	count := c.Invalidate("root")
	assert.Equal(t, 3, count)

	_, ok := c.Get("child")
	assert.False(t, ok)
	_, ok = c.Get("grandchild")
	assert.False(t, ok)
}

func TestExecutionCacheInvalidateByTool(t *testing.T) {
	c := newTestCache()
	c.Set("a1", "A", toolrun.ToolResult{Success: true}, SetPolicy{})
	c.Set("a2", "A", toolrun.ToolResult{Success: true}, SetPolicy{})
	c.Set("a3", "A", toolrun.ToolResult{Success: true}, SetPolicy{})
	c.Set("b1", "B", toolrun.ToolResult{Success: true}, SetPolicy{})
	c.Set("b2", "B", toolrun.ToolResult{Success: true}, SetPolicy{})

	count := c.InvalidateByTool("A")
	assert.Equal(t, 3, count)

	stats := c.Statistics()
	assert.Equal(t, 2, stats.TotalEntries)
}

func TestExecutionCacheInvalidateByPattern(t *testing.T) {
	c := newTestCache()
	c.Set("user:1:profile", "a", toolrun.ToolResult{Success: true}, SetPolicy{})
	c.Set("user:2:profile", "a", toolrun.ToolResult{Success: true}, SetPolicy{})
	c.Set("org:1:profile", "a", toolrun.ToolResult{Success: true}, SetPolicy{})

	count := c.InvalidateByPattern("user:*:profile")
	assert.Equal(t, 2, count)
}

func TestExecutionCacheSlidingExpirationScenario(t *testing.T) {
	c := newTestCache()
	window := 2 * time.Second
	c.Set("k", "a", toolrun.ToolResult{Success: true}, SetPolicy{SlidingWindow: &window})

	// Only checks that a sliding-window entry is retrievable right after
	// Set; the refresh-on-access timing is covered by TestStoreSlidingRefresh
	// in store_test.go.
	_, ok := c.Get("k")
	require.True(t, ok)
}

func TestExecutionCacheClear(t *testing.T) {
	c := newTestCache()
	c.Set("a", "t", toolrun.ToolResult{Success: true}, SetPolicy{})
	c.Clear()
	stats := c.Statistics()
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestGenerateCacheKeyDelegatesToFingerprint(t *testing.T) {
	c := newTestCache()
	got := c.GenerateCacheKey("t", map[string]any{"a": 1}, &fingerprint.Context{UserID: "u"})
	want := fingerprint.Compute("t", map[string]any{"a": 1}, &fingerprint.Context{UserID: "u"})
	assert.Equal(t, want, got)
}
