package cache

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"toolrun/internal/fingerprint"
	"toolrun/internal/toolrun"
)

// CachedResult is the externally visible shape of a cached tool result.
type CachedResult struct {
	Key          string
	ToolID       string
	Result       toolrun.ToolResult
	CachedAt     time.Time
	ExpiresAt    *time.Time
	HitCount     int64
	LastAccessed *time.Time
	Metadata     map[string]any
}

// SetPolicy controls how ExecutionCache.Set installs a result. Exactly one
// of AbsoluteExpiration, TTL, or SlidingWindow should be set; if none are,
// the cache's DefaultTTL applies.
type SetPolicy struct {
	AbsoluteExpiration *time.Time
	TTL                *time.Duration
	SlidingWindow      *time.Duration
	Priority           Priority
	CacheFailures      bool
	Dependencies       []string
}

// ToolStatistics is the per-tool breakdown within Statistics.
type ToolStatistics struct {
	EntryCount int
	SizeBytes  int64
}

// Statistics is a snapshot of cache activity.
type Statistics struct {
	TotalEntries  int
	HitCount      int64
	MissCount     int64
	EvictionCount int64
	ExpiredCount  int
	HitRatio      float64
	PerTool       map[string]ToolStatistics
}

type cachedEntry struct {
	toolID   string
	result   toolrun.ToolResult
	metadata map[string]any
}

// ExecutionCache adds tool-semantic operations — invalidation by key,
// glob pattern, tool, or dependency closure, and statistics — on top of a
// Result Store.
type ExecutionCache struct {
	store      *Store
	defaultTTL time.Duration

	mu         sync.RWMutex
	toolOf     map[string]string              // key -> toolId, for invalidateByTool
	dependents map[string]map[string]struct{} // depKey -> set of dependent keys

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewExecutionCache wraps store with tool-result semantics. defaultTTL
// applies to entries whose SetPolicy specifies no expiration.
func NewExecutionCache(store *Store, defaultTTL time.Duration) *ExecutionCache {
	c := &ExecutionCache{
		store:      store,
		defaultTTL: defaultTTL,
		toolOf:     make(map[string]string),
		dependents: make(map[string]map[string]struct{}),
	}
	store.OnEvict(c.onEvict)
	return c
}

func (c *ExecutionCache) onEvict(key string, _ any, reason EvictionReason) {
	if reason == EvictionNone {
		return
	}
	c.evictions.Add(1)
	c.mu.Lock()
	delete(c.toolOf, key)
	delete(c.dependents, key)
	c.mu.Unlock()
}

// GenerateCacheKey delegates to the fingerprint package.
func (c *ExecutionCache) GenerateCacheKey(toolID string, params map[string]any, ctx *fingerprint.Context) string {
	return fingerprint.Compute(toolID, params, ctx)
}

// Get returns the cached result for key, or (nil, false) on a miss. A hit
// increments the hit counter and the entry's hit count.
func (c *ExecutionCache) Get(key string) (*CachedResult, bool) {
	v, ok := c.store.TryGet(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	ce := v.(cachedEntry)
	info, _ := c.store.Info(key)
	var lastAccessed *time.Time
	la := info.LastAccessed
	lastAccessed = &la
	return &CachedResult{
		Key:          key,
		ToolID:       ce.toolID,
		Result:       ce.result,
		CachedAt:     info.CachedAt,
		ExpiresAt:    info.ExpiresAt,
		HitCount:     info.HitCount,
		LastAccessed: lastAccessed,
		Metadata:     ce.metadata,
	}, true
}

// Set installs a tool result under key. If the result was unsuccessful and
// policy.CacheFailures is false, Set is a no-op.
func (c *ExecutionCache) Set(key, toolID string, result toolrun.ToolResult, policy SetPolicy) {
	if !result.Success && !policy.CacheFailures {
		return
	}

	opts := SetOptions{
		Priority:     policy.Priority,
		Dependencies: policy.Dependencies,
	}
	switch {
	case policy.AbsoluteExpiration != nil:
		opts.AbsoluteExpiration = policy.AbsoluteExpiration
	case policy.TTL != nil:
		t := time.Now().Add(*policy.TTL)
		opts.AbsoluteExpiration = &t
	case policy.SlidingWindow != nil:
		opts.SlidingWindow = policy.SlidingWindow
	case c.defaultTTL > 0:
		t := time.Now().Add(c.defaultTTL)
		opts.AbsoluteExpiration = &t
	}

	metadata := map[string]any{}
	opts.SizeBytes = estimateSize(result)

	c.store.Set(key, cachedEntry{toolID: toolID, result: result, metadata: metadata}, opts)

	c.mu.Lock()
	c.toolOf[key] = toolID
	for _, dep := range policy.Dependencies {
		set, ok := c.dependents[dep]
		if !ok {
			set = make(map[string]struct{})
			c.dependents[dep] = set
		}
		set[key] = struct{}{}
	}
	c.mu.Unlock()
}

func estimateSize(result toolrun.ToolResult) int64 {
	// Rough, deterministic estimate; exact byte accounting is not required
	// by the contract, only a consistent ordering signal for eviction.
	size := int64(len(result.Error)) + 64
	if s, ok := result.Data.(string); ok {
		size += int64(len(s))
	} else {
		size += 128
	}
	return size
}

// Invalidate removes key and every key in its transitive dependency
// closure.
func (c *ExecutionCache) Invalidate(key string) int {
	visited := map[string]struct{}{}
	c.invalidateRecursive(key, visited)
	return len(visited)
}

func (c *ExecutionCache) invalidateRecursive(key string, visited map[string]struct{}) {
	if _, seen := visited[key]; seen {
		return
	}
	visited[key] = struct{}{}

	c.mu.RLock()
	deps := make([]string, 0, len(c.dependents[key]))
	for d := range c.dependents[key] {
		deps = append(deps, d)
	}
	c.mu.RUnlock()

	c.store.Remove(key)

	for _, dep := range deps {
		c.invalidateRecursive(dep, visited)
	}
}

// InvalidateByPattern removes every key matching a glob pattern using '*'
// and '?' wildcards, returning the count removed.
func (c *ExecutionCache) InvalidateByPattern(pattern string) int {
	count := 0
	for _, key := range c.store.Keys() {
		if matched, _ := filepath.Match(pattern, key); matched {
			if c.store.Remove(key) {
				count++
			}
		}
	}
	return count
}

// InvalidateByTool removes every entry whose stored toolID matches,
// returning the count removed.
func (c *ExecutionCache) InvalidateByTool(toolID string) int {
	c.mu.RLock()
	var keys []string
	for k, t := range c.toolOf {
		if t == toolID {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()

	count := 0
	for _, k := range keys {
		if c.store.Remove(k) {
			count++
		}
	}
	return count
}

// Clear empties the cache.
func (c *ExecutionCache) Clear() {
	c.store.Clear()
}

// Statistics returns a snapshot of cache activity.
func (c *ExecutionCache) Statistics() Statistics {
	hits := c.hits.Load()
	misses := c.misses.Load()
	ratio := 0.0
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}

	perTool := make(map[string]ToolStatistics)
	expired := 0
	now := time.Now()
	c.mu.RLock()
	for key, toolID := range c.toolOf {
		info, ok := c.store.Info(key)
		if !ok {
			continue
		}
		if info.ExpiresAt != nil && !now.Before(*info.ExpiresAt) {
			expired++
			continue
		}
		ts := perTool[toolID]
		ts.EntryCount++
		ts.SizeBytes += info.SizeBytes
		perTool[toolID] = ts
	}
	c.mu.RUnlock()

	return Statistics{
		TotalEntries:  c.store.Count(),
		HitCount:      hits,
		MissCount:     misses,
		EvictionCount: c.evictions.Load(),
		ExpiredCount:  expired,
		HitRatio:      ratio,
		PerTool:       perTool,
	}
}
