// Package cache implements the Result Store (a size-bounded, priority-aware
// key/value store with expiration and eviction callbacks) and the
// Execution Cache layered on top of it.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Priority controls eviction order under capacity pressure. Lower
// priorities are evicted first; NeverEvict is never a capacity-eviction
// candidate.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityNeverEvict
)

// EvictionReason is passed to eviction callbacks.
type EvictionReason string

const (
	EvictionNone     EvictionReason = "None"
	EvictionRemoved  EvictionReason = "Removed"
	EvictionReplaced EvictionReason = "Replaced"
	EvictionExpired  EvictionReason = "Expired"
	EvictionCapacity EvictionReason = "Capacity"
)

// EvictionCallback is invoked after a store mutation commits. It MUST NOT
// hold store locks and may run on any goroutine.
type EvictionCallback func(key string, value any, reason EvictionReason)

// SetOptions configures a Store.Set call.
type SetOptions struct {
	AbsoluteExpiration *time.Time
	SlidingWindow      *time.Duration
	Priority           Priority
	SizeBytes          int64
	Dependencies       []string
	OnEvicted          []EvictionCallback
}

type entry struct {
	key           string
	value         any
	priority      Priority
	dependencies  map[string]struct{}
	slidingWindow *time.Duration
	sizeBytes     int64
	expiresAt     *time.Time
	cachedAt      time.Time
	lastAccessed  time.Time
	hitCount      int64
	callbacks     []EvictionCallback
}

// Store is a thread-safe, size-bounded key/value store with priority
// eviction, absolute/sliding expiration, and post-eviction callbacks. It is
// the exclusive owner of its entries: invalidation and eviction are the
// only removal paths.
type Store struct {
	mu              sync.RWMutex
	entries         map[string]*entry
	currentSize     int64
	maxSizeBytes    int64
	cleanupInterval time.Duration
	globalEvict     []EvictionCallback
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewStore creates a Store bounded at maxSizeBytes, with a background
// cleanup sweep every cleanupInterval removing expired entries. A
// non-positive cleanupInterval disables the background sweep.
func NewStore(maxSizeBytes int64, cleanupInterval time.Duration) *Store {
	s := &Store{
		entries:         make(map[string]*entry),
		maxSizeBytes:    maxSizeBytes,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// OnEvict registers a store-wide callback invoked for every eviction,
// alongside any per-entry callbacks passed to Set.
func (s *Store) OnEvict(cb EvictionCallback) {
	s.mu.Lock()
	s.globalEvict = append(s.globalEvict, cb)
	s.mu.Unlock()
}

// Close stops the background cleanup sweep.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) removeExpired() {
	now := time.Now()
	var expired []*entry
	s.mu.Lock()
	for k, e := range s.entries {
		if e.expiresAt != nil && !now.Before(*e.expiresAt) {
			expired = append(expired, e)
			delete(s.entries, k)
			s.currentSize -= e.sizeBytes
		}
	}
	s.mu.Unlock()
	for _, e := range expired {
		s.fireEvict(e, EvictionExpired)
	}
}

// Set installs value under key. If key already held a value, its eviction
// callbacks fire first with reason Replaced. If the store would exceed
// maxSizeBytes, lower-priority entries are evicted (priority ascending,
// then lastAccessed ascending) until there is room or no candidates
// remain; the write still proceeds even if not enough space could be
// freed — the store over-commits rather than rejecting the write.
func (s *Store) Set(key string, value any, opts SetOptions) {
	now := time.Now()
	expiresAt := opts.AbsoluteExpiration
	if expiresAt == nil && opts.SlidingWindow != nil {
		t := now.Add(*opts.SlidingWindow)
		expiresAt = &t
	}

	deps := make(map[string]struct{}, len(opts.Dependencies))
	for _, d := range opts.Dependencies {
		deps[d] = struct{}{}
	}

	newEntry := &entry{
		key:           key,
		value:         value,
		priority:      opts.Priority,
		dependencies:  deps,
		slidingWindow: opts.SlidingWindow,
		sizeBytes:     opts.SizeBytes,
		expiresAt:     expiresAt,
		cachedAt:      now,
		lastAccessed:  now,
		callbacks:     opts.OnEvicted,
	}

	var replaced *entry
	var evicted []*entry

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		replaced = old
		s.currentSize -= old.sizeBytes
		delete(s.entries, key)
	}
	if s.maxSizeBytes > 0 && s.currentSize+opts.SizeBytes > s.maxSizeBytes {
		evicted = s.evictLocked(s.currentSize + opts.SizeBytes - s.maxSizeBytes)
	}
	s.entries[key] = newEntry
	s.currentSize += opts.SizeBytes
	s.mu.Unlock()

	if replaced != nil {
		s.fireEvict(replaced, EvictionReplaced)
	}
	for _, e := range evicted {
		s.fireEvict(e, EvictionCapacity)
	}
}

// evictLocked must be called with s.mu held. It removes entries (priority
// ascending, then lastAccessed ascending) until needed bytes are freed or
// no NeverEvict-exempt candidates remain.
func (s *Store) evictLocked(needed int64) []*entry {
	candidates := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.priority != PriorityNeverEvict {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
	})

	var freed int64
	var evicted []*entry
	for _, e := range candidates {
		if freed >= needed {
			break
		}
		delete(s.entries, e.key)
		s.currentSize -= e.sizeBytes
		freed += e.sizeBytes
		evicted = append(evicted, e)
	}
	return evicted
}

// TryGet returns the value for key, or (nil, false) if absent or expired.
// An expired entry is removed (firing Expired) as part of the lookup. A
// hit against an entry with a sliding window refreshes its expiration.
func (s *Store) TryGet(key string) (any, bool) {
	now := time.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if e.expiresAt != nil && !now.Before(*e.expiresAt) {
		delete(s.entries, key)
		s.currentSize -= e.sizeBytes
		s.mu.Unlock()
		s.fireEvict(e, EvictionExpired)
		return nil, false
	}
	if e.slidingWindow != nil {
		t := now.Add(*e.slidingWindow)
		e.expiresAt = &t
	}
	e.lastAccessed = now
	e.hitCount++
	value := e.value
	s.mu.Unlock()
	return value, true
}

// Remove deletes key, firing Removed if it existed.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, key)
	s.currentSize -= e.sizeBytes
	s.mu.Unlock()
	s.fireEvict(e, EvictionRemoved)
	return true
}

// Clear removes every entry, firing Removed for each.
func (s *Store) Clear() {
	s.mu.Lock()
	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.entries = make(map[string]*entry)
	s.currentSize = 0
	s.mu.Unlock()
	for _, e := range all {
		s.fireEvict(e, EvictionRemoved)
	}
}

// Count returns the number of live entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// CurrentSizeBytes returns the sum of SizeBytes across live entries.
func (s *Store) CurrentSizeBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// StatsString renders a human-readable occupancy summary for logs, e.g.
// "128 entries, 4.2 MB / 64 MB".
func (s *Store) StatsString() string {
	s.mu.RLock()
	count := len(s.entries)
	size := s.currentSize
	max := s.maxSizeBytes
	s.mu.RUnlock()

	if max <= 0 {
		return fmt.Sprintf("%d entries, %s", count, humanize.Bytes(uint64(size)))
	}
	return fmt.Sprintf("%d entries, %s / %s", count, humanize.Bytes(uint64(size)), humanize.Bytes(uint64(max)))
}

// Keys returns a snapshot of all live keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Dependencies returns the dependency set recorded for key, if any.
func (s *Store) Dependencies(key string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(e.dependencies))
	for d := range e.dependencies {
		out = append(out, d)
	}
	return out, true
}

// HitCount returns the recorded hit count for key, if present.
func (s *Store) HitCount(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	return e.hitCount, true
}

// EntryInfo is a snapshot of an entry's bookkeeping fields, used by callers
// that need more than the raw value (e.g. the Execution Cache building a
// CachedResult).
type EntryInfo struct {
	CachedAt     time.Time
	LastAccessed time.Time
	ExpiresAt    *time.Time
	HitCount     int64
	Priority     Priority
	SizeBytes    int64
}

// Info returns bookkeeping data for key without affecting sliding
// expiration or hit count (unlike TryGet).
func (s *Store) Info(key string) (EntryInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{
		CachedAt:     e.cachedAt,
		LastAccessed: e.lastAccessed,
		ExpiresAt:    e.expiresAt,
		HitCount:     e.hitCount,
		Priority:     e.priority,
		SizeBytes:    e.sizeBytes,
	}, true
}

func (s *Store) fireEvict(e *entry, reason EvictionReason) {
	s.mu.RLock()
	global := append([]EvictionCallback(nil), s.globalEvict...)
	s.mu.RUnlock()
	for _, cb := range global {
		cb(e.key, e.value, reason)
	}
	for _, cb := range e.callbacks {
		cb(e.key, e.value, reason)
	}
}
