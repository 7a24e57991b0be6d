package wbcache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// entryStore is the concurrent key→entry map of spec §4.1: size
// accounting, add/remove policy with a hard limit, putIfAbsent semantics.
// A key appears in the store at most once (invariant 2); queue membership
// is independent of that uniqueness.
type entryStore[K comparable, S any, W any, UInt any] struct {
	mu         sync.RWMutex
	m          map[K]*Entry[K, S, W, UInt]
	hardLimit  int
	targetSize int
	keyString  func(K) string

	// sf collapses concurrent admission races on the same key: without
	// it, every goroutine racing to add the same missing key would build
	// a whole new Entry (and its latch) only to discard it when the map
	// insert loses — wasteful, though not incorrect. Grounded on
	// krisalay-in-memory-cache's ShardedCache.sf field, used for the same
	// "only one loader per key" purpose.
	sf singleflight.Group
}

func newEntryStore[K comparable, S any, W any, UInt any](hardLimit, targetSize int, keyString func(K) string) *entryStore[K, S, W, UInt] {
	if keyString == nil {
		keyString = func(k K) string { return fmt.Sprintf("%v", k) }
	}
	return &entryStore[K, S, W, UInt]{
		m:          make(map[K]*Entry[K, S, W, UInt]),
		hardLimit:  hardLimit,
		targetSize: targetSize,
		keyString:  keyString,
	}
}

// mappingCount is the eventually-consistent size used for admission
// checks (spec §4.1: "we do not enforce an exact bound").
func (s *entryStore[K, S, W, UInt]) mappingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *entryStore[K, S, W, UInt]) get(key K) (*Entry[K, S, W, UInt], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[key]
	return e, ok
}

type fetchOrAddResult[K comparable, S any, W any, UInt any] struct {
	entry *Entry[K, S, W, UInt]
	added bool
}

// fetchOrAdd returns the existing entry for key, or constructs one via
// newEntryFn and inserts it if missing. added reports which happened, so
// the caller enqueues the fresh entry onto the main and read queues only
// once (spec §4.1's admission ordering: construct → putIfAbsent → enqueue
// main → enqueue read). Returns a *CacheFullError when the key is missing
// and the store is already at hardLimit.
func (s *entryStore[K, S, W, UInt]) fetchOrAdd(key K, newEntryFn func() *Entry[K, S, W, UInt]) (*Entry[K, S, W, UInt], bool, error) {
	if e, ok := s.get(key); ok {
		return e, false, nil
	}

	v, err, _ := s.sf.Do(s.keyString(key), func() (interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.m[key]; ok {
			return fetchOrAddResult[K, S, W, UInt]{entry: e, added: false}, nil
		}
		if len(s.m) >= s.hardLimit {
			return nil, &CacheFullError{Limit: s.hardLimit, Size: len(s.m)}
		}
		ne := newEntryFn()
		s.m[key] = ne
		return fetchOrAddResult[K, S, W, UInt]{entry: ne, added: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(fetchOrAddResult[K, S, W, UInt])
	return r.entry, r.added, nil
}

// overTarget reports whether the store is over its soft size target — a
// warning condition (spec §4.1), not a hard failure.
func (s *entryStore[K, S, W, UInt]) overTarget() bool {
	return s.mappingCount() > s.targetSize
}

// removeIfSame performs a putIfAbsent-style compare-and-delete: only
// removes key if the store still maps it to exactly e, so a racing
// recycle/resync that replaced the entry in between is left untouched.
func (s *entryStore[K, S, W, UInt]) removeIfSame(key K, e *Entry[K, S, W, UInt]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[key]; ok && cur == e {
		delete(s.m, key)
		return true
	}
	return false
}

// forceRemove deletes key unconditionally. The admission path does not
// call it: queue Put has no failure result to retract an entry on.
func (s *entryStore[K, S, W, UInt]) forceRemove(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}
