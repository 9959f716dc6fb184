// Package index implements the tier index: a sharded, concurrent mapping
// from cache key to the descriptor of the entry's current physical location.
//
// The index is the single source of truth for existence and placement.
// All location changes commit through compare-and-swap so a reader never
// observes a half-updated descriptor; a failed CAS means a concurrent
// mutation won the race and the caller must retry or discard its work.
package index

import (
	"sync"

	"github.com/IvanBrykalov/tiercache/internal/util"
)

// Index is a sharded key -> Descriptor map. All methods are safe for
// concurrent use; mutations are linearizable with respect to Lookup.
type Index struct {
	shards []*shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]Descriptor
	// graves remembers the last generation of removed keys. A removed
	// record's bytes can survive on media until the space is reused, so a
	// later insert of the same key must keep the generation chain rising
	// or recovery would prefer the stale record. Cleared on re-insert.
	graves map[string]uint64
}

// New constructs an Index with the given shard count; n <= 0 picks an
// automatic power-of-two count from CPU parallelism.
func New(n int) *Index {
	if n <= 0 {
		n = util.ReasonableShardCount()
	} else {
		n = int(util.NextPow2(uint64(n)))
	}
	ix := &Index{shards: make([]*shard, n)}
	for i := range ix.shards {
		ix.shards[i] = &shard{
			m:      make(map[string]Descriptor),
			graves: make(map[string]uint64),
		}
	}
	return ix
}

func (ix *Index) shardFor(key string) *shard {
	return ix.shards[util.ShardIndex(util.HashKey(key), len(ix.shards))]
}

// Lookup returns the current descriptor for key.
func (ix *Index) Lookup(key string) (Descriptor, bool) {
	s := ix.shardFor(key)
	s.mu.RLock()
	d, ok := s.m[key]
	s.mu.RUnlock()
	return d, ok
}

// InsertIfAbsent installs d only when key has no descriptor yet. The
// insert also fails when d.Generation does not exceed the key's grave —
// that means a concurrent remove raised the watermark after the caller
// chose its generation, and the caller must pick a fresh one.
func (ix *Index) InsertIfAbsent(key string, d Descriptor) bool {
	s := ix.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	if g, ok := s.graves[key]; ok && d.Generation <= g {
		return false
	}
	delete(s.graves, key)
	s.m[key] = d
	return true
}

// CompareAndSwap replaces the descriptor for key with next, provided the
// current one still names the same committed location as expect. Returns
// false when the entry is absent or a concurrent mutation raced — callers
// treat that as a lost race, never as an application error.
func (ix *Index) CompareAndSwap(key string, expect, next Descriptor) bool {
	s := ix.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	if !ok || !cur.samePlace(expect) {
		return false
	}
	s.m[key] = next
	return true
}

// CompareAndRemove deletes the entry only if it still matches expect.
func (ix *Index) CompareAndRemove(key string, expect Descriptor) bool {
	s := ix.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	if !ok || !cur.samePlace(expect) {
		return false
	}
	s.bury(key, cur.Generation)
	delete(s.m, key)
	return true
}

// Remove unconditionally deletes the entry, returning the removed
// descriptor when one existed.
func (ix *Index) Remove(key string) (Descriptor, bool) {
	s := ix.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[key]
	if ok {
		s.bury(key, d.Generation)
		delete(s.m, key)
	}
	return d, ok
}

func (s *shard) bury(key string, gen uint64) {
	if g, ok := s.graves[key]; !ok || gen > g {
		s.graves[key] = gen
	}
}

// GraveGeneration returns the generation high-water mark left behind by a
// removed key, or zero when none is recorded. New inserts of the key must
// use a strictly higher generation.
func (ix *Index) GraveGeneration(key string) uint64 {
	s := ix.shardFor(key)
	s.mu.RLock()
	g := s.graves[key]
	s.mu.RUnlock()
	return g
}

// Restore installs a descriptor verbatim. Used by recovery while the cache
// is still single-threaded; later writers go through CAS.
func (ix *Index) Restore(key string, d Descriptor) {
	s := ix.shardFor(key)
	s.mu.Lock()
	s.m[key] = d
	s.mu.Unlock()
}

// Touch refreshes LastAccess without disturbing the committed location.
func (ix *Index) Touch(key string, now int64) {
	s := ix.shardFor(key)
	s.mu.Lock()
	if d, ok := s.m[key]; ok {
		d.LastAccess = now
		s.m[key] = d
	}
	s.mu.Unlock()
}

// Len returns the number of live entries across all shards.
func (ix *Index) Len() int {
	total := 0
	for _, s := range ix.shards {
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

// Range calls fn for every entry until fn returns false. The snapshot is
// per-shard consistent, not globally consistent; callers that act on a
// descriptor must still commit through CompareAndSwap.
func (ix *Index) Range(fn func(key string, d Descriptor) bool) {
	for _, s := range ix.shards {
		s.mu.RLock()
		for k, d := range s.m {
			if !fn(k, d) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}
