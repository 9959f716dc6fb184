// Package memstore implements the memory tier: a byte-capacity bounded slab
// of decoded values addressed by slot id.
//
// Slot ids are monotonically increasing and never reused. A reader holding
// a stale slot id (the entry was demoted or deleted after the reader looked
// it up) simply misses and retries its index lookup — there is no ABA
// hazard and no reference counting.
//
// The store never evicts on its own: when Store reports no room, the caller
// asks EvictCandidate for a victim and demotes or drops it through the tier
// index, then retries. The internal lock is held only for map and byte
// bookkeeping, never across I/O.
package memstore

import (
	"sync"

	"github.com/IvanBrykalov/tiercache/policy"
)

// slot is one resident value. It doubles as the policy.Entry handed to the
// eviction policy.
type slot struct {
	id  uint64
	key string
	val []byte
}

func (s *slot) Key() string { return s.key }
func (s *slot) Size() int64 { return int64(len(s.val)) }

// Store is the memory tier. All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	slots map[uint64]*slot
	next  uint64
	used  int64
	cap   int64
	pol   policy.TierPolicy
}

// New constructs a memory store with the given byte capacity and eviction
// policy factory.
func New(capacity int64, pol policy.Policy) *Store {
	return &Store{
		slots: make(map[uint64]*slot),
		cap:   capacity,
		pol:   pol.New(capacity),
	}
}

// Store places val under a fresh slot id and admits it to the policy.
//
// Returns ok=false when the store currently lacks room (caller should evict
// a candidate and retry) and tooBig=true when the value can never fit the
// configured capacity. val is retained as-is; callers must not mutate it
// after handing it over.
func (s *Store) Store(key string, val []byte) (id uint64, ok, tooBig bool) {
	need := int64(len(val))
	if need > s.cap {
		return 0, false, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used+need > s.cap {
		return 0, false, false
	}
	s.next++
	sl := &slot{id: s.next, key: key, val: val}
	s.slots[sl.id] = sl
	s.used += need
	s.pol.OnAdd(sl)
	return sl.id, true, false
}

// Read returns the value bytes for a slot. The returned slice is the
// store's own backing array — values are immutable once stored, but callers
// handing bytes to the application must copy first.
func (s *Store) Read(id uint64) ([]byte, bool) {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sl.val, true
}

// Touch records a read hit with the eviction policy.
func (s *Store) Touch(id uint64) {
	s.mu.Lock()
	if sl, ok := s.slots[id]; ok {
		s.pol.OnAccess(sl)
	}
	s.mu.Unlock()
}

// Remove frees a slot. Removing an already-freed slot is a no-op, so the
// promotion/demotion protocol may race on cleanup without coordination.
func (s *Store) Remove(id uint64) {
	s.mu.Lock()
	if sl, ok := s.slots[id]; ok {
		s.pol.OnRemove(sl)
		delete(s.slots, id)
		s.used -= int64(len(sl.val))
	}
	s.mu.Unlock()
}

// EvictCandidate returns the policy's current victim. The slot stays
// resident; the caller is expected to demote or drop it through the tier
// index and then call Remove. Concurrent callers may receive the same
// victim — the index CAS arbitrates.
func (s *Store) EvictCandidate() (id uint64, key string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.pol.Victim()
	if v == nil {
		return 0, "", false
	}
	sl := v.(*slot)
	return sl.id, sl.key, true
}

// Used returns resident bytes.
func (s *Store) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// Len returns the number of resident slots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Capacity returns the configured byte capacity.
func (s *Store) Capacity() int64 { return s.cap }
