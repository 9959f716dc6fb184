package memstore

import (
	"bytes"
	"testing"

	"github.com/IvanBrykalov/tiercache/policy/lru"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := New(64, lru.New())
	id, ok, tooBig := s.Store("a", []byte("hello"))
	if !ok || tooBig {
		t.Fatalf("store: ok=%v tooBig=%v", ok, tooBig)
	}

	v, ok := s.Read(id)
	if !ok || !bytes.Equal(v, []byte("hello")) {
		t.Fatalf("read: %q ok=%v", v, ok)
	}
	if s.Used() != 5 || s.Len() != 1 {
		t.Fatalf("used=%d len=%d", s.Used(), s.Len())
	}

	s.Remove(id)
	if _, ok := s.Read(id); ok {
		t.Fatal("freed slot must miss")
	}
	if s.Used() != 0 {
		t.Fatalf("used after remove: %d", s.Used())
	}
	s.Remove(id) // idempotent
}

// Slot ids are never reused, even after removal.
func TestStore_SlotIDsMonotonic(t *testing.T) {
	t.Parallel()

	s := New(64, lru.New())
	id1, _, _ := s.Store("a", []byte("x"))
	s.Remove(id1)
	id2, _, _ := s.Store("a", []byte("y"))
	if id2 <= id1 {
		t.Fatalf("slot ids must increase: %d then %d", id1, id2)
	}
}

func TestStore_CapacityRules(t *testing.T) {
	t.Parallel()

	s := New(10, lru.New())

	// A single value over capacity can never be stored.
	if _, ok, tooBig := s.Store("big", make([]byte, 11)); ok || !tooBig {
		t.Fatalf("oversized store: ok=%v tooBig=%v", ok, tooBig)
	}

	// Filling up: second store must report "no room", not "too big".
	if _, ok, _ := s.Store("a", make([]byte, 8)); !ok {
		t.Fatal("first store must fit")
	}
	if _, ok, tooBig := s.Store("b", make([]byte, 8)); ok || tooBig {
		t.Fatalf("full store: ok=%v tooBig=%v", ok, tooBig)
	}

	// After evicting there is room again.
	id, key, ok := s.EvictCandidate()
	if !ok || key != "a" {
		t.Fatalf("candidate: key=%q ok=%v", key, ok)
	}
	s.Remove(id)
	if _, ok, _ := s.Store("b", make([]byte, 8)); !ok {
		t.Fatal("store after eviction must fit")
	}
}

// The candidate follows the policy's recency ordering.
func TestStore_EvictCandidateOrdering(t *testing.T) {
	t.Parallel()

	s := New(100, lru.New())
	idA, _, _ := s.Store("a", []byte("1"))
	s.Store("b", []byte("2"))

	s.Touch(idA) // a becomes MRU, b is the LRU victim

	if _, key, ok := s.EvictCandidate(); !ok || key != "b" {
		t.Fatalf("victim want b, got %q ok=%v", key, ok)
	}
}

func TestStore_EmptyEvictCandidate(t *testing.T) {
	t.Parallel()

	s := New(10, lru.New())
	if _, _, ok := s.EvictCandidate(); ok {
		t.Fatal("empty store must have no candidate")
	}
}
