package slru

import (
	"testing"
)

type fakeEntry struct {
	key  string
	size int64
}

func (f *fakeEntry) Key() string { return f.key }
func (f *fakeEntry) Size() int64 { return f.size }

// First-touch entries are probationary and evicted before re-touched ones.
func TestSLRU_ProbationEvictedFirst(t *testing.T) {
	t.Parallel()

	p := New(0.8).New(100)
	a := &fakeEntry{key: "a", size: 10}
	b := &fakeEntry{key: "b", size: 10}

	p.OnAdd(a)
	p.OnAdd(b)
	p.OnAccess(a) // a -> protected

	// b is probationary and older than a in value; b must go first even
	// though a was added earlier.
	if v := p.Victim(); v != b {
		t.Fatalf("victim want b, got %v", v.Key())
	}
}

// When probation is empty the protected LRU is the fallback victim.
func TestSLRU_ProtectedFallback(t *testing.T) {
	t.Parallel()

	p := New(0.8).New(100)
	a := &fakeEntry{key: "a", size: 10}
	b := &fakeEntry{key: "b", size: 10}

	p.OnAdd(a)
	p.OnAdd(b)
	p.OnAccess(a)
	p.OnAccess(b) // both protected now; a is protected-LRU

	if v := p.Victim(); v != a {
		t.Fatalf("victim want a, got %v", v.Key())
	}
}

// Protected overflow spills the protected LRU back into probation.
func TestSLRU_ProtectedOverflowSpills(t *testing.T) {
	t.Parallel()

	// protectedCap = 0.5 * 40 = 20 bytes -> holds one 15-byte entry only.
	p := New(0.5).New(40)
	a := &fakeEntry{key: "a", size: 15}
	b := &fakeEntry{key: "b", size: 15}
	c := &fakeEntry{key: "c", size: 15}

	p.OnAdd(a)
	p.OnAdd(b)
	p.OnAdd(c)
	p.OnAccess(a) // a protected (15 <= 20)
	p.OnAccess(b) // b protected, 30 > 20 -> a spills back to probation MRU

	// Probation now (MRU->LRU): a, c. Victim must be c.
	if v := p.Victim(); v != c {
		t.Fatalf("victim want c, got %v", v.Key())
	}
	p.OnRemove(c)
	if v := p.Victim(); v != a {
		t.Fatalf("victim want a (spilled), got %v", v.Key())
	}
}

// OnRemove must clean segment byte accounting for protected entries.
func TestSLRU_RemoveProtectedAccounting(t *testing.T) {
	t.Parallel()

	p := New(0.5).New(40).(*slru)
	a := &fakeEntry{key: "a", size: 15}

	p.OnAdd(a)
	p.OnAccess(a)
	if p.protectedBytes != 15 {
		t.Fatalf("protectedBytes want 15, got %d", p.protectedBytes)
	}
	p.OnRemove(a)
	if p.protectedBytes != 0 {
		t.Fatalf("protectedBytes want 0, got %d", p.protectedBytes)
	}
	if v := p.Victim(); v != nil {
		t.Fatalf("victim want nil, got %v", v.Key())
	}
}
