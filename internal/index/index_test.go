package index

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

func memDesc(slot uint64, gen uint64) Descriptor {
	return Descriptor{Tier: TierMemory, Slot: slot, Generation: gen}
}

func diskDesc(off int64, gen uint64) Descriptor {
	return Descriptor{Tier: TierDisk, Disk: Loc{FileID: 1, Offset: off, Length: 32}, Generation: gen}
}

func TestIndex_InsertLookupRemove(t *testing.T) {
	t.Parallel()

	ix := New(4)
	if _, ok := ix.Lookup("a"); ok {
		t.Fatal("empty index must miss")
	}

	if !ix.InsertIfAbsent("a", memDesc(1, 1)) {
		t.Fatal("first insert must succeed")
	}
	if ix.InsertIfAbsent("a", memDesc(2, 1)) {
		t.Fatal("duplicate insert must fail")
	}

	d, ok := ix.Lookup("a")
	if !ok || d.Slot != 1 {
		t.Fatalf("lookup a: got %+v ok=%v", d, ok)
	}

	if prev, ok := ix.Remove("a"); !ok || prev.Slot != 1 {
		t.Fatalf("remove a: got %+v ok=%v", prev, ok)
	}
	if _, ok := ix.Lookup("a"); ok {
		t.Fatal("a must be absent after remove")
	}
}

// CAS must fail after the descriptor moved, and a Touch must NOT fail it.
func TestIndex_CompareAndSwap(t *testing.T) {
	t.Parallel()

	ix := New(1)
	old := memDesc(1, 3)
	ix.Restore("k", old)

	// Touch mutates LastAccess only; CAS against the pre-touch snapshot
	// must still succeed.
	ix.Touch("k", 12345)
	if !ix.CompareAndSwap("k", old, diskDesc(0, 3)) {
		t.Fatal("CAS must ignore LastAccess changes")
	}

	// The old memory descriptor is stale now.
	if ix.CompareAndSwap("k", old, memDesc(9, 3)) {
		t.Fatal("stale CAS must fail")
	}
	d, _ := ix.Lookup("k")
	if d.Tier != TierDisk {
		t.Fatalf("descriptor must remain disk-tier, got %+v", d)
	}
}

func TestIndex_CompareAndRemove(t *testing.T) {
	t.Parallel()

	ix := New(1)
	d := diskDesc(64, 2)
	ix.Restore("k", d)

	if ix.CompareAndRemove("k", diskDesc(64, 3)) {
		t.Fatal("mismatched generation must not remove")
	}
	if !ix.CompareAndRemove("k", d) {
		t.Fatal("matching CompareAndRemove must succeed")
	}
	if _, ok := ix.Lookup("k"); ok {
		t.Fatal("k must be gone")
	}
}

// A removal leaves the key's generation behind as a watermark; re-inserts
// must climb past it or the insert is rejected.
func TestIndex_GraveGeneration(t *testing.T) {
	t.Parallel()

	ix := New(1)
	if g := ix.GraveGeneration("k"); g != 0 {
		t.Fatalf("fresh key grave: want 0, got %d", g)
	}

	ix.Restore("k", diskDesc(0, 7))
	if _, ok := ix.Remove("k"); !ok {
		t.Fatal("remove must succeed")
	}
	if g := ix.GraveGeneration("k"); g != 7 {
		t.Fatalf("grave after remove: want 7, got %d", g)
	}

	if ix.InsertIfAbsent("k", diskDesc(64, 7)) {
		t.Fatal("insert at the grave generation must fail")
	}
	if !ix.InsertIfAbsent("k", diskDesc(64, 8)) {
		t.Fatal("insert above the grave must succeed")
	}
	if g := ix.GraveGeneration("k"); g != 0 {
		t.Fatalf("grave must clear on re-insert, got %d", g)
	}

	// A lower-generation removal must not lower an existing grave.
	ix.Restore("other", diskDesc(128, 9))
	ix.Remove("other")
	ix.Restore("other", diskDesc(192, 3))
	ix.Remove("other")
	if g := ix.GraveGeneration("other"); g != 9 {
		t.Fatalf("grave must keep the high-water mark, got %d", g)
	}
}

// Exactly one of N concurrent CAS attempts from the same snapshot may win.
func TestIndex_CASSingleWinner(t *testing.T) {
	t.Parallel()

	ix := New(8)
	old := memDesc(7, 1)
	ix.Restore("k", old)

	const n = 32
	var wins int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if ix.CompareAndSwap("k", old, diskDesc(int64(i)*64, 2)) {
				atomic.AddInt64(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("want exactly 1 CAS winner, got %d", wins)
	}
}

func TestIndex_LenAndRange(t *testing.T) {
	t.Parallel()

	ix := New(4)
	for i := 0; i < 100; i++ {
		ix.Restore("k:"+strconv.Itoa(i), memDesc(uint64(i), 1))
	}
	if got := ix.Len(); got != 100 {
		t.Fatalf("Len want 100, got %d", got)
	}

	seen := 0
	ix.Range(func(string, Descriptor) bool {
		seen++
		return true
	})
	if seen != 100 {
		t.Fatalf("Range visited %d, want 100", seen)
	}

	// Early termination.
	seen = 0
	ix.Range(func(string, Descriptor) bool {
		seen++
		return seen < 10
	})
	if seen != 10 {
		t.Fatalf("Range early stop visited %d, want 10", seen)
	}
}
