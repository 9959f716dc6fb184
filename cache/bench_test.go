package cache

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"
)

// benchmarkMix exercises a read/write mix against a warm cache.
// It uses parallel workers (RunParallel spawns GOMAXPROCS goroutines).
// String keys include strconv/concat costs and often allocate, which is fine
// for an end-to-end benchmark.
func benchmarkMix(b *testing.B, readsPct int, memCapacity int64) {
	c, err := New(Options{
		MemoryCapacity:    memCapacity,
		Dir:               b.TempDir(),
		DisableCompaction: true,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = c.Close() })

	val := make([]byte, 256)

	// Preload a hot keyspace to get a realistic hit-rate.
	for i := 0; i < 1<<14; i++ {
		k := "k:" + strconv.Itoa(i)
		if err := c.Put(k, val); err != nil {
			b.Fatal(err)
		}
	}

	// Report per-op allocations for a rough idea where costs go.
	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := (1 << 14) - 1 // hot keyspace (power of two for fast &-mask)

	b.RunParallel(func(pb *testing.PB) {
		// Independent RNG stream for each worker.
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := "k:" + strconv.Itoa(i&keyMask)
			if r.Intn(100) < readsPct {
				_, _ = c.Get(k)
			} else {
				_ = c.Put(k, val)
			}
			i++
		}
	})
}

// Memory large enough for the whole keyspace: the memory-tier hot path.
func BenchmarkCache_MemoryTier_90r10w(b *testing.B) { benchmarkMix(b, 90, 64<<20) }
func BenchmarkCache_MemoryTier_50r50w(b *testing.B) { benchmarkMix(b, 50, 64<<20) }

// Memory holding ~25% of the keyspace: demotions and promotions dominate.
func BenchmarkCache_TierChurn_90r10w(b *testing.B) { benchmarkMix(b, 90, 1<<20) }
func BenchmarkCache_TierChurn_50r50w(b *testing.B) { benchmarkMix(b, 50, 1<<20) }
