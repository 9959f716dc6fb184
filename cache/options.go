package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/policy"
)

// WriteMode selects when a Put becomes durable on the disk tier.
type WriteMode int

const (
	// WriteBack — Put lands in memory only; the value reaches disk when
	// the eviction policy demotes it (or on Flush/Close). Fastest writes,
	// but a crash loses entries that were never demoted.
	WriteBack WriteMode = iota
	// WriteThrough — Put appends to the disk log before returning, so
	// every committed entry survives a crash.
	WriteThrough
)

// EvictReason explains why an entry left the cache entirely.
// Demotions are not evictions: a demoted entry is still resident, on disk.
type EvictReason int

const (
	// EvictCapacity — removed to satisfy the disk capacity cap.
	EvictCapacity EvictReason = iota
	// EvictDrop — removed by memory pressure with DropOnEvict set.
	EvictDrop
	// EvictError — removed because its demotion write failed.
	EvictError
)

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

type wallClock struct{}

func (wallClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Options configures the cache. MemoryCapacity and Dir are required;
// everything else has a sane default applied in New():
//   - nil Policy              => segmented LRU
//   - MaxFileSize <= 0        => 64 MiB
//   - CompactionLiveRatio 0   => 0.5
//   - CompactionInterval 0    => 30s
//   - IndexShards <= 0        => auto (≈ 2*GOMAXPROCS, power of two)
//   - nil Metrics             => NoopMetrics
//   - nil Logger              => zap.NewNop()
type Options struct {
	// MemoryCapacity is the memory tier budget in bytes. Required.
	MemoryCapacity int64

	// Dir is the directory holding the disk tier's backing files.
	// Required; created if missing.
	Dir string

	// DiskCapacity caps the live bytes on the disk tier. When demotions
	// push live bytes past the cap, the coldest disk entries are evicted
	// outright. 0 disables the cap.
	DiskCapacity int64

	// MaxFileSize is the rotation threshold for backing files. A single
	// record must fit one file.
	MaxFileSize int64

	// Mode selects write-back (default) or write-through durability.
	Mode WriteMode

	// DisablePromotion keeps disk hits on disk instead of copying the
	// entry back into memory.
	DisablePromotion bool

	// DropOnEvict makes memory eviction drop entries instead of demoting
	// them to disk. The memory tier then behaves like a plain bounded
	// cache; the disk tier fills only via write-through.
	DropOnEvict bool

	// Policy is the memory tier's eviction policy; nil => segmented LRU,
	// which resists one-shot scans polluting the hot set.
	Policy policy.Policy

	// IndexShards defines the number of index shards. If 0, an automatic
	// value is chosen and rounded to the next power of two.
	IndexShards int

	// CompactionLiveRatio is the live-byte fraction below which a backing
	// file becomes a compaction candidate.
	CompactionLiveRatio float64

	// CompactionInterval is how often the background compactor scans for
	// candidates.
	CompactionInterval time.Duration

	// DisableCompaction turns the background compactor off. Garbage then
	// accumulates until Close.
	DisableCompaction bool

	// SyncWrites issues a data sync after every disk append. Durable but
	// slow; without it, durability is bounded by the OS page cache.
	SyncWrites bool

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, key string) ([]byte, error)

	// OnEvict is called when an entry leaves the cache entirely.
	// Keep callbacks lightweight; they run on the evicting goroutine.
	OnEvict func(key string, reason EvictReason)

	Metrics Metrics
	Logger  *zap.Logger

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock
}
