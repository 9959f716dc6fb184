package cache

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key is absent from both tiers.
	ErrNotFound = errors.New("tiercache: key not found")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("tiercache: cache is closed")

	// ErrNoLoader is returned by GetOrLoad when no Loader was configured.
	ErrNoLoader = errors.New("tiercache: no loader configured")

	// ErrCapacityExceeded is returned by Put when the value cannot fit
	// either tier (larger than the memory capacity and larger than a
	// single backing file).
	ErrCapacityExceeded = errors.New("tiercache: value exceeds cache capacity")

	// ErrEmptyKey is returned by Put: the empty key is not representable
	// in the disk record format (a zero key length marks garbage during
	// recovery scans).
	ErrEmptyKey = errors.New("tiercache: empty key")

	// ErrKeyTooLarge is returned by Put for keys beyond the disk record
	// format's key bound.
	ErrKeyTooLarge = errors.New("tiercache: key too large")
)

// Cache is a two-tier key/value cache: a byte-bounded memory tier in front
// of an append-structured disk tier, behind a single interface.
// All methods are safe for concurrent use by multiple goroutines.
//
// Values move between tiers in the background: the memory eviction policy
// demotes cold entries to disk, and (unless disabled) a disk hit promotes
// the entry back into memory.
type Cache interface {
	// Get returns a copy of the value for key, from whichever tier holds
	// it. A disk hit promotes the entry to memory unless promotion is
	// disabled. Returns ErrNotFound on miss; I/O failures on the disk
	// tier are returned to the caller, not masked as misses. A record
	// that fails its checksum is dropped and the key reported absent.
	Get(key string) ([]byte, error)

	// GetOrLoad returns the value for key, loading it via Options.Loader
	// on miss. Concurrent loads for the same key are coalesced
	// (singleflight). If no Loader was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, key string) ([]byte, error)

	// Put inserts or overwrites key→val. The value lands in the memory
	// tier, evicting as needed; in write-through mode it is also appended
	// to the disk log before Put returns. A value larger than the memory
	// capacity goes straight to disk.
	Put(key string, val []byte) error

	// Delete removes key from the cache and releases its space in both
	// tiers. Returns true if the key was present.
	Delete(key string) bool

	// Contains reports whether key is present, without promoting it or
	// refreshing its recency.
	Contains(key string) bool

	// Len returns the number of entries across both tiers.
	Len() int

	// Stats returns a point-in-time snapshot of tier occupancy.
	Stats() Stats

	// Flush writes every dirty (memory-only) entry to the disk log and
	// syncs it. Entries stay memory-resident; they just gain a durable
	// copy.
	Flush() error

	// Close stops the background compactor, flushes dirty entries, and
	// closes the backing files. The cache is unusable afterwards.
	Close() error
}

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	MemEntries  int   // entries resident in the memory tier
	DiskEntries int   // entries whose home is the disk tier
	MemBytes    int64 // bytes used in the memory tier
	MemCapacity int64
	DiskLive    int64 // live record bytes on disk
	DiskTotal   int64 // total backing file bytes on disk
}
