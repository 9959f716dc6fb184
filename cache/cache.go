package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/internal/diskstore"
	"github.com/IvanBrykalov/tiercache/internal/index"
	"github.com/IvanBrykalov/tiercache/internal/memstore"
	"github.com/IvanBrykalov/tiercache/internal/singleflight"
	"github.com/IvanBrykalov/tiercache/internal/util"
	"github.com/IvanBrykalov/tiercache/policy/slru"
)

// Defaults applied by New for zero-valued Options fields.
const (
	DefaultMaxFileSize         = int64(64 << 20)
	DefaultCompactionLiveRatio = 0.5
	DefaultCompactionInterval  = 30 * time.Second
)

type tierCache struct {
	opts  Options
	log   *zap.Logger
	met   Metrics
	clock Clock

	idx  *index.Index
	mem  *memstore.Store
	disk *diskstore.Store

	group singleflight.Group

	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New opens (or creates) the cache at opts.Dir, rebuilds the index from the
// backing files, and starts the background compactor. See Options for
// defaults.
func New(opts Options) (Cache, error) {
	if opts.MemoryCapacity <= 0 {
		return nil, errors.New("tiercache: MemoryCapacity must be positive")
	}
	if opts.Dir == "" {
		return nil, errors.New("tiercache: Dir is required")
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.CompactionLiveRatio <= 0 {
		opts.CompactionLiveRatio = DefaultCompactionLiveRatio
	}
	if opts.CompactionInterval <= 0 {
		opts.CompactionInterval = DefaultCompactionInterval
	}
	if opts.Policy == nil {
		opts.Policy = slru.New(slru.DefaultProtectedFraction)
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = wallClock{}
	}
	shards := opts.IndexShards
	if shards <= 0 {
		shards = util.ReasonableShardCount()
	}

	disk, err := diskstore.Open(opts.Dir, opts.MaxFileSize, opts.SyncWrites, opts.Logger)
	if err != nil {
		return nil, err
	}

	c := &tierCache{
		opts:  opts,
		log:   opts.Logger,
		met:   opts.Metrics,
		clock: opts.Clock,
		idx:   index.New(shards),
		mem:   memstore.New(opts.MemoryCapacity, opts.Policy),
		disk:  disk,
		stop:  make(chan struct{}),
	}

	entries, err := disk.Recover()
	if err != nil {
		_ = disk.Close()
		return nil, err
	}
	now := c.clock.NowUnixNano()
	for _, e := range entries {
		c.idx.Restore(e.Key, index.Descriptor{
			Tier:       index.TierDisk,
			Disk:       e.Loc,
			Generation: e.Generation,
			Size:       e.Size,
			LastAccess: now,
		})
	}

	if !opts.DisableCompaction {
		c.wg.Add(1)
		go c.compactLoop()
	}
	return c, nil
}

func (c *tierCache) Get(key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	// A lost read race (slot reclaimed or record moved mid-read) means
	// another goroutine's CAS completed; re-consulting the index always
	// makes progress, so retrying cannot spin on unchanged state.
	for {
		d, ok := c.idx.Lookup(key)
		if !ok {
			c.met.Miss()
			return nil, ErrNotFound
		}

		switch d.Tier {
		case index.TierMemory:
			val, ok := c.mem.Read(d.Slot)
			if !ok {
				continue // demoted or deleted after the lookup
			}
			c.mem.Touch(d.Slot)
			c.idx.Touch(key, c.clock.NowUnixNano())
			c.met.HitMemory()
			return append([]byte(nil), val...), nil

		case index.TierDisk:
			rec, err := c.disk.ReadRecord(d.Disk)
			switch {
			case errors.Is(err, diskstore.ErrStaleRead):
				// Compaction moved the record; the index has its new home.
				// Unless the store closed under us: then nothing will ever
				// change the descriptor again.
				if c.closed.Load() {
					return nil, ErrClosed
				}
				continue
			case errors.Is(err, diskstore.ErrCorruptRecord):
				// A record that fails its checksum is unrecoverable. Drop it
				// and report the key as absent so callers can repopulate.
				if c.idx.CompareAndRemove(key, d) {
					c.disk.Free(d.Disk)
					c.log.Warn("dropping corrupt entry", zap.String("key", key))
				}
				c.met.Miss()
				return nil, ErrNotFound
			case err != nil:
				return nil, fmt.Errorf("tiercache: read %q: %w", key, err)
			}
			// The record's location may have been freed and rewritten while
			// the read was in flight; the embedded key and generation say
			// whether these are still our bytes.
			if rec.Key != key || rec.Generation != d.Generation {
				continue
			}
			c.idx.Touch(key, c.clock.NowUnixNano())
			c.met.HitDisk()
			if c.opts.DisablePromotion {
				return rec.Val, nil
			}
			c.promote(key, d, rec.Val)
			return append([]byte(nil), rec.Val...), nil
		}
	}
}

func (c *tierCache) GetOrLoad(ctx context.Context, key string) ([]byte, error) {
	val, err := c.Get(key)
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if c.opts.Loader == nil {
		return nil, ErrNoLoader
	}
	return c.group.Do(ctx, key, func() ([]byte, error) {
		// Another flight may have filled the key while we queued.
		if val, err := c.Get(key); err == nil {
			return val, nil
		}
		val, err := c.opts.Loader(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := c.Put(key, val); err != nil {
			return nil, err
		}
		return val, nil
	})
}

func (c *tierCache) Put(key string, val []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > diskstore.MaxKeyLen {
		return ErrKeyTooLarge
	}
	// Retain a private copy: both tiers keep the slice past the call.
	v := append([]byte(nil), val...)
	now := c.clock.NowUnixNano()

	for {
		prev, existed := c.idx.Lookup(key)
		next := index.Descriptor{
			Size:       int64(len(v)),
			LastAccess: now,
		}
		if existed {
			next.Generation = prev.Generation + 1
		} else {
			// A freed record of a removed key can outlive the removal on
			// media; continuing past its generation keeps recovery from
			// preferring it over this write.
			next.Generation = c.idx.GraveGeneration(key) + 1
		}

		id, ok, tooBig := c.mem.Store(key, v)
		for !ok && !tooBig {
			if !c.evictOne() {
				break
			}
			id, ok, tooBig = c.mem.Store(key, v)
		}

		switch {
		case ok:
			next.Tier = index.TierMemory
			next.Slot = id
			if c.opts.Mode == WriteThrough {
				loc, err := c.disk.Append(key, v, next.Generation)
				if err != nil {
					c.mem.Remove(id)
					return c.mapAppendErr(err)
				}
				next.Disk = loc
				next.HasDisk = true
			} else {
				next.Dirty = true
			}
		default:
			// Too big for the memory tier (or it is wedged by concurrent
			// fills): the value's home is the disk tier.
			loc, err := c.disk.Append(key, v, next.Generation)
			if err != nil {
				return c.mapAppendErr(err)
			}
			next.Tier = index.TierDisk
			next.Disk = loc
		}

		var committed bool
		if existed {
			committed = c.idx.CompareAndSwap(key, prev, next)
		} else {
			committed = c.idx.InsertIfAbsent(key, next)
		}
		if committed {
			if existed {
				c.release(prev)
			}
			if next.Tier == index.TierDisk || next.HasDisk {
				c.enforceDiskCap()
			}
			c.updateUsage()
			return nil
		}

		// Lost a race with a concurrent writer: discard the speculative
		// copy and rebuild against the fresh descriptor.
		c.met.RaceAborted()
		if next.Tier == index.TierMemory {
			c.mem.Remove(next.Slot)
		}
		if next.Tier == index.TierDisk || next.HasDisk {
			c.disk.Free(next.Disk)
		}
	}
}

func (c *tierCache) mapAppendErr(err error) error {
	if errors.Is(err, diskstore.ErrRecordTooLarge) {
		return ErrCapacityExceeded
	}
	return err
}

func (c *tierCache) Delete(key string) bool {
	if c.closed.Load() {
		return false
	}
	for {
		d, ok := c.idx.Lookup(key)
		if !ok {
			return false
		}
		if c.idx.CompareAndRemove(key, d) {
			c.release(d)
			c.updateUsage()
			return true
		}
	}
}

func (c *tierCache) Contains(key string) bool {
	if c.closed.Load() {
		return false
	}
	_, ok := c.idx.Lookup(key)
	return ok
}

func (c *tierCache) Len() int {
	return c.idx.Len()
}

func (c *tierCache) Stats() Stats {
	live, total := c.disk.Totals()
	st := Stats{
		MemEntries:  c.mem.Len(),
		MemBytes:    c.mem.Used(),
		MemCapacity: c.mem.Capacity(),
		DiskLive:    live,
		DiskTotal:   total,
	}
	c.idx.Range(func(_ string, d index.Descriptor) bool {
		if d.Tier == index.TierDisk {
			st.DiskEntries++
		}
		return true
	})
	return st
}

func (c *tierCache) Flush() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.flush()
}

// flush appends every dirty entry to the disk log and marks it clean.
// Two passes: the second catches writes that raced past the first Range.
func (c *tierCache) flush() error {
	var firstErr error
	for pass := 0; pass < 2; pass++ {
		type dirtyEntry struct {
			key string
			d   index.Descriptor
		}
		var dirty []dirtyEntry
		c.idx.Range(func(key string, d index.Descriptor) bool {
			if d.Dirty {
				dirty = append(dirty, dirtyEntry{key, d})
			}
			return true
		})
		if len(dirty) == 0 {
			break
		}
		for _, e := range dirty {
			val, ok := c.mem.Read(e.d.Slot)
			if !ok {
				continue // moved on since the Range
			}
			loc, err := c.disk.Append(e.key, val, e.d.Generation)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			next := e.d
			next.Dirty = false
			next.HasDisk = true
			next.Disk = loc
			if !c.idx.CompareAndSwap(e.key, e.d, next) {
				c.disk.Free(loc)
			}
		}
	}
	if err := c.disk.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *tierCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.wg.Wait()
	err := c.flush()
	if cerr := c.disk.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *tierCache) updateUsage() {
	live, _ := c.disk.Totals()
	c.met.Usage(c.mem.Used(), live)
}
