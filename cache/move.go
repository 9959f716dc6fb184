package cache

import (
	"sort"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/internal/diskstore"
	"github.com/IvanBrykalov/tiercache/internal/index"
)

// Tier moves are speculative: the bytes land in the destination tier first,
// then a single index compare-and-swap commits the move. Losing the CAS
// means another goroutine changed the entry while our I/O was in flight —
// the speculative copy is discarded and the entry is left as the winner
// wrote it. No locks are held across I/O.

// promote copies a disk-resident value into memory. Best effort: any
// failure to find room just leaves the entry on disk. The disk record stays
// live as the entry's clean backing copy, so demoting it again later costs
// no I/O.
func (c *tierCache) promote(key string, d index.Descriptor, val []byte) {
	id, ok, tooBig := c.mem.Store(key, val)
	if tooBig {
		return
	}
	if !ok {
		if !c.evictOne() {
			return
		}
		id, ok, _ = c.mem.Store(key, val)
		if !ok {
			return
		}
	}

	next := d
	next.Tier = index.TierMemory
	next.Slot = id
	next.HasDisk = true
	next.Dirty = false
	next.LastAccess = c.clock.NowUnixNano()
	if !c.idx.CompareAndSwap(key, d, next) {
		c.mem.Remove(id)
		c.met.RaceAborted()
		return
	}
	c.met.Promotion()
	c.updateUsage()
}

// evictOne relieves memory pressure by one policy victim: demoted to disk,
// or dropped outright under DropOnEvict. Returns false when there is no
// victim it can act on; callers then place their value on disk instead of
// waiting for the memory tier.
func (c *tierCache) evictOne() bool {
	id, key, ok := c.mem.EvictCandidate()
	if !ok {
		return false
	}
	d, ok := c.idx.Lookup(key)
	if !ok || d.Tier != index.TierMemory || d.Slot != id {
		// The slot is another goroutine's in-flight speculative copy, or
		// is mid-removal by its owner. Cleanup belongs to that owner;
		// touching the slot here could orphan a move that is about to
		// commit.
		return false
	}

	if c.opts.DropOnEvict {
		if c.idx.CompareAndRemove(key, d) {
			c.release(d)
			c.fireEvict(key, EvictDrop)
		}
		return true
	}

	next := index.Descriptor{
		Tier:       index.TierDisk,
		Generation: d.Generation,
		Size:       d.Size,
		LastAccess: d.LastAccess,
	}

	if !d.Dirty && d.HasDisk {
		// Clean entry with a live backing record: demotion is a pure
		// index move, zero I/O.
		next.Disk = d.Disk
		if c.idx.CompareAndSwap(key, d, next) {
			c.mem.Remove(d.Slot)
			c.met.Demotion()
		} else {
			c.met.RaceAborted()
		}
		return true
	}

	val, ok := c.mem.Read(d.Slot)
	if !ok {
		return true // raced with removal; the bytes are already reclaimed
	}
	loc, err := c.disk.Append(key, val, d.Generation)
	if err != nil {
		// The victim cannot be persisted; drop it rather than wedge the
		// memory tier.
		c.log.Warn("demotion write failed, dropping entry",
			zap.String("key", key), zap.Error(err))
		if c.idx.CompareAndRemove(key, d) {
			c.release(d)
			c.fireEvict(key, EvictError)
		}
		return true
	}
	next.Disk = loc
	if !c.idx.CompareAndSwap(key, d, next) {
		c.disk.Free(loc)
		c.met.RaceAborted()
		return true
	}
	c.mem.Remove(d.Slot)
	c.met.Demotion()
	c.enforceDiskCap()
	return true
}

// release frees the physical space behind a descriptor that was just
// removed or superseded in the index.
func (c *tierCache) release(d index.Descriptor) {
	if d.Tier == index.TierMemory {
		c.mem.Remove(d.Slot)
	}
	if d.Tier == index.TierDisk || d.HasDisk {
		c.disk.Free(d.Disk)
	}
}

// enforceDiskCap reclaims the coldest disk records until live bytes fit
// the configured cap again. Disk-tier entries are evicted outright; clean
// backing records of memory-resident entries just lose the backing, with
// the entry surviving in memory as dirty.
func (c *tierCache) enforceDiskCap() {
	limit := c.opts.DiskCapacity
	if limit <= 0 {
		return
	}
	live, _ := c.disk.Totals()
	if live <= limit {
		return
	}

	type diskEntry struct {
		key string
		d   index.Descriptor
	}
	var cold []diskEntry
	c.idx.Range(func(key string, d index.Descriptor) bool {
		if d.Tier == index.TierDisk || d.HasDisk {
			cold = append(cold, diskEntry{key, d})
		}
		return true
	})
	sort.Slice(cold, func(i, j int) bool {
		return cold[i].d.LastAccess < cold[j].d.LastAccess
	})

	for _, e := range cold {
		if live <= limit {
			break
		}
		if e.d.Tier == index.TierMemory {
			next := e.d
			next.HasDisk = false
			next.Disk = index.Loc{}
			next.Dirty = true
			if c.idx.CompareAndSwap(e.key, e.d, next) {
				c.disk.Free(e.d.Disk)
				live -= diskstore.AlignedLength(e.d.Disk.Length)
			}
			continue
		}
		if c.idx.CompareAndRemove(e.key, e.d) {
			c.disk.Free(e.d.Disk)
			live -= diskstore.AlignedLength(e.d.Disk.Length)
			c.fireEvict(e.key, EvictCapacity)
		}
	}
}

func (c *tierCache) fireEvict(key string, reason EvictReason) {
	c.met.Evict(reason)
	if c.opts.OnEvict != nil {
		c.opts.OnEvict(key, reason)
	}
}
