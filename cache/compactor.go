package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/internal/diskstore"
	"github.com/IvanBrykalov/tiercache/internal/index"
)

// The compactor reclaims backing-file space left behind by overwrites,
// deletions, and superseded demotions. A file whose live ratio falls below
// the configured threshold is sealed (no new allocations), its live records
// are re-appended to the active file, each entry is re-pointed with the
// usual compare-and-swap, and the file is deleted. Readers racing the
// deletion observe a stale-read error and retry through the index.

func (c *tierCache) compactLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.CompactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.compactOnce()
		}
	}
}

func (c *tierCache) compactOnce() {
	for _, id := range c.disk.Candidates(c.opts.CompactionLiveRatio) {
		select {
		case <-c.stop:
			return
		default:
		}
		if err := c.compactFile(id); err != nil {
			c.log.Warn("compaction failed",
				zap.Uint32("file", id), zap.Error(err))
		}
	}
}

func (c *tierCache) compactFile(id uint32) error {
	// Unseal on any failure so the file stays allocatable and comes back
	// as a candidate on the next pass.
	c.disk.Seal(id)
	size := c.disk.FileSize(id)

	var moved, movedBytes int64
	var relocateErr error
	err := c.disk.ScanFile(id, func(rec diskstore.Record, loc index.Loc) bool {
		if ok, err := c.relocate(rec, loc); err != nil {
			relocateErr = err
			return false
		} else if ok {
			moved++
			movedBytes += loc.Length
		}
		return true
	})
	if err == nil {
		err = relocateErr
	}
	if err != nil {
		c.disk.Unseal(id)
		return err
	}

	if err := c.disk.RemoveFile(id); err != nil {
		c.disk.Unseal(id)
		return fmt.Errorf("remove compacted file: %w", err)
	}
	reclaimed := size - movedBytes
	if reclaimed < 0 {
		reclaimed = 0
	}
	c.met.Compaction(reclaimed)
	c.log.Info("compacted backing file",
		zap.Uint32("file", id),
		zap.Int64("records_moved", moved),
		zap.Int64("bytes_reclaimed", reclaimed))
	return nil
}

// relocate re-appends one live record to the active file and re-points its
// index entry. Records the index no longer references are garbage and are
// skipped. A record may back either a disk-tier entry or a clean
// memory-tier entry; both keep their tier, only the location changes.
//
// The retry must run until the index agrees or stops referencing loc:
// returning early here would let RemoveFile delete a file some entry still
// points into. Each failed CAS is another goroutine's completed mutation,
// so the loop cannot spin on unchanged state.
func (c *tierCache) relocate(rec diskstore.Record, loc index.Loc) (bool, error) {
	for {
		d, ok := c.idx.Lookup(rec.Key)
		if !ok || d.Generation != rec.Generation || d.Disk != loc {
			return false, nil // garbage: superseded, deleted, or already moved
		}
		newLoc, err := c.disk.Append(rec.Key, rec.Val, rec.Generation)
		if err != nil {
			return false, err
		}
		next := d
		next.Disk = newLoc
		if c.idx.CompareAndSwap(rec.Key, d, next) {
			return true, nil
		}
		// The entry changed mid-relocation. Discard and re-check: it may
		// still point into the file we are about to delete.
		c.disk.Free(newLoc)
		c.met.RaceAborted()
	}
}
