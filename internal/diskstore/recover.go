package diskstore

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/internal/index"
)

// RecoveredEntry is one live record found during the startup scan: the
// highest-generation valid record for its key.
type RecoveredEntry struct {
	Key        string
	Generation uint64
	Loc        index.Loc
	Size       int64 // value length
}

// Recover sequentially scans every backing file, verifying checksums, and
// returns the surviving record per key (highest valid generation wins).
// Superseded and corrupt regions are left in the free-space map as
// reclaimable garbage. Must run before the store is shared.
func (s *Store) Recover() ([]RecoveredEntry, error) {
	best := make(map[string]RecoveredEntry)
	var scanned, rejected int

	for _, id := range s.alloc.order {
		f := s.files[id]
		size := s.alloc.files[id].size
		err := scanReader(f, size, func(off int64, rec Record, recLen int64) bool {
			scanned++
			cur, ok := best[rec.Key]
			// Later files hold later writes; >= lets them win generation ties.
			if !ok || rec.Generation >= cur.Generation {
				best[rec.Key] = RecoveredEntry{
					Key:        rec.Key,
					Generation: rec.Generation,
					Loc:        index.Loc{FileID: id, Offset: off, Length: recLen},
					Size:       int64(len(rec.Val)),
				}
			}
			return true
		}, &rejected)
		if err != nil {
			return nil, fmt.Errorf("diskstore: recover segment %d: %w", id, err)
		}
	}

	out := make([]RecoveredEntry, 0, len(best))
	for _, e := range best {
		s.alloc.markAllocated(e.Loc.FileID, e.Loc.Offset, alignUp(e.Loc.Length))
		out = append(out, e)
	}

	live, total := s.alloc.totals()
	s.log.Info("recovery scan complete",
		zap.Int("records", scanned),
		zap.Int("rejected", rejected),
		zap.Int("live_entries", len(out)),
		zap.Int64("live_bytes", live),
		zap.Int64("total_bytes", total),
	)
	return out, nil
}

// ScanFile walks one backing file's valid records in offset order,
// tolerating garbage between them. Used by the compactor; the index, not
// the scan, decides which records are still live.
func (s *Store) ScanFile(id uint32, fn func(rec Record, loc index.Loc) bool) error {
	s.mu.RLock()
	f, ok := s.files[id]
	var size int64
	if ok {
		if fs := s.alloc.files[id]; fs != nil {
			size = fs.size
		}
	}
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	var rejected int
	return scanReader(f, size, func(off int64, rec Record, recLen int64) bool {
		return fn(rec, index.Loc{FileID: id, Offset: off, Length: recLen})
	}, &rejected)
}

// scanReader is the tolerant sequential scan shared by recovery and
// compaction. Record starts are alignment-positioned, so after a corrupt or
// torn candidate the scan resynchronizes by stepping one alignment unit:
// stale bytes in reused holes fail the length pre-filter or the checksum
// and are skipped as garbage, exactly like a torn tail write.
func scanReader(f *os.File, size int64, fn func(off int64, rec Record, recLen int64) bool, rejected *int) error {
	hdr := make([]byte, headerSize)
	off := int64(0)
	for off+headerSize <= size {
		if _, err := f.ReadAt(hdr, off); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		h := parseHeader(hdr)
		if !h.plausible(off, size) {
			*rejected++
			off += alignment
			continue
		}

		recLen := recordSize(int(h.keyLen), int(h.valLen))
		buf := make([]byte, recLen)
		if _, err := f.ReadAt(buf, off); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		rec, err := decodeRecord(buf)
		if err != nil {
			*rejected++
			off += alignment
			continue
		}
		if !fn(off, rec, recLen) {
			return nil
		}
		off += alignUp(recLen)
	}
	return nil
}
