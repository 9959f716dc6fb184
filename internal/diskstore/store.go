package diskstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/internal/index"
)

// segmentFilePattern matches numbered backing files in the cache directory.
var segmentFilePattern = regexp.MustCompile(`^seg-(\d{6})\.log$`)

// ErrStaleRead reports a read that raced with compaction: the record's file
// was removed while the reader held its location. Callers retry the index
// lookup, which now names the relocated record.
var ErrStaleRead = errors.New("diskstore: stale read, record relocated")

// ErrRecordTooLarge reports a record that cannot fit a single backing file.
var ErrRecordTooLarge = errors.New("diskstore: record exceeds max file size")

// Store is the disk tier. Reads and writes to distinct records proceed
// concurrently; the internal lock covers only handle and free-space
// bookkeeping, never an I/O system call.
type Store struct {
	dir         string
	maxFileSize int64
	syncWrites  bool
	log         *zap.Logger

	mu    sync.RWMutex
	files map[uint32]*os.File
	alloc *allocator
}

// Open prepares the backing directory, discovers existing segment files,
// and registers them with the allocator. Call Recover before serving
// traffic to rebuild index state from media.
func Open(dir string, maxFileSize int64, syncWrites bool, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("diskstore: create dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		dir:         dir,
		maxFileSize: maxFileSize,
		syncWrites:  syncWrites,
		log:         logger,
		files:       make(map[uint32]*os.File),
		alloc:       newAllocator(maxFileSize),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("diskstore: read dir: %w", err)
	}
	var ids []uint32
	for _, e := range entries {
		m := segmentFilePattern.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		f, err := os.OpenFile(s.segmentPath(id), os.O_RDWR, 0o640)
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("diskstore: open segment %d: %w", id, err)
		}
		st, err := f.Stat()
		if err != nil {
			_ = f.Close()
			s.closeAll()
			return nil, fmt.Errorf("diskstore: stat segment %d: %w", id, err)
		}
		s.files[id] = f
		s.alloc.addFile(id, st.Size())
	}

	if len(ids) == 0 {
		if err := s.addSegmentLocked(1); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) segmentPath(id uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("seg-%06d.log", id))
}

// addSegmentLocked creates and registers a fresh backing file. Callers hold
// s.mu (or run before the store is shared).
func (s *Store) addSegmentLocked(id uint32) error {
	f, err := os.OpenFile(s.segmentPath(id), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("diskstore: create segment %d: %w", id, err)
	}
	s.files[id] = f
	s.alloc.addFile(id, 0)
	return nil
}

// Append writes one record and returns its location. The write is
// speculative from the engine's point of view: nothing references the
// record until the tier index commits a descriptor pointing at it, so a
// failed or abandoned append only costs reclaimable space.
func (s *Store) Append(key string, val []byte, gen uint64) (index.Loc, error) {
	buf := encodeRecord(key, val, gen)
	n := int64(len(buf)) // aligned by encodeRecord

	s.mu.Lock()
	loc, ok := s.alloc.allocate(n)
	if !ok {
		// Rotate to a new backing file and retry once.
		next := s.alloc.active + 1
		if err := s.addSegmentLocked(next); err != nil {
			s.mu.Unlock()
			return index.Loc{}, err
		}
		if loc, ok = s.alloc.allocate(n); !ok {
			s.mu.Unlock()
			return index.Loc{}, ErrRecordTooLarge
		}
	}
	f := s.files[loc.FileID]
	s.mu.Unlock()

	if _, err := f.WriteAt(buf, loc.Offset); err != nil {
		s.discard(loc)
		return index.Loc{}, fmt.Errorf("diskstore: append: %w", err)
	}
	if s.syncWrites {
		if err := datasync(f); err != nil {
			s.discard(loc)
			return index.Loc{}, fmt.Errorf("diskstore: sync: %w", err)
		}
	}

	loc.Length = recordSize(len(key), len(val))
	return loc, nil
}

// discard returns an allocation whose write never completed.
func (s *Store) discard(loc index.Loc) {
	s.mu.Lock()
	s.alloc.free(loc.FileID, loc.Offset, loc.Length) // loc.Length still aligned here
	s.mu.Unlock()
}

// ReadRecord reads and verifies the record at loc. Returns ErrStaleRead
// when the backing file was compacted away mid-read and ErrCorruptRecord on
// checksum or framing failure; callers must additionally compare the
// record's key and generation against their descriptor, since a freed range
// in an active file may have been reused by an unrelated record.
func (s *Store) ReadRecord(loc index.Loc) (Record, error) {
	s.mu.RLock()
	f, ok := s.files[loc.FileID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrStaleRead
	}

	buf := make([]byte, loc.Length)
	if _, err := f.ReadAt(buf, loc.Offset); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return Record{}, ErrStaleRead
		}
		return Record{}, fmt.Errorf("diskstore: read at %d/%d: %w", loc.FileID, loc.Offset, err)
	}
	return decodeRecord(buf)
}

// Free marks a record's range reclaimable.
func (s *Store) Free(loc index.Loc) {
	s.mu.Lock()
	s.alloc.free(loc.FileID, loc.Offset, alignUp(loc.Length))
	s.mu.Unlock()
}

// Candidates lists files whose live ratio fell below threshold — compaction
// work. The active file is never a candidate.
func (s *Store) Candidates(threshold float64) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc.candidates(threshold)
}

// Seal stops allocations into a file ahead of its compaction.
func (s *Store) Seal(id uint32) {
	s.mu.Lock()
	s.alloc.seal(id)
	s.mu.Unlock()
}

// Unseal re-enables allocations into a sealed file. Called when the
// compaction that sealed it could not finish.
func (s *Store) Unseal(id uint32) {
	s.mu.Lock()
	s.alloc.unseal(id)
	s.mu.Unlock()
}

// LiveRatio reports a file's live-byte share.
func (s *Store) LiveRatio(id uint32) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc.liveRatio(id)
}

// FileSize returns the allocated byte extent of one backing file, 0 if the
// file is unknown.
func (s *Store) FileSize(id uint32) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc.fileSize(id)
}

// Totals returns live and allocated bytes across all backing files.
func (s *Store) Totals() (live, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc.totals()
}

// RemoveFile deletes a fully-compacted backing file. In-flight readers of
// the old file observe ErrStaleRead and retry through the index.
func (s *Store) RemoveFile(id uint32) error {
	s.mu.Lock()
	f, ok := s.files[id]
	if ok {
		delete(s.files, id)
		s.alloc.removeFile(id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("diskstore: close segment %d: %w", id, err)
	}
	if err := os.Remove(s.segmentPath(id)); err != nil {
		return fmt.Errorf("diskstore: remove segment %d: %w", id, err)
	}
	return nil
}

// Sync flushes all backing files to stable media.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, f := range s.files {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("diskstore: sync segment %d: %w", id, err)
		}
	}
	return nil
}

// Close closes every backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAll()
}

func (s *Store) closeAll() error {
	var first error
	for id, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("diskstore: close segment %d: %w", id, err)
		}
		delete(s.files, id)
	}
	return first
}
