package diskstore

import (
	"sort"

	"github.com/IvanBrykalov/tiercache/internal/index"
)

// span is a free byte range within one backing file.
type span struct {
	off    int64
	length int64
}

// fileSpace tracks allocation state for one backing file.
type fileSpace struct {
	size   int64  // allocated extent (high-water mark, == bytes on media)
	live   int64  // bytes in allocated, not-yet-freed ranges
	free   []span // sorted by offset, adjacent spans coalesced
	sealed bool   // no new allocations (file is being compacted away)
}

// allocator manages free/used byte ranges across the backing files.
//
// Strategy: first-fit over the free-span maps of all unsealed files in file
// order, then tail growth of the active (highest-numbered) file up to the
// rotation threshold. When neither works the caller must rotate to a fresh
// file and retry. All sizes are alignment-rounded by the caller.
//
// Not safe for concurrent use on its own — the Store serializes access and
// holds the lock only for bookkeeping, never across I/O.
type allocator struct {
	maxFileSize int64
	files       map[uint32]*fileSpace
	order       []uint32 // ascending file ids
	active      uint32
}

func newAllocator(maxFileSize int64) *allocator {
	return &allocator{
		maxFileSize: maxFileSize,
		files:       make(map[uint32]*fileSpace),
	}
}

// addFile registers a backing file. size > 0 registers an existing file
// whose whole extent starts out free; recovery then carves out live records
// with markAllocated.
func (a *allocator) addFile(id uint32, size int64) {
	fs := &fileSpace{size: size}
	if size > 0 {
		fs.free = []span{{off: 0, length: size}}
	}
	a.files[id] = fs
	a.order = append(a.order, id)
	sort.Slice(a.order, func(i, j int) bool { return a.order[i] < a.order[j] })
	if id >= a.active {
		a.active = id
	}
}

func (a *allocator) removeFile(id uint32) {
	delete(a.files, id)
	for i, fid := range a.order {
		if fid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// allocate reserves n bytes (n already aligned). ok=false means no file can
// satisfy the request and a new backing file is needed.
func (a *allocator) allocate(n int64) (loc index.Loc, ok bool) {
	// First fit over existing holes.
	for _, id := range a.order {
		fs := a.files[id]
		if fs.sealed {
			continue
		}
		for i, sp := range fs.free {
			if sp.length < n {
				continue
			}
			fs.free[i] = span{off: sp.off + n, length: sp.length - n}
			if fs.free[i].length == 0 {
				fs.free = append(fs.free[:i], fs.free[i+1:]...)
			}
			fs.live += n
			return index.Loc{FileID: id, Offset: sp.off, Length: n}, true
		}
	}

	// Grow the active file's tail.
	fs := a.files[a.active]
	if fs != nil && !fs.sealed && fs.size+n <= a.maxFileSize {
		off := fs.size
		fs.size += n
		fs.live += n
		return index.Loc{FileID: a.active, Offset: off, Length: n}, true
	}
	return index.Loc{}, false
}

// free returns a range (aligned length) to the free map, coalescing with
// adjacent free spans.
func (a *allocator) free(fileID uint32, off, n int64) {
	fs := a.files[fileID]
	if fs == nil {
		return // file already compacted away
	}
	fs.live -= n
	if fs.live < 0 {
		fs.live = 0
	}

	i := sort.Search(len(fs.free), func(i int) bool { return fs.free[i].off >= off })
	fs.free = append(fs.free, span{})
	copy(fs.free[i+1:], fs.free[i:])
	fs.free[i] = span{off: off, length: n}

	// Coalesce with successor, then predecessor.
	if i+1 < len(fs.free) && fs.free[i].off+fs.free[i].length == fs.free[i+1].off {
		fs.free[i].length += fs.free[i+1].length
		fs.free = append(fs.free[:i+1], fs.free[i+2:]...)
	}
	if i > 0 && fs.free[i-1].off+fs.free[i-1].length == fs.free[i].off {
		fs.free[i-1].length += fs.free[i].length
		fs.free = append(fs.free[:i], fs.free[i+1:]...)
	}
}

// markAllocated carves a live range out of the free map during recovery.
func (a *allocator) markAllocated(fileID uint32, off, n int64) {
	fs := a.files[fileID]
	if fs == nil {
		return
	}
	for i, sp := range fs.free {
		if off < sp.off || off+n > sp.off+sp.length {
			continue
		}
		rest := make([]span, 0, 2)
		if off > sp.off {
			rest = append(rest, span{off: sp.off, length: off - sp.off})
		}
		if end := sp.off + sp.length; off+n < end {
			rest = append(rest, span{off: off + n, length: end - (off + n)})
		}
		fs.free = append(fs.free[:i], append(rest, fs.free[i+1:]...)...)
		fs.live += n
		return
	}
}

// seal stops allocations into a file ahead of its compaction.
func (a *allocator) seal(id uint32) {
	if fs := a.files[id]; fs != nil {
		fs.sealed = true
	}
}

// unseal reverses seal after a compaction that could not finish, so the
// file stays allocatable and remains a future compaction candidate.
func (a *allocator) unseal(id uint32) {
	if fs := a.files[id]; fs != nil {
		fs.sealed = false
	}
}

// liveRatio reports the live-byte share of a file's extent.
func (a *allocator) liveRatio(id uint32) float64 {
	fs := a.files[id]
	if fs == nil || fs.size == 0 {
		return 1.0
	}
	return float64(fs.live) / float64(fs.size)
}

// candidates returns non-active, unsealed files whose live ratio is below
// the threshold — the compactor's work list.
func (a *allocator) candidates(threshold float64) []uint32 {
	var out []uint32
	for _, id := range a.order {
		if id == a.active {
			continue
		}
		fs := a.files[id]
		if fs.sealed || fs.size == 0 {
			continue
		}
		if a.liveRatio(id) < threshold {
			out = append(out, id)
		}
	}
	return out
}

// fileSize returns a file's allocated extent, 0 if the file is unknown.
func (a *allocator) fileSize(id uint32) int64 {
	if fs := a.files[id]; fs != nil {
		return fs.size
	}
	return 0
}

// totals returns live and allocated bytes across all files.
func (a *allocator) totals() (live, size int64) {
	for _, fs := range a.files {
		live += fs.live
		size += fs.size
	}
	return live, size
}
