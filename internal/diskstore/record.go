// Package diskstore implements the SSD tier: an append-structured log of
// self-describing records across one or more backing files, a free-space
// allocator over those files, and the crash-recovery scan that rebuilds the
// tier index from media.
package diskstore

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// On-media record layout, little-endian:
//
//	keyLen   uint32
//	valLen   uint32
//	gen      uint64
//	checksum uint32   // truncated xxhash64 over key bytes then value bytes
//	key      [keyLen]byte
//	val      [valLen]byte
//
// Records are immutable once written; an overwrite appends a new record at
// a higher generation and the old one becomes garbage for the compactor.
const (
	headerSize = 20

	// alignment of record start offsets and allocation sizes. The recovery
	// scan resynchronizes on this stride after a corrupt record.
	alignment = 8

	// MaxKeyLen bounds keys; anything larger in a header is treated as
	// corruption during scans.
	MaxKeyLen = 64 << 10
)

// ErrCorruptRecord reports a checksum or framing failure on a disk record.
// The engine self-heals by discarding the record; it only surfaces when no
// valid copy of a key remains.
var ErrCorruptRecord = errors.New("diskstore: corrupt record")

// Record is one decoded disk record.
type Record struct {
	Key        string
	Val        []byte
	Generation uint64
}

// recordSize returns the encoded length of a record.
func recordSize(keyLen, valLen int) int64 {
	return int64(headerSize + keyLen + valLen)
}

// alignUp rounds n up to the allocation alignment.
func alignUp(n int64) int64 {
	return (n + alignment - 1) &^ (alignment - 1)
}

// AlignedLength reports the allocator footprint of a record of encoded
// length n. Loc.Length carries the encoded length; the allocator accounts
// the aligned one.
func AlignedLength(n int64) int64 {
	return alignUp(n)
}

// checksum computes the record checksum over key bytes then value bytes.
func checksum(key string, val []byte) uint32 {
	d := xxhash.New()
	_, _ = d.WriteString(key)
	_, _ = d.Write(val)
	return uint32(d.Sum64())
}

// encodeRecord serializes a record into a fresh buffer padded to the
// allocation alignment.
func encodeRecord(key string, val []byte, gen uint64) []byte {
	size := recordSize(len(key), len(val))
	buf := make([]byte, alignUp(size))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(val)))
	binary.LittleEndian.PutUint64(buf[8:16], gen)
	binary.LittleEndian.PutUint32(buf[16:20], checksum(key, val))
	copy(buf[headerSize:], key)
	copy(buf[headerSize+len(key):], val)
	return buf
}

// header is a parsed record header, not yet verified against the payload.
type header struct {
	keyLen uint32
	valLen uint32
	gen    uint64
	sum    uint32
}

func parseHeader(buf []byte) header {
	return header{
		keyLen: binary.LittleEndian.Uint32(buf[0:4]),
		valLen: binary.LittleEndian.Uint32(buf[4:8]),
		gen:    binary.LittleEndian.Uint64(buf[8:16]),
		sum:    binary.LittleEndian.Uint32(buf[16:20]),
	}
}

// plausible reports whether a header could describe a record fitting between
// off and the end of a file of the given size. It is a cheap pre-filter; the
// checksum is the real arbiter.
func (h header) plausible(off, fileSize int64) bool {
	if h.keyLen == 0 || h.keyLen > MaxKeyLen {
		return false
	}
	return off+recordSize(int(h.keyLen), int(h.valLen)) <= fileSize
}

// decodeRecord parses and verifies a full record buffer.
func decodeRecord(buf []byte) (Record, error) {
	if len(buf) < headerSize {
		return Record{}, ErrCorruptRecord
	}
	h := parseHeader(buf)
	size := recordSize(int(h.keyLen), int(h.valLen))
	if h.keyLen == 0 || h.keyLen > MaxKeyLen || int64(len(buf)) < size {
		return Record{}, ErrCorruptRecord
	}
	key := string(buf[headerSize : headerSize+int(h.keyLen)])
	val := buf[headerSize+int(h.keyLen) : size]
	if checksum(key, val) != h.sum {
		return Record{}, ErrCorruptRecord
	}
	out := make([]byte, len(val))
	copy(out, val)
	return Record{Key: key, Val: out, Generation: h.gen}, nil
}
