package diskstore

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/internal/index"
)

func openTestStore(t *testing.T, dir string, maxFileSize int64) *Store {
	t.Helper()
	s, err := Open(dir, maxFileSize, false, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendReadRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir(), 1<<20)

	loc, err := s.Append("k1", []byte("value-1"), 3)
	require.NoError(t, err)

	rec, err := s.ReadRecord(loc)
	require.NoError(t, err)
	assert.Equal(t, "k1", rec.Key)
	assert.Equal(t, []byte("value-1"), rec.Val)
	assert.Equal(t, uint64(3), rec.Generation)
}

func TestStore_RotatesAtMaxFileSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openTestStore(t, dir, 64)

	// Each record is well under 64 bytes but two don't fit one file.
	l1, err := s.Append("a", make([]byte, 20), 1)
	require.NoError(t, err)
	l2, err := s.Append("b", make([]byte, 20), 1)
	require.NoError(t, err)

	assert.NotEqual(t, l1.FileID, l2.FileID, "second record must rotate to a new file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_RecordTooLarge(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir(), 64)
	_, err := s.Append("k", make([]byte, 128), 1)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestStore_FreeAndTotals(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir(), 1<<20)
	loc, err := s.Append("k", []byte("0123456789"), 1)
	require.NoError(t, err)

	live, total := s.Totals()
	assert.Equal(t, alignUp(loc.Length), live)
	assert.Equal(t, live, total)

	s.Free(loc)
	live, _ = s.Totals()
	assert.Zero(t, live)
}

func TestStore_RecoverHighestGenerationWins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openTestStore(t, dir, 1<<20)
	_, err := s.Append("k", []byte("old"), 1)
	require.NoError(t, err)
	_, err = s.Append("k", []byte("mid"), 2)
	require.NoError(t, err)
	locNew, err := s.Append("k", []byte("new"), 3)
	require.NoError(t, err)
	_, err = s.Append("other", []byte("x"), 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopen without a clean shutdown marker: recovery is a pure scan.
	s2 := openTestStore(t, dir, 1<<20)
	entries, err := s2.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byKey := map[string]RecoveredEntry{}
	for _, e := range entries {
		byKey[e.Key] = e
	}
	require.Contains(t, byKey, "k")
	assert.Equal(t, uint64(3), byKey["k"].Generation)
	assert.Equal(t, locNew.Offset, byKey["k"].Loc.Offset)

	rec, err := s2.ReadRecord(byKey["k"].Loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), rec.Val)

	// Superseded generations are garbage in the free map.
	assert.Less(t, s2.LiveRatio(byKey["k"].Loc.FileID), 1.0)
}

func TestStore_RecoverSkipsTornTail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openTestStore(t, dir, 1<<20)
	_, err := s.Append("ok", []byte("value"), 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Simulate a torn write: half a header's worth of junk at the tail.
	f, err := os.OpenFile(s.segmentPath(1), os.O_WRONLY|os.O_APPEND, 0o640)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2 := openTestStore(t, dir, 1<<20)
	entries, err := s2.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Key)
}

func TestStore_RecoverResyncsAfterCorruptRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openTestStore(t, dir, 1<<20)
	locA, err := s.Append("a", []byte("aaaa"), 1)
	require.NoError(t, err)
	_, err = s.Append("b", []byte("bbbb"), 1)
	require.NoError(t, err)
	_, err = s.Append("c", []byte("cccc"), 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Corrupt the first record's payload in place; the scan must skip it
	// and still find b and c behind it.
	f, err := os.OpenFile(s.segmentPath(1), os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, locA.Offset+headerSize+1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2 := openTestStore(t, dir, 1<<20)
	entries, err := s2.Recover()
	require.NoError(t, err)

	keys := map[string]bool{}
	for _, e := range entries {
		keys[e.Key] = true
	}
	assert.False(t, keys["a"], "corrupt record must be dropped")
	assert.True(t, keys["b"])
	assert.True(t, keys["c"])
}

func TestStore_ScanFileVisitsRecords(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir(), 1<<20)
	for i := 0; i < 5; i++ {
		_, err := s.Append(fmt.Sprintf("k%d", i), []byte("v"), 1)
		require.NoError(t, err)
	}

	var seen []string
	err := s.ScanFile(1, func(rec Record, loc index.Loc) bool {
		seen = append(seen, rec.Key)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1", "k2", "k3", "k4"}, seen)
}

// A sealed file drops out of the candidate list; unsealing after a failed
// compaction puts it back so the space is not stranded.
func TestStore_UnsealRestoresCandidacy(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir(), 64)
	loc, err := s.Append("k", make([]byte, 20), 1)
	require.NoError(t, err)
	// Rotate so the first file is no longer active, then make it dead.
	_, err = s.Append("k2", make([]byte, 20), 1)
	require.NoError(t, err)
	s.Free(loc)

	require.Equal(t, []uint32{loc.FileID}, s.Candidates(0.5))

	s.Seal(loc.FileID)
	assert.Empty(t, s.Candidates(0.5))

	s.Unseal(loc.FileID)
	assert.Equal(t, []uint32{loc.FileID}, s.Candidates(0.5))
}

func TestStore_RemoveFileMakesReadsStale(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir(), 64)
	loc, err := s.Append("k", make([]byte, 20), 1)
	require.NoError(t, err)
	// Rotate so the first file is no longer active.
	_, err = s.Append("k2", make([]byte, 20), 1)
	require.NoError(t, err)

	require.NoError(t, s.RemoveFile(loc.FileID))
	_, err = s.ReadRecord(loc)
	assert.ErrorIs(t, err, ErrStaleRead)
}
