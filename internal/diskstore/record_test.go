package diskstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_EncodeDecode(t *testing.T) {
	t.Parallel()

	buf := encodeRecord("user:42", []byte("payload-bytes"), 7)
	assert.Zero(t, int64(len(buf))%alignment, "encoded records are alignment-padded")

	rec, err := decodeRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, "user:42", rec.Key)
	assert.Equal(t, []byte("payload-bytes"), rec.Val)
	assert.Equal(t, uint64(7), rec.Generation)
}

func TestRecord_EmptyValue(t *testing.T) {
	t.Parallel()

	rec, err := decodeRecord(encodeRecord("k", nil, 1))
	require.NoError(t, err)
	assert.Equal(t, "k", rec.Key)
	assert.Empty(t, rec.Val)
}

func TestRecord_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	buf := encodeRecord("k", []byte("value"), 1)
	buf[headerSize+2] ^= 0xFF // flip a payload bit

	_, err := decodeRecord(buf)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestRecord_TruncatedBuffer(t *testing.T) {
	t.Parallel()

	buf := encodeRecord("k", []byte("value"), 1)
	_, err := decodeRecord(buf[:headerSize+2])
	assert.ErrorIs(t, err, ErrCorruptRecord)

	_, err = decodeRecord(buf[:4])
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestHeader_Plausible(t *testing.T) {
	t.Parallel()

	h := header{keyLen: 3, valLen: 5}
	assert.True(t, h.plausible(0, 100))
	assert.False(t, h.plausible(80, 100), "record would overrun the file")
	assert.False(t, header{keyLen: 0}.plausible(0, 100), "keys are never empty")
	assert.False(t, header{keyLen: MaxKeyLen + 1}.plausible(0, 1<<30))
}
