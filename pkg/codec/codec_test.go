package codec

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint32RoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	PutUint32(buf, 0x12345678)

	// Little-endian on the wire
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, buf)
	assert.Equal(t, uint32(0x12345678), Uint32(buf))
}

func TestUint64RoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	PutUint64(buf, 0x5353544142424C45)

	assert.Equal(t, []byte{0x45, 0x4C, 0x42, 0x42, 0x41, 0x54, 0x53, 0x53}, buf)
	assert.Equal(t, uint64(0x5353544142424C45), Uint64(buf))
}

func TestChecksum(t *testing.T) {
	data := []byte("the quick brown fox")
	assert.Equal(t, crc32.ChecksumIEEE(data), Checksum(data))
}

func TestChecksumUpdate(t *testing.T) {
	a := []byte("hello ")
	b := []byte("world")

	whole := Checksum(append(append([]byte(nil), a...), b...))
	split := ChecksumUpdate(Checksum(a), b)

	assert.Equal(t, whole, split)
}

func TestValidateKey(t *testing.T) {
	require.ErrorIs(t, ValidateKey(nil), ErrKeyEmpty)
	require.ErrorIs(t, ValidateKey([]byte{}), ErrKeyEmpty)

	assert.NoError(t, ValidateKey(bytes.Repeat([]byte("k"), MaxKeySize)))
	require.ErrorIs(t, ValidateKey(bytes.Repeat([]byte("k"), MaxKeySize+1)), ErrKeyTooLarge)
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, ValidateValue(nil))
	assert.NoError(t, ValidateValue([]byte{}))

	assert.NoError(t, ValidateValue(bytes.Repeat([]byte("v"), MaxValueSize)))
	require.ErrorIs(t, ValidateValue(bytes.Repeat([]byte("v"), MaxValueSize+1)), ErrValueTooLarge)
}

func TestTombstoneMarker(t *testing.T) {
	assert.True(t, IsTombstone(TombstoneMarker))
	assert.False(t, IsTombstone(0))
	assert.False(t, IsTombstone(MaxValueSize))

	// The sentinel must never be a legal value length.
	assert.Greater(t, uint32(TombstoneMarker), uint32(MaxValueSize))
}
