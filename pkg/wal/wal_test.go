package wal

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/peatdb/peat/pkg/codec"
	"github.com/peatdb/peat/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.WALFileName)
	w, err := Open(config.NewDefaultConfig(), path)
	require.NoError(t, err)
	return w, path
}

func replayAll(t *testing.T, path string) ([]*Record, *RecoveryStats) {
	t.Helper()

	var records []*Record
	stats, err := Replay(path, func(r *Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(t, err)
	return records, stats
}

func TestAppendAndReplay(t *testing.T) {
	w, path := createTestWAL(t)

	_, err := w.Append([]byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = w.Append([]byte("b"), []byte("2"))
	require.NoError(t, err)
	_, err = w.AppendTombstone([]byte("a"))
	require.NoError(t, err)

	require.NoError(t, w.Close())

	records, stats := replayAll(t, path)
	require.Len(t, records, 3)
	assert.False(t, stats.TailTruncated)
	assert.Equal(t, uint64(3), stats.RecordsApplied)

	assert.Equal(t, []byte("a"), records[0].Key)
	assert.Equal(t, []byte("1"), records[0].Value)
	assert.False(t, records[0].Tombstone)

	assert.Equal(t, []byte("b"), records[1].Key)
	assert.Equal(t, []byte("2"), records[1].Value)

	assert.Equal(t, []byte("a"), records[2].Key)
	assert.True(t, records[2].Tombstone)
	assert.Nil(t, records[2].Value)

	// Replay order equals append order, and timestamps never regress.
	assert.Less(t, records[0].Timestamp, records[1].Timestamp)
	assert.Less(t, records[1].Timestamp, records[2].Timestamp)
}

func TestTimestampsStrictlyIncreasing(t *testing.T) {
	w, path := createTestWAL(t)

	var last uint64
	for i := 0; i < 100; i++ {
		ts, err := w.Append([]byte{'k', byte(i)}, []byte("v"))
		require.NoError(t, err)
		assert.Greater(t, ts, last)
		last = ts
	}
	require.NoError(t, w.Close())

	records, _ := replayAll(t, path)
	require.Len(t, records, 100)
}

func TestEmptyValueIsNotTombstone(t *testing.T) {
	w, path := createTestWAL(t)

	_, err := w.Append([]byte("k"), nil)
	require.NoError(t, err)
	_, err = w.Append([]byte("k2"), []byte{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	records, _ := replayAll(t, path)
	require.Len(t, records, 2)
	assert.False(t, records[0].Tombstone)
	assert.Empty(t, records[0].Value)
	assert.False(t, records[1].Tombstone)
}

func TestTruncate(t *testing.T) {
	w, path := createTestWAL(t)

	_, err := w.Append([]byte("a"), []byte("1"))
	require.NoError(t, err)
	assert.Greater(t, w.Size(), int64(0))

	require.NoError(t, w.Truncate())
	assert.Equal(t, int64(0), w.Size())

	// Truncating an already-empty WAL is a no-op.
	require.NoError(t, w.Truncate())
	assert.Equal(t, int64(0), w.Size())

	// The file stays present at length zero.
	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stat.Size())

	// Appending resumes after truncation.
	_, err = w.Append([]byte("b"), []byte("2"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	records, _ := replayAll(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("b"), records[0].Key)
}

func TestSizeMatchesFile(t *testing.T) {
	w, path := createTestWAL(t)

	_, err := w.Append([]byte("key"), []byte("value"))
	require.NoError(t, err)
	_, err = w.AppendTombstone([]byte("key"))
	require.NoError(t, err)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, stat.Size(), w.Size())

	require.NoError(t, w.Close())
}

func TestTailTruncationTolerated(t *testing.T) {
	w, path := createTestWAL(t)

	_, err := w.Append([]byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = w.Append([]byte("b"), []byte("2"))
	require.NoError(t, err)
	_, err = w.Append([]byte("c"), []byte("3"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	full, err := os.ReadFile(path)
	require.NoError(t, err)

	// Each record here is 22 bytes, so cutting 1..15 bytes always lands
	// inside the last record. Iteration must stop cleanly before it with
	// no partial delivery.
	for cut := 1; cut <= 15; cut++ {
		tornPath := filepath.Join(t.TempDir(), "torn.log")
		require.NoError(t, os.WriteFile(tornPath, full[:len(full)-cut], 0644))

		records, stats := replayAll(t, tornPath)
		require.Len(t, records, 2, "cut %d bytes", cut)
		assert.Equal(t, []byte("b"), records[1].Key)
		assert.True(t, stats.TailTruncated, "cut %d bytes", cut)
	}
}

func TestMidLogCorruptionSurfaces(t *testing.T) {
	w, path := createTestWAL(t)

	_, err := w.Append([]byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = w.Append([]byte("b"), []byte("2"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a key byte of the first record. It is not the tail, so this
	// must surface as corruption rather than a clean stop.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{'z'}, HeaderSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Replay(path, func(*Record) error { return nil })
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestTailChecksumMismatchTolerated(t *testing.T) {
	w, path := createTestWAL(t)

	_, err := w.Append([]byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = w.Append([]byte("b"), []byte("2"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a byte inside the final record: a torn write of the tail.
	stat, err := os.Stat(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, stat.Size()-1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, stats := replayAll(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("a"), records[0].Key)
	assert.True(t, stats.TailTruncated)
}

func TestSizeCaps(t *testing.T) {
	w, _ := createTestWAL(t)
	defer w.Close()

	_, err := w.Append(nil, []byte("v"))
	require.ErrorIs(t, err, codec.ErrKeyEmpty)

	_, err = w.Append(make([]byte, codec.MaxKeySize+1), []byte("v"))
	require.ErrorIs(t, err, codec.ErrKeyTooLarge)

	_, err = w.Append([]byte("k"), make([]byte, codec.MaxValueSize+1))
	require.ErrorIs(t, err, codec.ErrValueTooLarge)
}

func TestAppendAfterClose(t *testing.T) {
	w, _ := createTestWAL(t)
	require.NoError(t, w.Close())

	_, err := w.Append([]byte("k"), []byte("v"))
	require.ErrorIs(t, err, ErrWALClosed)
}

func TestReplayMissingFile(t *testing.T) {
	stats, err := Replay(filepath.Join(t.TempDir(), "absent.log"), func(*Record) error {
		t.Fatal("handler must not be called")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.RecordsApplied)
}

func TestReaderOffsets(t *testing.T) {
	w, path := createTestWAL(t)

	_, err := w.Append([]byte("a"), []byte("1"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), rec.Key)

	// 16-byte header + 1-byte key + 1-byte value + 4-byte checksum.
	assert.Equal(t, int64(22), r.Offset())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	assert.False(t, r.Truncated())
}
