package wal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peatdb/peat/pkg/codec"
	"github.com/peatdb/peat/pkg/config"
)

const (
	// HeaderSize is the fixed prefix of every record:
	// timestamp(8) + key_size(4) + value_size(4).
	HeaderSize = 16

	// ChecksumSize is the CRC-32 trailer of every record.
	ChecksumSize = 4
)

var (
	ErrCorruptRecord = errors.New("corrupt record")
	ErrWALClosed     = errors.New("WAL is closed")
)

// Record is a logical entry in the WAL. A tombstone carries no value bytes.
type Record struct {
	Timestamp uint64 // microseconds
	Key       []byte
	Value     []byte
	Tombstone bool
}

// WAL is an append-only log of mutations. Every acknowledged append is on
// stable storage before Append returns (in the default sync mode), so a
// crash can lose at most a partial trailing record.
type WAL struct {
	cfg           *config.Config
	path          string
	file          *os.File
	writer        *bufio.Writer
	lastTimestamp uint64
	size          int64
	batchByteSize int64
	closed        int32
	mu            sync.Mutex
}

// Open opens or creates the WAL file at path for appending.
func Open(cfg *config.Config, path string) (*WAL, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	return &WAL{
		cfg:    cfg,
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024), // 64KB buffer
		size:   stat.Size(),
	}, nil
}

// Append writes a put record for key and value and returns the timestamp
// assigned to it. A nil value is stored as an empty value, not a deletion.
func (w *WAL) Append(key, value []byte) (uint64, error) {
	return w.append(key, value, false)
}

// AppendTombstone writes a deletion record for key and returns the
// timestamp assigned to it.
func (w *WAL) AppendTombstone(key []byte) (uint64, error) {
	return w.append(key, nil, true)
}

func (w *WAL) append(key, value []byte, tombstone bool) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if atomic.LoadInt32(&w.closed) == 1 {
		return 0, ErrWALClosed
	}

	if err := codec.ValidateKey(key); err != nil {
		return 0, err
	}
	if len(key) > w.cfg.MaxKeyBytes {
		return 0, codec.ErrKeyTooLarge
	}
	if !tombstone {
		if err := codec.ValidateValue(value); err != nil {
			return 0, err
		}
		if len(value) > w.cfg.MaxValueBytes {
			return 0, codec.ErrValueTooLarge
		}
	}

	ts := w.nextTimestamp()
	record := encodeRecord(ts, key, value, tombstone)

	if _, err := w.writer.Write(record); err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}

	w.size += int64(len(record))
	w.batchByteSize += int64(len(record))

	if err := w.maybeSync(); err != nil {
		return 0, err
	}

	return ts, nil
}

// nextTimestamp assigns a monotonically increasing microsecond timestamp.
// Equal or regressing wall clocks are clamped to last+1 so record order
// always matches append order.
func (w *WAL) nextTimestamp() uint64 {
	now := uint64(time.Now().UnixMicro())
	if now <= w.lastTimestamp {
		now = w.lastTimestamp + 1
	}
	w.lastTimestamp = now
	return now
}

// UpdateLastTimestamp raises the timestamp floor. Called after recovery so
// new appends stay ahead of everything already in the log.
func (w *WAL) UpdateLastTimestamp(ts uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ts > w.lastTimestamp {
		w.lastTimestamp = ts
	}
}

// encodeRecord serializes a record:
// timestamp(8) | key_size(4) | value_size(4) | key | value | crc32(4).
// The CRC covers every byte before it.
func encodeRecord(ts uint64, key, value []byte, tombstone bool) []byte {
	valueSize := uint32(len(value))
	if tombstone {
		valueSize = codec.TombstoneMarker
		value = nil
	}

	record := make([]byte, HeaderSize+len(key)+len(value)+ChecksumSize)
	codec.PutUint64(record[0:8], ts)
	codec.PutUint32(record[8:12], uint32(len(key)))
	codec.PutUint32(record[12:16], valueSize)
	copy(record[HeaderSize:], key)
	copy(record[HeaderSize+len(key):], value)

	payloadEnd := HeaderSize + len(key) + len(value)
	codec.PutUint32(record[payloadEnd:], codec.Checksum(record[:payloadEnd]))

	return record
}

// maybeSync syncs the WAL file if needed based on configuration
func (w *WAL) maybeSync() error {
	needSync := false

	switch w.cfg.WALSyncMode {
	case config.SyncImmediate:
		needSync = true
	case config.SyncBatch:
		if w.batchByteSize >= w.cfg.WALSyncBytes {
			needSync = true
		}
	case config.SyncNone:
		// No syncing
	}

	if needSync {
		return w.syncLocked()
	}

	return nil
}

func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL file: %w", err)
	}

	w.batchByteSize = 0
	return nil
}

// Sync flushes all buffered data to disk
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if atomic.LoadInt32(&w.closed) == 1 {
		return ErrWALClosed
	}

	return w.syncLocked()
}

// Truncate resets the log to zero length and fsyncs. Called after a
// successful flush to an SSTable. Truncating an empty log is a no-op.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if atomic.LoadInt32(&w.closed) == 1 {
		return ErrWALClosed
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer: %w", err)
	}

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL file: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL file: %w", err)
	}

	w.size = 0
	w.batchByteSize = 0
	return nil
}

// Size returns the current on-disk length in bytes, including any bytes
// still in the write buffer.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Path returns the WAL file path.
func (w *WAL) Path() string {
	return w.path
}

// Close flushes, syncs, and closes the WAL.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if atomic.LoadInt32(&w.closed) == 1 {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer during close: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL file during close: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}

	atomic.StoreInt32(&w.closed, 1)
	return nil
}
