package sstable

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peatdb/peat/pkg/codec"
	"github.com/peatdb/peat/pkg/sstable/footer"
)

// FileManager handles file operations for SSTable writing. The table is
// built in a temporary file beside the target path and renamed into place
// only after a successful finalize, so a crash mid-write never leaves a
// partially valid file at the canonical name.
type FileManager struct {
	path    string
	tmpPath string
	file    *os.File
}

// NewFileManager creates a new FileManager for the given file path
func NewFileManager(path string) (*FileManager, error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &FileManager{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
	}, nil
}

// Write writes data to the file at the current position
func (fm *FileManager) Write(data []byte) (int, error) {
	return fm.file.Write(data)
}

// WriteAt writes data at the given offset without moving the write position
func (fm *FileManager) WriteAt(data []byte, offset int64) (int, error) {
	return fm.file.WriteAt(data, offset)
}

// ChecksumRange computes the CRC-32 of file bytes [0, length).
func (fm *FileManager) ChecksumRange(length int64) (uint32, error) {
	section := io.NewSectionReader(fm.file, 0, length)
	var crc uint32
	buf := make([]byte, 64*1024)
	for {
		n, err := section.Read(buf)
		if n > 0 {
			crc = codec.ChecksumUpdate(crc, buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read back file for checksum: %w", err)
		}
	}
	return crc, nil
}

// Sync flushes the file to disk
func (fm *FileManager) Sync() error {
	return fm.file.Sync()
}

// Close closes the file
func (fm *FileManager) Close() error {
	if fm.file == nil {
		return nil
	}
	err := fm.file.Close()
	fm.file = nil
	return err
}

// FinalizeFile closes the file and renames it to the final path
func (fm *FileManager) FinalizeFile() error {
	if err := fm.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Cleanup removes the temporary file if writing is aborted
func (fm *FileManager) Cleanup() error {
	if fm.file != nil {
		fm.Close()
	}
	return os.Remove(fm.tmpPath)
}

// Writer streams a sorted sequence of key-value entries into an immutable
// SSTable file. Keys must be added in strictly ascending order.
type Writer struct {
	fileManager   *FileManager
	indexInterval int
	offset        uint64
	index         []IndexEntry
	numEntries    uint64
	lastKey       []byte
	finished      bool
}

// NewWriter creates a new SSTable writer targeting path, with the default
// index interval.
func NewWriter(path string) (*Writer, error) {
	return NewWriterWithInterval(path, DefaultIndexInterval)
}

// NewWriterWithInterval creates a writer that emits one sparse index entry
// per indexInterval data records, starting at record 0.
func NewWriterWithInterval(path string, indexInterval int) (*Writer, error) {
	if indexInterval <= 0 {
		return nil, fmt.Errorf("%w: index interval must be positive", ErrInvariant)
	}

	fileManager, err := NewFileManager(path)
	if err != nil {
		return nil, err
	}

	// Placeholder header; num_entries is rewritten at finalize.
	if _, err := fileManager.Write(encodeHeader(0)); err != nil {
		fileManager.Cleanup()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &Writer{
		fileManager:   fileManager,
		indexInterval: indexInterval,
		offset:        HeaderSize,
	}, nil
}

// Add appends a key-value pair to the SSTable. Keys must arrive in
// strictly ascending order.
func (w *Writer) Add(key, value []byte) error {
	return w.add(key, value, false)
}

// AddTombstone appends a deletion marker for key.
func (w *Writer) AddTombstone(key []byte) error {
	return w.add(key, nil, true)
}

func (w *Writer) add(key, value []byte, tombstone bool) error {
	if w.finished {
		return fmt.Errorf("%w: writer is already finished", ErrInvariant)
	}

	if err := codec.ValidateKey(key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	if !tombstone {
		if err := codec.ValidateValue(value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}
	}

	if w.lastKey != nil && bytes.Compare(key, w.lastKey) <= 0 {
		return fmt.Errorf("%w: keys must be added in strictly ascending order: %q <= %q",
			ErrInvariant, key, w.lastKey)
	}

	if w.numEntries%uint64(w.indexInterval) == 0 {
		w.index = append(w.index, IndexEntry{
			Key:    append([]byte(nil), key...),
			Offset: w.offset,
		})
	}

	record := encodeRecord(key, value, tombstone)
	n, err := w.fileManager.Write(record)
	if err != nil {
		return fmt.Errorf("failed to write data record: %w", err)
	}
	if n != len(record) {
		return fmt.Errorf("wrote incomplete data record: %d of %d bytes", n, len(record))
	}

	w.offset += uint64(n)
	w.numEntries++
	w.lastKey = append(w.lastKey[:0], key...)

	return nil
}

// encodeRecord serializes a data record:
// key_size(4) | value_size(4) | key | value.
func encodeRecord(key, value []byte, tombstone bool) []byte {
	valueSize := uint32(len(value))
	if tombstone {
		valueSize = codec.TombstoneMarker
		value = nil
	}

	record := make([]byte, recordHeaderSize+len(key)+len(value))
	codec.PutUint32(record[0:4], uint32(len(key)))
	codec.PutUint32(record[4:8], valueSize)
	copy(record[recordHeaderSize:], key)
	copy(record[recordHeaderSize+len(key):], value)
	return record
}

// encodeIndexEntry serializes a sparse index entry:
// key_size(4) | key | data_offset(8).
func encodeIndexEntry(e IndexEntry) []byte {
	entry := make([]byte, 4+len(e.Key)+8)
	codec.PutUint32(entry[0:4], uint32(len(e.Key)))
	copy(entry[4:], e.Key)
	codec.PutUint64(entry[4+len(e.Key):], e.Offset)
	return entry
}

// Finish writes the sparse index, rewrites the header with the final entry
// count, appends the checksummed footer, fsyncs, and renames the file into
// its final path. A writer with zero adds still produces a valid file.
func (w *Writer) Finish() error {
	if w.finished {
		return fmt.Errorf("%w: writer is already finished", ErrInvariant)
	}
	w.finished = true

	indexOffset := w.offset
	for _, e := range w.index {
		entry := encodeIndexEntry(e)
		n, err := w.fileManager.Write(entry)
		if err != nil {
			w.fileManager.Cleanup()
			return fmt.Errorf("failed to write index entry: %w", err)
		}
		if n != len(entry) {
			w.fileManager.Cleanup()
			return fmt.Errorf("wrote incomplete index entry: %d of %d bytes", n, len(entry))
		}
		w.offset += uint64(n)
	}

	// Final header, now that num_entries is known.
	if _, err := w.fileManager.WriteAt(encodeHeader(w.numEntries), 0); err != nil {
		w.fileManager.Cleanup()
		return fmt.Errorf("failed to rewrite header: %w", err)
	}

	// The footer CRC covers header, data region, and index.
	crc, err := w.fileManager.ChecksumRange(int64(w.offset))
	if err != nil {
		w.fileManager.Cleanup()
		return err
	}

	footerData := footer.NewFooter(indexOffset, crc).Encode()
	n, err := w.fileManager.Write(footerData)
	if err != nil {
		w.fileManager.Cleanup()
		return fmt.Errorf("failed to write footer: %w", err)
	}
	if n != len(footerData) {
		w.fileManager.Cleanup()
		return fmt.Errorf("wrote incomplete footer: %d of %d bytes", n, len(footerData))
	}

	if err := w.fileManager.Sync(); err != nil {
		w.fileManager.Cleanup()
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return w.fileManager.FinalizeFile()
}

// Abort cancels the SSTable writing process and removes the temp file.
func (w *Writer) Abort() error {
	w.finished = true
	return w.fileManager.Cleanup()
}
