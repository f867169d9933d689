package sstable

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/peatdb/peat/pkg/codec"
	"github.com/peatdb/peat/pkg/sstable/footer"
)

// IOManager handles file I/O for an open SSTable. Reads go through ReadAt,
// so any number of goroutines can share one reader over a finalized file.
type IOManager struct {
	path     string
	file     *os.File
	fileSize int64
	mu       sync.RWMutex
}

// NewIOManager creates a new IOManager for the given file path
func NewIOManager(path string) (*IOManager, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &IOManager{
		path:     path,
		file:     file,
		fileSize: stat.Size(),
	}, nil
}

// ReadAt reads data from the file at the given offset
func (iom *IOManager) ReadAt(data []byte, offset int64) (int, error) {
	iom.mu.RLock()
	defer iom.mu.RUnlock()

	if iom.file == nil {
		return 0, fmt.Errorf("%w: file is closed", ErrInvariant)
	}

	return iom.file.ReadAt(data, offset)
}

// ChecksumRange computes the CRC-32 of file bytes [0, length).
func (iom *IOManager) ChecksumRange(length int64) (uint32, error) {
	iom.mu.RLock()
	defer iom.mu.RUnlock()

	if iom.file == nil {
		return 0, fmt.Errorf("%w: file is closed", ErrInvariant)
	}

	section := io.NewSectionReader(iom.file, 0, length)
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
			return 0, fmt.Errorf("failed to read file for checksum: %w", err)
		}
	}
	return crc, nil
}

// GetFileSize returns the size of the file
func (iom *IOManager) GetFileSize() int64 {
	iom.mu.RLock()
	defer iom.mu.RUnlock()
	return iom.fileSize
}

// Close closes the file
func (iom *IOManager) Close() error {
	iom.mu.Lock()
	defer iom.mu.Unlock()

	if iom.file == nil {
		return nil
	}

	err := iom.file.Close()
	iom.file = nil
	return err
}

// Reader serves point lookups, range scans, and full iteration over a
// finalized SSTable. Open validates the footer checksum before anything
// else, so a reader only ever exists over a file whose bytes are intact.
type Reader struct {
	ioManager   *IOManager
	indexOffset uint64
	numEntries  uint64
	index       []IndexEntry
}

// OpenReader opens an SSTable file for reading.
func OpenReader(path string) (*Reader, error) {
	ioManager, err := NewIOManager(path)
	if err != nil {
		return nil, err
	}

	fileSize := ioManager.GetFileSize()
	if fileSize < HeaderSize+footer.FooterSize {
		ioManager.Close()
		return nil, fmt.Errorf("%w: file too small to be valid SSTable: %d bytes",
			ErrCorruption, fileSize)
	}

	// Footer first: nothing is trusted until the checksum matches.
	footerData := make([]byte, footer.FooterSize)
	if _, err := ioManager.ReadAt(footerData, fileSize-footer.FooterSize); err != nil {
		ioManager.Close()
		return nil, fmt.Errorf("failed to read footer: %w", err)
	}

	ft, err := footer.Decode(footerData)
	if err != nil {
		ioManager.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	computed, err := ioManager.ChecksumRange(fileSize - footer.FooterSize)
	if err != nil {
		ioManager.Close()
		return nil, err
	}
	if computed != ft.Checksum {
		ioManager.Close()
		return nil, fmt.Errorf("%w: checksum mismatch: stored %08x, computed %08x",
			ErrCorruption, ft.Checksum, computed)
	}

	if ft.IndexOffset < HeaderSize || int64(ft.IndexOffset) > fileSize-footer.FooterSize {
		ioManager.Close()
		return nil, fmt.Errorf("%w: index offset %d outside file bounds", ErrCorruption, ft.IndexOffset)
	}

	headerData := make([]byte, HeaderSize)
	if _, err := ioManager.ReadAt(headerData, 0); err != nil {
		ioManager.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	numEntries, err := decodeHeader(headerData)
	if err != nil {
		ioManager.Close()
		return nil, err
	}

	index, err := parseIndex(ioManager, ft.IndexOffset, fileSize-footer.FooterSize)
	if err != nil {
		ioManager.Close()
		return nil, err
	}

	return &Reader{
		ioManager:   ioManager,
		indexOffset: ft.IndexOffset,
		numEntries:  numEntries,
		index:       index,
	}, nil
}

// parseIndex loads the sparse index region [indexOffset, indexEnd) into
// memory as a sorted slice of (key, offset).
func parseIndex(iom *IOManager, indexOffset uint64, indexEnd int64) ([]IndexEntry, error) {
	length := indexEnd - int64(indexOffset)
	if length == 0 {
		return nil, nil
	}

	data := make([]byte, length)
	if _, err := iom.ReadAt(data, int64(indexOffset)); err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var index []IndexEntry
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated index entry at %d", ErrCorruption, offset)
		}
		keySize := codec.Uint32(data[offset : offset+4])
		offset += 4

		if keySize == 0 || keySize > codec.MaxKeySize || offset+int(keySize)+8 > len(data) {
			return nil, fmt.Errorf("%w: invalid index entry key size %d", ErrCorruption, keySize)
		}

		key := make([]byte, keySize)
		copy(key, data[offset:offset+int(keySize)])
		offset += int(keySize)

		dataOffset := codec.Uint64(data[offset : offset+8])
		offset += 8

		if dataOffset < HeaderSize || dataOffset >= indexOffset {
			return nil, fmt.Errorf("%w: index entry offset %d outside data region",
				ErrCorruption, dataOffset)
		}

		index = append(index, IndexEntry{Key: key, Offset: dataOffset})
	}

	return index, nil
}

// scanStart returns the offset of the data record to start a forward scan
// from when looking for key: the greatest index entry whose key <= key, or
// the first data record when the index has nothing at or below it.
func (r *Reader) scanStart(key []byte) uint64 {
	// First index entry with key > target; the one before it is the block
	// the target could live in.
	idx := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].Key, key) > 0
	})
	if idx == 0 {
		return HeaderSize
	}
	return r.index[idx-1].Offset
}

// record is one decoded data record plus the offset of the record after it.
type record struct {
	key       []byte
	value     []byte
	tombstone bool
	next      uint64
}

// readRecordAt decodes the data record starting at offset. The declared
// sizes must keep the record inside the data region.
func (r *Reader) readRecordAt(offset uint64) (*record, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := r.ioManager.ReadAt(header, int64(offset)); err != nil {
		return nil, fmt.Errorf("failed to read record header: %w", err)
	}

	keySize := codec.Uint32(header[0:4])
	valueSize := codec.Uint32(header[4:8])
	tombstone := codec.IsTombstone(valueSize)

	if keySize == 0 || keySize > codec.MaxKeySize || (!tombstone && valueSize > codec.MaxValueSize) {
		return nil, fmt.Errorf("%w: invalid record sizes key=%d value=%d at offset %d",
			ErrCorruption, keySize, valueSize, offset)
	}

	bodyLen := uint64(keySize)
	if !tombstone {
		bodyLen += uint64(valueSize)
	}
	if offset+recordHeaderSize+bodyLen > r.indexOffset {
		return nil, fmt.Errorf("%w: record at offset %d overruns data region", ErrCorruption, offset)
	}

	body := make([]byte, bodyLen)
	if _, err := r.ioManager.ReadAt(body, int64(offset+recordHeaderSize)); err != nil {
		return nil, fmt.Errorf("failed to read record body: %w", err)
	}

	rec := &record{
		key:       body[:keySize:keySize],
		tombstone: tombstone,
		next:      offset + recordHeaderSize + bodyLen,
	}
	if !tombstone {
		rec.value = body[keySize:]
	}
	return rec, nil
}

// Get returns the value stored for key. The result distinguishes a
// tombstone (Deleted) from a key this table has never seen (NotFound).
func (r *Reader) Get(key []byte) ([]byte, LookupResult, error) {
	offset := r.scanStart(key)

	// The scan is bounded by the index interval: the next index entry's
	// key is strictly greater than the target's block.
	for offset < r.indexOffset {
		rec, err := r.readRecordAt(offset)
		if err != nil {
			return nil, NotFound, err
		}

		cmp := bytes.Compare(rec.key, key)
		if cmp == 0 {
			if rec.tombstone {
				return nil, Deleted, nil
			}
			return rec.value, Found, nil
		}
		if cmp > 0 {
			break
		}
		offset = rec.next
	}

	return nil, NotFound, nil
}

// NumEntries returns the number of records in the table, from the header.
func (r *Reader) NumEntries() uint64 {
	return r.numEntries
}

// Path returns the file path this reader was opened from.
func (r *Reader) Path() string {
	return r.ioManager.path
}

// Close releases the file handle.
func (r *Reader) Close() error {
	return r.ioManager.Close()
}
