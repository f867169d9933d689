package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/peatdb/peat/pkg/codec"
	log "github.com/sirupsen/logrus"
)

// Reader decodes records from a WAL file in write order. A partial record
// at the tail is the expected crash signature: the reader stops cleanly
// before it and reports the boundary via Truncated. A bad record that is
// not the last one in the file is corruption and surfaces as an error.
type Reader struct {
	file      *os.File
	reader    *bufio.Reader
	fileSize  int64
	offset    int64
	truncated bool
}

// OpenReader creates a new Reader for the given WAL file.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	return &Reader{
		file:     file,
		reader:   bufio.NewReaderSize(file, 64*1024), // 64KB buffer
		fileSize: stat.Size(),
	}, nil
}

// Next returns the next record, or io.EOF when the log is exhausted. After
// io.EOF, Truncated reports whether trailing bytes were discarded.
func (r *Reader) Next() (*Record, error) {
	if r.truncated {
		return nil, io.EOF
	}

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r.reader, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, r.stopAtTail()
		}
		return nil, fmt.Errorf("failed to read record header: %w", err)
	}

	timestamp := codec.Uint64(header[0:8])
	keySize := codec.Uint32(header[8:12])
	valueSize := codec.Uint32(header[12:16])
	tombstone := codec.IsTombstone(valueSize)

	if keySize == 0 || keySize > codec.MaxKeySize || (!tombstone && valueSize > codec.MaxValueSize) {
		return nil, fmt.Errorf("%w: invalid sizes key=%d value=%d at offset %d",
			ErrCorruptRecord, keySize, valueSize, r.offset)
	}

	bodyLen := int(keySize)
	if !tombstone {
		bodyLen += int(valueSize)
	}

	body := make([]byte, bodyLen+ChecksumSize)
	if _, err := io.ReadFull(r.reader, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, r.stopAtTail()
		}
		return nil, fmt.Errorf("failed to read record body: %w", err)
	}

	storedCRC := codec.Uint32(body[bodyLen:])
	crc := codec.Checksum(header)
	crc = codec.ChecksumUpdate(crc, body[:bodyLen])

	recordLen := int64(HeaderSize + bodyLen + ChecksumSize)
	if storedCRC != crc {
		// A checksum mismatch on the final record is a torn write; anywhere
		// else it is corruption.
		if r.offset+recordLen == r.fileSize {
			return nil, r.stopAtTail()
		}
		return nil, fmt.Errorf("%w: checksum mismatch at offset %d: stored %08x, computed %08x",
			ErrCorruptRecord, r.offset, storedCRC, crc)
	}

	record := &Record{
		Timestamp: timestamp,
		Key:       body[:keySize:keySize],
		Tombstone: tombstone,
	}
	if !tombstone {
		record.Value = body[keySize:bodyLen:bodyLen]
	}

	r.offset += recordLen
	return record, nil
}

func (r *Reader) stopAtTail() error {
	r.truncated = true
	return io.EOF
}

// Truncated reports whether iteration stopped at a partial tail record.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Offset returns the byte offset of the last fully decoded record's end.
// When Truncated is true this is the boundary Replay cuts the file back to.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// RecordHandler is a function that processes WAL records during replay
type RecordHandler func(*Record) error

// RecoveryStats tracks statistics about WAL recovery
type RecoveryStats struct {
	RecordsApplied uint64
	TailTruncated  bool
	LastTimestamp  uint64
}

// Replay reads the WAL at path from the beginning and calls the handler
// for each decoded record. A missing file is an empty log. A partial tail
// record is discarded: it is noted in the returned stats and cut from the
// file, so later appends follow the last intact record. Corruption before
// the tail fails the replay.
func Replay(path string, handler RecordHandler) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	reader, err := OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return nil, err
	}
	defer reader.Close()

	for {
		record, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return stats, fmt.Errorf("error replaying WAL %s: %w", path, err)
		}

		if err := handler(record); err != nil {
			return stats, fmt.Errorf("error handling record: %w", err)
		}

		stats.RecordsApplied++
		if record.Timestamp > stats.LastTimestamp {
			stats.LastTimestamp = record.Timestamp
		}
	}

	if reader.Truncated() {
		stats.TailTruncated = true
		log.WithFields(log.Fields{
			"path":   path,
			"offset": reader.Offset(),
		}).Warn("discarding partial record at WAL tail")

		if err := os.Truncate(path, reader.Offset()); err != nil {
			return stats, fmt.Errorf("failed to discard WAL tail %s: %w", path, err)
		}
	}

	return stats, nil
}
