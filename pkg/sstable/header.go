package sstable

import (
	"fmt"

	"github.com/peatdb/peat/pkg/codec"
)

// encodeHeader serializes the 24-byte file header:
// magic(8) | version(4) | num_entries(8) | reserved(4).
func encodeHeader(numEntries uint64) []byte {
	header := make([]byte, HeaderSize)
	codec.PutUint64(header[0:8], MagicNumber)
	codec.PutUint32(header[8:12], CurrentVersion)
	codec.PutUint64(header[12:20], numEntries)
	codec.PutUint32(header[20:24], 0)
	return header
}

// decodeHeader parses and validates a file header, returning num_entries.
func decodeHeader(data []byte) (uint64, error) {
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("%w: header too short: %d bytes", ErrCorruption, len(data))
	}

	magic := codec.Uint64(data[0:8])
	if magic != MagicNumber {
		return 0, fmt.Errorf("%w: invalid magic number %016x", ErrCorruption, magic)
	}

	version := codec.Uint32(data[8:12])
	if version != CurrentVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrCorruption, version)
	}

	return codec.Uint64(data[12:20]), nil
}
