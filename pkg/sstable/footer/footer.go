// Package footer encodes the fixed-size trailer of an SSTable file.
package footer

import (
	"fmt"
	"io"

	"github.com/peatdb/peat/pkg/codec"
)

// FooterSize is the fixed size of the footer in bytes:
// index_offset(8) + crc32 zero-extended to (8).
const FooterSize = 16

// Footer locates the sparse index and carries the file checksum. The CRC
// is a CRC-32 stored zero-extended in an 8-byte field; the high four bytes
// are always zero on write, and Decode rejects a footer where they are not.
type Footer struct {
	IndexOffset uint64
	Checksum    uint32
}

// NewFooter creates a footer for a file whose index starts at indexOffset
// and whose bytes before the footer hash to checksum.
func NewFooter(indexOffset uint64, checksum uint32) *Footer {
	return &Footer{
		IndexOffset: indexOffset,
		Checksum:    checksum,
	}
}

// Encode serializes the footer to a byte slice
func (f *Footer) Encode() []byte {
	result := make([]byte, FooterSize)
	codec.PutUint64(result[0:8], f.IndexOffset)
	codec.PutUint64(result[8:16], uint64(f.Checksum))
	return result
}

// WriteTo writes the footer to an io.Writer
func (f *Footer) WriteTo(w io.Writer) (int64, error) {
	data := f.Encode()
	n, err := w.Write(data)
	return int64(n), err
}

// Decode parses a footer from a byte slice
func Decode(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("footer data too small: %d bytes, expected %d",
			len(data), FooterSize)
	}

	rawChecksum := codec.Uint64(data[8:16])
	if rawChecksum>>32 != 0 {
		// This writer always zero-extends, so nonzero padding means the
		// footer bytes were damaged.
		return nil, fmt.Errorf("invalid checksum padding: %016x", rawChecksum)
	}

	return &Footer{
		IndexOffset: codec.Uint64(data[0:8]),
		Checksum:    uint32(rawChecksum),
	}, nil
}
