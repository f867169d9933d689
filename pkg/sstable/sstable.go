// Package sstable implements the immutable on-disk sorted table format and
// its writer and reader.
//
// File layout:
//
//	[ Header  24 B ]
//	[ Data region: N records, ascending key ]
//	[ Sparse index: one entry per index-interval records ]
//	[ Footer  16 B ]
//
// Records are key_size(4) | value_size(4) | key | value, with the reserved
// value_size 0xFFFFFFFF marking a tombstone. Index entries are
// key_size(4) | key | data_offset(8) with absolute file offsets. The
// footer's CRC-32 covers every byte before it; a finalized file is
// write-once and any modification invalidates the checksum.
package sstable

import (
	"errors"
)

const (
	// MagicNumber identifies an SSTable file ("SSTABBLE").
	MagicNumber uint64 = 0x5353544142424C45

	// CurrentVersion is the current file format version
	CurrentVersion uint32 = 1

	// HeaderSize is the fixed size of the file header in bytes.
	HeaderSize = 24

	// DefaultIndexInterval is the default number of data records per
	// sparse index entry. The interval is a property of each file, fixed
	// at write time; readers infer positions from the index contents.
	DefaultIndexInterval = 16

	// recordHeaderSize is key_size(4) + value_size(4).
	recordHeaderSize = 8
)

var (
	// ErrCorruption indicates a checksum mismatch, bad magic, unknown
	// version, or declared sizes overrunning their region.
	ErrCorruption = errors.New("sstable corruption detected")

	// ErrInvariant indicates caller misuse: out-of-order adds, oversize
	// keys or values, or operations on a finished writer or closed reader.
	ErrInvariant = errors.New("sstable invariant violation")
)

// LookupResult reports the outcome of a point lookup. Deleted is distinct
// from NotFound so the enclosing store stops descending into older tables
// when it meets a tombstone.
type LookupResult int

const (
	NotFound LookupResult = iota
	Found
	Deleted
)

// IndexEntry is one sparse index entry: the key of a data record and the
// absolute file offset where that record starts.
type IndexEntry struct {
	Key    []byte
	Offset uint64
}
