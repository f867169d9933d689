package sstable

import (
	"bytes"

	"github.com/peatdb/peat/pkg/common/iterator"
)

// Iterator walks a table's data region in key order. Tombstones are
// yielded as-is so callers can reconcile them against younger layers. A
// range iterator additionally stops before its exclusive upper bound.
type Iterator struct {
	reader *Reader
	offset uint64
	rec    *record
	limit  []byte // exclusive upper bound, nil for none
	err    error
}

var _ iterator.Iterator = (*Iterator)(nil)

// NewIterator returns an iterator over every record in the table,
// positioned before the first one; the first Next moves onto it.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{reader: r}
}

// NewRangeIterator returns an iterator over records with lo <= key < hi,
// positioned on the first such record if one exists.
func (r *Reader) NewRangeIterator(lo, hi []byte) *Iterator {
	it := &Iterator{reader: r, limit: hi}
	it.Seek(lo)
	return it
}

// SeekToFirst positions the iterator at the first record.
func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.loadAt(HeaderSize)
}

// Seek positions the iterator at the first record with key >= target.
func (it *Iterator) Seek(target []byte) bool {
	it.err = nil
	it.loadAt(it.reader.scanStart(target))
	for it.rec != nil && bytes.Compare(it.rec.key, target) < 0 {
		it.loadAt(it.rec.next)
	}
	return it.Valid()
}

// Next advances the iterator and reports whether the new position is
// valid. On a fresh iterator it moves to the first record.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.rec == nil {
		if it.offset == 0 {
			it.SeekToFirst()
			return it.Valid()
		}
		return false
	}
	it.loadAt(it.rec.next)
	return it.Valid()
}

// loadAt decodes the record at offset into the iterator, clearing the
// position at the end of the data region or at the range limit.
func (it *Iterator) loadAt(offset uint64) {
	it.offset = offset
	it.rec = nil

	if offset >= it.reader.indexOffset {
		return
	}

	rec, err := it.reader.readRecordAt(offset)
	if err != nil {
		it.err = err
		return
	}

	if it.limit != nil && bytes.Compare(rec.key, it.limit) >= 0 {
		return
	}
	it.rec = rec
}

// Valid returns true if the iterator is positioned at a record.
func (it *Iterator) Valid() bool {
	return it.rec != nil
}

// Key returns the key of the current record.
func (it *Iterator) Key() []byte {
	if it.rec == nil {
		return nil
	}
	return it.rec.key
}

// Value returns the value of the current record, nil for tombstones.
func (it *Iterator) Value() []byte {
	if it.rec == nil {
		return nil
	}
	return it.rec.value
}

// IsTombstone returns true if the current record is a deletion marker.
func (it *Iterator) IsTombstone() bool {
	return it.rec != nil && it.rec.tombstone
}

// Error returns the first decode error the iterator hit, if any.
func (it *Iterator) Error() error {
	return it.err
}
