// Package iterator provides composite iterators over the storage layers.
package iterator

import (
	"bytes"

	"github.com/peatdb/peat/pkg/common/iterator"
)

// MergedIterator walks several sources as one sorted sequence, following
// the LSM hierarchy: sources are given newest to oldest, and for a key
// present in more than one source only the newest version is yielded.
// Tombstones are yielded like any other entry so the caller decides
// whether a deletion hides older layers or is filtered out.
type MergedIterator struct {
	// Iterators in order from newest to oldest
	iterators []iterator.Iterator

	key       []byte
	value     []byte
	tombstone bool
	valid     bool
}

var _ iterator.Iterator = (*MergedIterator)(nil)

// NewMergedIterator creates a merged iterator over the given sources,
// which must be ordered newest to oldest.
func NewMergedIterator(iterators []iterator.Iterator) *MergedIterator {
	return &MergedIterator{
		iterators: iterators,
	}
}

// SeekToFirst positions the iterator at the smallest key across all
// sources.
func (m *MergedIterator) SeekToFirst() {
	for _, iter := range m.iterators {
		iter.SeekToFirst()
	}
	m.pick(nil)
}

// Seek positions the iterator at the first key >= target.
func (m *MergedIterator) Seek(target []byte) bool {
	for _, iter := range m.iterators {
		iter.Seek(target)
	}
	m.pick(nil)
	return m.valid
}

// Next advances past the current key, skipping the older versions of it
// that other sources may still hold.
func (m *MergedIterator) Next() bool {
	if !m.valid {
		if m.key == nil {
			m.SeekToFirst()
			return m.valid
		}
		return false
	}
	// pick rewrites m.key in place, so hand it a stable copy to compare
	// the sources against.
	prev := append([]byte(nil), m.key...)
	m.pick(prev)
	return m.valid
}

// pick advances every source past prev and adopts the smallest key among
// the source positions. On ties the newest source wins because sources
// are scanned newest-first and equal keys from older ones never replace
// the chosen entry.
func (m *MergedIterator) pick(prev []byte) {
	m.valid = false

	for _, iter := range m.iterators {
		for prev != nil && iter.Valid() && bytes.Compare(iter.Key(), prev) <= 0 {
			iter.Next()
		}
		if !iter.Valid() {
			continue
		}

		key := iter.Key()
		if !m.valid || bytes.Compare(key, m.key) < 0 {
			m.key = append(m.key[:0], key...)
			m.value = iter.Value()
			m.tombstone = iter.IsTombstone()
			m.valid = true
		}
	}
}

// Valid returns true if the iterator is positioned at an entry.
func (m *MergedIterator) Valid() bool {
	return m.valid
}

// Key returns the current key.
func (m *MergedIterator) Key() []byte {
	if !m.valid {
		return nil
	}
	return m.key
}

// Value returns the current value, nil for tombstones.
func (m *MergedIterator) Value() []byte {
	if !m.valid {
		return nil
	}
	return m.value
}

// IsTombstone returns true if the current entry is a deletion marker.
func (m *MergedIterator) IsTombstone() bool {
	return m.valid && m.tombstone
}
