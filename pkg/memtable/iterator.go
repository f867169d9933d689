package memtable

import (
	"github.com/peatdb/peat/pkg/common/iterator"
)

// Iterator walks the memtable in ascending key order, yielding tombstones
// as-is. It is restartable via SeekToFirst. Mutating the memtable while an
// iterator is open is caller misuse; the single-writer contract makes the
// two phases disjoint.
type Iterator struct {
	list    *SkipList
	current *node
	started bool
}

var _ iterator.Iterator = (*Iterator)(nil)

// NewIterator returns an iterator positioned before the first entry; the
// first call to Next moves it there.
func (m *MemTable) NewIterator() *Iterator {
	return &Iterator{list: m.skipList}
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.current = it.list.head.next[0]
	it.started = true
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) bool {
	it.current = it.list.findGreaterOrEqual(target)
	it.started = true
	return it.Valid()
}

// Next advances the iterator and reports whether the new position is valid.
func (it *Iterator) Next() bool {
	if !it.started {
		it.SeekToFirst()
		return it.Valid()
	}
	if it.current != nil {
		it.current = it.current.next[0]
	}
	return it.Valid()
}

// Valid returns true if the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.current != nil
}

// Key returns the key of the current entry.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.current.entry.key
}

// Value returns the value of the current entry, nil for tombstones.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.current.entry.value
}

// IsTombstone returns true if the current entry is a deletion marker.
func (it *Iterator) IsTombstone() bool {
	return it.Valid() && it.current.entry.valueType == TypeDeletion
}
