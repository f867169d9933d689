// Package iterator defines the traversal interface shared by the storage
// layers. The memtable and SSTable iterators both implement it, so callers
// can walk entries the same way regardless of where they live.
package iterator

// Iterator is a forward iterator over key-value entries in ascending key
// order. Iterators are lazy, finite, and restartable via SeekToFirst.
type Iterator interface {
	// SeekToFirst positions the iterator at the first entry.
	SeekToFirst()

	// Seek positions the iterator at the first entry with key >= target.
	// It returns true if such an entry exists.
	Seek(target []byte) bool

	// Next advances the iterator and returns true if the new position is
	// valid.
	Next() bool

	// Key returns the current key, or nil if the iterator is not valid.
	Key() []byte

	// Value returns the current value. For tombstones the value is nil;
	// use IsTombstone to tell a deletion apart from an empty value.
	Value() []byte

	// Valid returns true if the iterator is positioned at an entry.
	Valid() bool

	// IsTombstone returns true if the current entry is a deletion marker.
	// Tombstones are surfaced, not skipped, so callers can reconcile them
	// against older layers.
	IsTombstone() bool
}
