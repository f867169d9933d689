// Package memtable implements the in-memory sorted table that absorbs
// writes before they are flushed to an SSTable. It is implemented using a
// skip list for efficient inserts and ordered iteration.
package memtable

import (
	"github.com/peatdb/peat/pkg/config"
)

const (
	// tombstoneCost is the accounted size of a tombstone's on-disk
	// encoding, charged in place of value bytes.
	tombstoneCost = 4

	// entryOverhead is the fixed per-entry bookkeeping cost. It only has
	// to be deterministic: IsFull must be a pure function of the
	// insertion history.
	entryOverhead = 16
)

// LookupResult reports the outcome of a Get. A tombstone is reported as
// Deleted, distinct from NotFound, so the caller does not descend into
// older SSTables past a deletion.
type LookupResult int

const (
	// NotFound means the memtable holds no record for the key.
	NotFound LookupResult = iota

	// Found means the key maps to a value.
	Found

	// Deleted means the key's latest record is a tombstone.
	Deleted
)

// MemTable is an ordered in-memory map from key to value-or-tombstone
// with byte-size accounting. It has exactly one mutator; the enclosing
// store serializes writes.
type MemTable struct {
	skipList  *SkipList
	size      int64
	threshold int64
}

// NewMemTable creates an empty memory table. The flush threshold is taken
// from cfg; a nil cfg uses the defaults.
func NewMemTable(cfg *config.Config) *MemTable {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	return &MemTable{
		skipList:  NewSkipList(),
		threshold: cfg.MemtableFlushThresholdBytes,
	}
}

// Put adds a key-value pair, replacing any existing mapping for the key.
func (m *MemTable) Put(key, value []byte) {
	old := m.skipList.Insert(newEntry(key, value, TypeValue))
	m.size += entryCost(key, value, TypeValue) - oldCost(old)
}

// Delete inserts a tombstone for key, replacing any existing mapping.
func (m *MemTable) Delete(key []byte) {
	old := m.skipList.Insert(newEntry(key, nil, TypeDeletion))
	m.size += entryCost(key, nil, TypeDeletion) - oldCost(old)
}

// Get retrieves the latest record for key.
func (m *MemTable) Get(key []byte) ([]byte, LookupResult) {
	e := m.skipList.Find(key)
	if e == nil {
		return nil, NotFound
	}
	if e.valueType == TypeDeletion {
		return nil, Deleted
	}
	return e.value, Found
}

// SizeBytes returns the cumulative accounted cost of the current entries.
func (m *MemTable) SizeBytes() int64 {
	return m.size
}

// IsFull reports whether the memtable has reached its flush threshold.
func (m *MemTable) IsFull() bool {
	return m.size >= m.threshold
}

// Len returns the number of entries, tombstones included.
func (m *MemTable) Len() int {
	return m.skipList.Len()
}

// Clear resets the memtable to empty.
func (m *MemTable) Clear() {
	m.skipList.Reset()
	m.size = 0
}

func entryCost(key, value []byte, valueType ValueType) int64 {
	cost := int64(len(key)) + entryOverhead
	if valueType == TypeDeletion {
		cost += tombstoneCost
	} else {
		cost += int64(len(value))
	}
	return cost
}

func oldCost(e *entry) int64 {
	if e == nil {
		return 0
	}
	return entryCost(e.key, e.value, e.valueType)
}
