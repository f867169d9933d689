package iterator

import (
	"testing"

	"github.com/peatdb/peat/pkg/common/iterator"
	"github.com/peatdb/peat/pkg/memtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLayer(entries map[string]string, deletes ...string) *memtable.MemTable {
	m := memtable.NewMemTable(nil)
	for k, v := range entries {
		m.Put([]byte(k), []byte(v))
	}
	for _, k := range deletes {
		m.Delete([]byte(k))
	}
	return m
}

func collect(m *MergedIterator) (keys []string, values []string, tombstones []string) {
	for m.Next() {
		keys = append(keys, string(m.Key()))
		if m.IsTombstone() {
			tombstones = append(tombstones, string(m.Key()))
			values = append(values, "")
		} else {
			values = append(values, string(m.Value()))
		}
	}
	return keys, values, tombstones
}

func TestMergedIteratorSingleSource(t *testing.T) {
	layer := buildLayer(map[string]string{"a": "1", "c": "3", "b": "2"})

	m := NewMergedIterator([]iterator.Iterator{layer.NewIterator()})
	keys, values, _ := collect(m)

	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, []string{"1", "2", "3"}, values)
}

func TestMergedIteratorNewestWins(t *testing.T) {
	newer := buildLayer(map[string]string{"b": "new-b", "d": "new-d"})
	older := buildLayer(map[string]string{"a": "old-a", "b": "old-b", "c": "old-c"})

	m := NewMergedIterator([]iterator.Iterator{newer.NewIterator(), older.NewIterator()})
	keys, values, _ := collect(m)

	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)
	assert.Equal(t, []string{"old-a", "new-b", "old-c", "new-d"}, values)
}

func TestMergedIteratorTombstoneShadowsOlderValue(t *testing.T) {
	newer := buildLayer(nil, "b")
	older := buildLayer(map[string]string{"a": "1", "b": "2"})

	m := NewMergedIterator([]iterator.Iterator{newer.NewIterator(), older.NewIterator()})
	keys, _, tombstones := collect(m)

	// The tombstone is yielded in place of the shadowed value.
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, []string{"b"}, tombstones)
}

func TestMergedIteratorSeek(t *testing.T) {
	newer := buildLayer(map[string]string{"c": "new-c"})
	older := buildLayer(map[string]string{"a": "1", "c": "old-c", "e": "5"})

	m := NewMergedIterator([]iterator.Iterator{newer.NewIterator(), older.NewIterator()})

	require.True(t, m.Seek([]byte("b")))
	assert.Equal(t, []byte("c"), m.Key())
	assert.Equal(t, []byte("new-c"), m.Value())

	require.True(t, m.Next())
	assert.Equal(t, []byte("e"), m.Key())

	assert.False(t, m.Next())
	assert.False(t, m.Valid())
}

func TestMergedIteratorEmptySources(t *testing.T) {
	empty := memtable.NewMemTable(nil)

	m := NewMergedIterator([]iterator.Iterator{empty.NewIterator()})
	assert.False(t, m.Next())
	assert.False(t, m.Seek([]byte("a")))
}

func TestMergedIteratorSeekToFirstRestarts(t *testing.T) {
	layer := buildLayer(map[string]string{"a": "1", "b": "2"})

	m := NewMergedIterator([]iterator.Iterator{layer.NewIterator()})
	for m.Next() {
	}

	m.SeekToFirst()
	require.True(t, m.Valid())
	assert.Equal(t, []byte("a"), m.Key())
}
