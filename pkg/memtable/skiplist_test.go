package memtable

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipListInsertAndFind(t *testing.T) {
	s := NewSkipList()

	s.Insert(newEntry([]byte("b"), []byte("2"), TypeValue))
	s.Insert(newEntry([]byte("a"), []byte("1"), TypeValue))
	s.Insert(newEntry([]byte("c"), []byte("3"), TypeValue))

	e := s.Find([]byte("b"))
	require.NotNil(t, e)
	assert.Equal(t, []byte("2"), e.value)

	assert.Nil(t, s.Find([]byte("d")))
	assert.Equal(t, 3, s.Len())
}

func TestSkipListReplaceInPlace(t *testing.T) {
	s := NewSkipList()

	assert.Nil(t, s.Insert(newEntry([]byte("k"), []byte("old"), TypeValue)))

	old := s.Insert(newEntry([]byte("k"), []byte("new"), TypeValue))
	require.NotNil(t, old)
	assert.Equal(t, []byte("old"), old.value)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []byte("new"), s.Find([]byte("k")).value)
}

func TestSkipListTombstoneReplacesValue(t *testing.T) {
	s := NewSkipList()

	s.Insert(newEntry([]byte("k"), []byte("v"), TypeValue))
	s.Insert(newEntry([]byte("k"), nil, TypeDeletion))

	e := s.Find([]byte("k"))
	require.NotNil(t, e)
	assert.Equal(t, TypeDeletion, e.valueType)
	assert.Equal(t, 1, s.Len())
}

func TestSkipListOrderedUnderRandomInserts(t *testing.T) {
	s := NewSkipList()
	rnd := rand.New(rand.NewSource(42))

	const n = 500
	for _, i := range rnd.Perm(n) {
		key := []byte(fmt.Sprintf("key-%05d", i))
		s.Insert(newEntry(key, []byte("v"), TypeValue))
	}
	require.Equal(t, n, s.Len())

	var prev []byte
	count := 0
	for node := s.head.next[0]; node != nil; node = node.next[0] {
		if prev != nil {
			assert.Equal(t, -1, bytes.Compare(prev, node.entry.key))
		}
		prev = node.entry.key
		count++
	}
	assert.Equal(t, n, count)
}

func TestSkipListFindGreaterOrEqual(t *testing.T) {
	s := NewSkipList()
	for _, k := range []string{"b", "d", "f"} {
		s.Insert(newEntry([]byte(k), []byte("v"), TypeValue))
	}

	n := s.findGreaterOrEqual([]byte("c"))
	require.NotNil(t, n)
	assert.Equal(t, []byte("d"), n.entry.key)

	n = s.findGreaterOrEqual([]byte("b"))
	require.NotNil(t, n)
	assert.Equal(t, []byte("b"), n.entry.key)

	assert.Nil(t, s.findGreaterOrEqual([]byte("g")))
}

func TestSkipListReset(t *testing.T) {
	s := NewSkipList()
	s.Insert(newEntry([]byte("a"), []byte("1"), TypeValue))

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Find([]byte("a")))
}
