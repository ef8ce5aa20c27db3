package coredb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func keyFromInt(n int64) btreeKey {
	k, err := prepareKeyForBTree(IntType, n)
	if err != nil {
		panic(err)
	}
	return k
}

func TestCompareKeysOrdering(t *testing.T) {
	a := keyFromInt(1)
	b := keyFromInt(2)
	require.Negative(t, compareKeys(a, b))
	require.Positive(t, compareKeys(b, a))
	require.Zero(t, compareKeys(a, a))
}

func TestBTreeLeafPageInsertFindRemove(t *testing.T) {
	leaf := &BTreeLeafPage{}
	require.True(t, leaf.Insert(keyFromInt(5), RID{PageID: 1, Offset: 0}))
	require.True(t, leaf.Insert(keyFromInt(1), RID{PageID: 1, Offset: 10}))
	require.False(t, leaf.Insert(keyFromInt(1), RID{PageID: 2, Offset: 20}), "duplicate key must be rejected")

	idx, found := leaf.Find(keyFromInt(1))
	require.True(t, found)
	require.Equal(t, 0, idx) // sorted: 1 before 5

	idx, found = leaf.Find(keyFromInt(5))
	require.True(t, found)
	require.Equal(t, 1, idx)

	leaf.RemoveAt(0)
	_, found = leaf.Find(keyFromInt(1))
	require.False(t, found)
}

func TestBTreeLeafPageSerializeRoundTrip(t *testing.T) {
	leaf := &BTreeLeafPage{Prev: 3, Next: 7}
	leaf.Insert(keyFromInt(10), RID{PageID: 2, Offset: 40})
	leaf.Insert(keyFromInt(20), RID{PageID: 2, Offset: 80})

	data := leaf.Serialize()
	require.Len(t, data, PageSize)
	require.True(t, isLeafPage(data))

	decoded := DeserializeLeafPage(data)
	require.Equal(t, PageID(3), decoded.Prev)
	require.Equal(t, PageID(7), decoded.Next)
	require.Len(t, decoded.Entries, 2)
	require.Equal(t, RID{PageID: 2, Offset: 40}, decoded.Entries[0].RID)
}

func TestBTreeInternalPageLookupAndInsert(t *testing.T) {
	internal := &BTreeInternalPage{FirstChild: 100}
	internal.Insert(keyFromInt(10), 101)
	internal.Insert(keyFromInt(20), 102)

	require.Equal(t, PageID(100), internal.Lookup(keyFromInt(5)))
	require.Equal(t, PageID(101), internal.Lookup(keyFromInt(10)))
	require.Equal(t, PageID(101), internal.Lookup(keyFromInt(15)))
	require.Equal(t, PageID(102), internal.Lookup(keyFromInt(20)))
	require.Equal(t, PageID(102), internal.Lookup(keyFromInt(99)))
}

func TestBTreeInternalPageSerializeRoundTrip(t *testing.T) {
	internal := &BTreeInternalPage{FirstChild: 5}
	internal.Insert(keyFromInt(1), 6)
	internal.Insert(keyFromInt(2), 7)

	data := internal.Serialize()
	require.False(t, isLeafPage(data))

	decoded := DeserializeInternalPage(data)
	require.Equal(t, PageID(5), decoded.FirstChild)
	require.Len(t, decoded.Entries, 2)
	require.Equal(t, PageID(7), decoded.Entries[1].Child)
}

func TestBTreeInternalPageChildIndexAndRemove(t *testing.T) {
	internal := &BTreeInternalPage{FirstChild: 1}
	internal.Insert(keyFromInt(10), 2)
	internal.Insert(keyFromInt(20), 3)

	require.Equal(t, 0, internal.ChildIndex(1))
	require.Equal(t, 1, internal.ChildIndex(2))
	require.Equal(t, 2, internal.ChildIndex(3))
	require.Equal(t, -1, internal.ChildIndex(999))

	removed := internal.RemoveEntryAt(0)
	require.Equal(t, PageID(2), removed.Child)
	require.Len(t, internal.Entries, 1)
}
