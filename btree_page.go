package coredb

import (
	"encoding/binary"
	"sort"
)

const (
	btreeHeaderSize = 3                  // is_leaf(1) + num_keys uint16 LE(2)
	pageIDWireSize  = 4                  // page-id pointers are a signed 4-byte LE int on the wire
	ridSize         = pageIDWireSize + 4 // RID on the wire: 4-byte page id + 4-byte offset
)

// putPageID32 writes id as a signed 4-byte little-endian integer.
func putPageID32(buf []byte, id PageID) {
	binary.LittleEndian.PutUint32(buf, uint32(int32(id)))
}

// getPageID32 reads a signed 4-byte little-endian integer, sign-extending
// it back to PageID's native width so InvalidPageID (-1) round-trips.
func getPageID32(buf []byte) PageID {
	return PageID(int32(binary.LittleEndian.Uint32(buf)))
}

// btreeKey is a fixed-width, zero-padded/truncated key. Comparison is
// simple byte-lexicographic order, which is why integer keys are encoded
// big-endian: unsigned byte comparison then agrees with numeric order for
// non-negative integers. Negative integers keep their two's-complement
// bytes, so they sort after every non-negative integer.
type btreeKey [BTreeKeySize]byte

func compareKeys(a, b btreeKey) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// --- internal page ---------------------------------------------------

// internalEntry is one (separator key, right-child pointer) pair.
type internalEntry struct {
	Key   btreeKey
	Child PageID
}

// BTreeInternalPage holds num_keys separator keys and num_keys+1 child
// pointers: ptr_0, then (key_i, ptr_i) for i in [0,num_keys).
type BTreeInternalPage struct {
	FirstChild PageID
	Entries    []internalEntry
}

func internalEntrySize() int { return BTreeKeySize + pageIDWireSize }

func internalMaxEntries() int {
	return (PageSize - btreeHeaderSize - pageIDWireSize) / internalEntrySize()
}

func (p *BTreeInternalPage) IsFull() bool {
	return len(p.Entries) >= internalMaxEntries()
}

// Lookup returns the child pointer to descend into for key.
func (p *BTreeInternalPage) Lookup(key btreeKey) PageID {
	idx := sort.Search(len(p.Entries), func(i int) bool {
		return compareKeys(p.Entries[i].Key, key) > 0
	})
	if idx == 0 {
		return p.FirstChild
	}
	return p.Entries[idx-1].Child
}

// Insert inserts a new (key, child) pair in sorted order. Used
// when a child of this node has just split and pushed up a separator.
func (p *BTreeInternalPage) Insert(key btreeKey, child PageID) {
	idx := sort.Search(len(p.Entries), func(i int) bool {
		return compareKeys(p.Entries[i].Key, key) >= 0
	})
	p.Entries = append(p.Entries, internalEntry{})
	copy(p.Entries[idx+1:], p.Entries[idx:])
	p.Entries[idx] = internalEntry{Key: key, Child: child}
}

// ChildIndex returns the position of child among ptr_0..ptr_n, or -1.
func (p *BTreeInternalPage) ChildIndex(child PageID) int {
	if p.FirstChild == child {
		return 0
	}
	for i, e := range p.Entries {
		if e.Child == child {
			return i + 1
		}
	}
	return -1
}

// ChildAt returns the pointer at position i (0 == FirstChild).
func (p *BTreeInternalPage) ChildAt(i int) PageID {
	if i == 0 {
		return p.FirstChild
	}
	return p.Entries[i-1].Child
}

// RemoveEntryAt removes the entry at index i (the key that routes to ChildAt(i+1))
// along with the pointer at i+1, used when merging child i and i+1.
func (p *BTreeInternalPage) RemoveEntryAt(i int) internalEntry {
	e := p.Entries[i]
	p.Entries = append(p.Entries[:i], p.Entries[i+1:]...)
	return e
}

func (p *BTreeInternalPage) Serialize() []byte {
	out := make([]byte, PageSize)
	out[0] = 0
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(p.Entries)))
	off := btreeHeaderSize
	putPageID32(out[off:off+pageIDWireSize], p.FirstChild)
	off += pageIDWireSize
	for _, e := range p.Entries {
		copy(out[off:off+BTreeKeySize], e.Key[:])
		off += BTreeKeySize
		putPageID32(out[off:off+pageIDWireSize], e.Child)
		off += pageIDWireSize
	}
	return out
}

func DeserializeInternalPage(data []byte) *BTreeInternalPage {
	numKeys := int(binary.LittleEndian.Uint16(data[1:3]))
	off := btreeHeaderSize
	firstChild := getPageID32(data[off : off+pageIDWireSize])
	off += pageIDWireSize
	p := &BTreeInternalPage{FirstChild: firstChild, Entries: make([]internalEntry, numKeys)}
	for i := 0; i < numKeys; i++ {
		var k btreeKey
		copy(k[:], data[off:off+BTreeKeySize])
		off += BTreeKeySize
		child := getPageID32(data[off : off+pageIDWireSize])
		off += pageIDWireSize
		p.Entries[i] = internalEntry{Key: k, Child: child}
	}
	return p
}

// --- leaf page ---------------------------------------------------

type leafEntry struct {
	Key btreeKey
	RID RID
}

// BTreeLeafPage holds the indexed (key, RID) pairs plus doubly linked
// sibling pointers for ordered range iteration.
type BTreeLeafPage struct {
	Prev, Next PageID
	Entries    []leafEntry
}

func leafEntrySize() int { return BTreeKeySize + ridSize }

func leafMaxEntries() int {
	return (PageSize - btreeHeaderSize - 2*pageIDWireSize) / leafEntrySize()
}

func (p *BTreeLeafPage) IsFull() bool {
	return len(p.Entries) >= leafMaxEntries()
}

// Find returns the index of key if present, and whether it was found.
func (p *BTreeLeafPage) Find(key btreeKey) (int, bool) {
	idx := sort.Search(len(p.Entries), func(i int) bool {
		return compareKeys(p.Entries[i].Key, key) >= 0
	})
	if idx < len(p.Entries) && compareKeys(p.Entries[idx].Key, key) == 0 {
		return idx, true
	}
	return idx, false
}

func (p *BTreeLeafPage) Insert(key btreeKey, rid RID) bool {
	idx, found := p.Find(key)
	if found {
		return false
	}
	p.Entries = append(p.Entries, leafEntry{})
	copy(p.Entries[idx+1:], p.Entries[idx:])
	p.Entries[idx] = leafEntry{Key: key, RID: rid}
	return true
}

func (p *BTreeLeafPage) RemoveAt(i int) {
	p.Entries = append(p.Entries[:i], p.Entries[i+1:]...)
}

func (p *BTreeLeafPage) Serialize() []byte {
	out := make([]byte, PageSize)
	out[0] = 1
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(p.Entries)))
	off := btreeHeaderSize
	putPageID32(out[off:off+pageIDWireSize], p.Prev)
	off += pageIDWireSize
	putPageID32(out[off:off+pageIDWireSize], p.Next)
	off += pageIDWireSize
	for _, e := range p.Entries {
		copy(out[off:off+BTreeKeySize], e.Key[:])
		off += BTreeKeySize
		putPageID32(out[off:off+pageIDWireSize], e.RID.PageID)
		off += pageIDWireSize
		binary.LittleEndian.PutUint32(out[off:off+4], uint32(e.RID.Offset))
		off += 4
	}
	return out
}

func DeserializeLeafPage(data []byte) *BTreeLeafPage {
	numKeys := int(binary.LittleEndian.Uint16(data[1:3]))
	off := btreeHeaderSize
	prev := getPageID32(data[off : off+pageIDWireSize])
	off += pageIDWireSize
	next := getPageID32(data[off : off+pageIDWireSize])
	off += pageIDWireSize
	p := &BTreeLeafPage{Prev: prev, Next: next, Entries: make([]leafEntry, numKeys)}
	for i := 0; i < numKeys; i++ {
		var k btreeKey
		copy(k[:], data[off:off+BTreeKeySize])
		off += BTreeKeySize
		pid := getPageID32(data[off : off+pageIDWireSize])
		off += pageIDWireSize
		rOff := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		p.Entries[i] = leafEntry{Key: k, RID: RID{PageID: pid, Offset: rOff}}
	}
	return p
}

// isLeafPage inspects the header byte without fully decoding the page.
func isLeafPage(data []byte) bool { return data[0] == 1 }
