package coredb

import (
	"encoding/binary"
	"fmt"
)

// heapPageMagic identifies a table heap directory page on disk.
var heapPageMagic = [4]byte{'T', 'H', 'P', '1'}

const heapPageHeaderSize = 8 // 4-byte magic + 4-byte LE count

// TableHeapPage is a directory page: it does not hold row data itself,
// only the ordered list of data page ids that belong to one table.
type TableHeapPage struct {
	PageIDs []PageID
}

// NewTableHeapPage returns an empty heap directory.
func NewTableHeapPage() *TableHeapPage {
	return &TableHeapPage{}
}

// AddPageID appends a data page to the directory.
func (h *TableHeapPage) AddPageID(id PageID) {
	h.PageIDs = append(h.PageIDs, id)
}

// Serialize encodes the directory as MAGIC + count + page ids (each
// 4-byte LE), zero-padded to PageSize.
func (h *TableHeapPage) Serialize() ([]byte, error) {
	count := len(h.PageIDs)
	need := heapPageHeaderSize + count*4
	if need > PageSize {
		return nil, fmt.Errorf("%w: table heap page (%d bytes)", ErrPageFull, need)
	}
	out := make([]byte, PageSize)
	copy(out[0:4], heapPageMagic[:])
	binary.LittleEndian.PutUint32(out[4:8], uint32(count))
	for i, id := range h.PageIDs {
		off := heapPageHeaderSize + i*4
		binary.LittleEndian.PutUint32(out[off:off+4], uint32(id))
	}
	return out, nil
}

// DeserializeTableHeapPage decodes a page written by Serialize. As in the
// reference it is built from, a missing/short/mismatched-magic buffer
// decodes to an empty directory rather than an error, and a corrupted
// count is defensively capped to what the buffer can actually hold.
func DeserializeTableHeapPage(data []byte) *TableHeapPage {
	if len(data) < heapPageHeaderSize || string(data[0:4]) != string(heapPageMagic[:]) {
		return NewTableHeapPage()
	}
	count := int(binary.LittleEndian.Uint32(data[4:8]))
	maxPossible := (len(data) - heapPageHeaderSize) / 4
	if count > maxPossible {
		count = maxPossible
	}
	ids := make([]PageID, count)
	for i := 0; i < count; i++ {
		off := heapPageHeaderSize + i*4
		ids[i] = PageID(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return &TableHeapPage{PageIDs: ids}
}
