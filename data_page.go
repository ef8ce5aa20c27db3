package coredb

import (
	"encoding/binary"
)

// RID identifies one row: the data page it lives on and its byte offset
// within that page's cell stream. An update that doesn't fit in place
// relocates a row to a new RID; callers (the index manager in
// particular) must treat RIDs as unstable across an update.
type RID struct {
	PageID PageID
	Offset int
}

const cellLengthPrefixSize = 4

// DataPage is an append-only slotted page of row cells. Each cell is
// [int32 LE length][payload], where length is the TOTAL cell size
// including the 4-byte prefix itself (not just the payload). A positive
// length marks a live record; a negative length is a tombstone that
// still reserves its original space (the magnitude is preserved so the
// page can keep stepping over it during a scan); a zero length marks
// the end of written cells.
type DataPage struct {
	buf              []byte
	freeSpacePointer int
}

// NewDataPage wraps a zero-initialized or freshly fetched page buffer.
// The free-space pointer is recomputed by scanning, exactly as a
// freshly loaded page would be in the reference this mirrors — there is
// no separate persisted header for it.
func NewDataPage(buf []byte) *DataPage {
	dp := &DataPage{buf: buf}
	dp.freeSpacePointer = dp.scanFreeSpacePointer()
	return dp
}

func (dp *DataPage) scanFreeSpacePointer() int {
	offset := 0
	for offset+cellLengthPrefixSize <= len(dp.buf) {
		length := int32(binary.LittleEndian.Uint32(dp.buf[offset : offset+4]))
		if length == 0 {
			break
		}
		size := length
		if size < 0 {
			size = -size
		}
		offset += int(size)
	}
	return offset
}

// FreeSpace reports how many bytes remain before the page is full.
func (dp *DataPage) FreeSpace() int {
	return len(dp.buf) - dp.freeSpacePointer
}

// InsertRecord appends payload as a new live cell. Returns the offset it
// was written at, or ErrPageFull if there isn't room.
func (dp *DataPage) InsertRecord(payload []byte) (int, error) {
	need := cellLengthPrefixSize + len(payload)
	if need > dp.FreeSpace() {
		return 0, ErrPageFull
	}
	offset := dp.freeSpacePointer
	total := int32(need)
	binary.LittleEndian.PutUint32(dp.buf[offset:offset+4], uint32(total))
	copy(dp.buf[offset+4:offset+4+len(payload)], payload)
	dp.freeSpacePointer += need
	return offset, nil
}

// GetRecord returns the live payload at offset, or (nil, false) if the
// slot is tombstoned, zero-length, or out of range.
func (dp *DataPage) GetRecord(offset int) ([]byte, bool) {
	if offset < 0 || offset+cellLengthPrefixSize > len(dp.buf) {
		return nil, false
	}
	length := int32(binary.LittleEndian.Uint32(dp.buf[offset : offset+4]))
	if length <= cellLengthPrefixSize {
		return nil, false
	}
	end := offset + int(length)
	if end > len(dp.buf) {
		return nil, false
	}
	payloadLen := int(length) - cellLengthPrefixSize
	out := make([]byte, payloadLen)
	copy(out, dp.buf[offset+4:end])
	return out, true
}

// DeleteRecord tombstones the cell at offset by negating its length
// prefix, preserving its magnitude so later scans keep stepping over it
// correctly. Idempotent: deleting an already-tombstoned cell is a no-op.
func (dp *DataPage) DeleteRecord(offset int) bool {
	if offset < 0 || offset+cellLengthPrefixSize > len(dp.buf) {
		return false
	}
	length := int32(binary.LittleEndian.Uint32(dp.buf[offset : offset+4]))
	if length <= 0 {
		return true
	}
	binary.LittleEndian.PutUint32(dp.buf[offset:offset+4], uint32(-length))
	return true
}

// UpdateRecord rewrites the cell at offset with newPayload. If it fits in
// the original cell's capacity it is rewritten in place at the same
// offset (the tail is zero-filled if the new payload is shorter); if it
// does not fit, the old cell is tombstoned and the new payload is
// appended as a fresh cell. Returns the (possibly new) offset.
func (dp *DataPage) UpdateRecord(offset int, newPayload []byte) (int, error) {
	if offset < 0 || offset+cellLengthPrefixSize > len(dp.buf) {
		return 0, ErrPageCorrupt
	}
	oldLength := int32(binary.LittleEndian.Uint32(dp.buf[offset : offset+4]))
	if oldLength <= cellLengthPrefixSize {
		return 0, ErrPageCorrupt
	}
	capacity := int(oldLength) - cellLengthPrefixSize
	if len(newPayload) <= capacity {
		binary.LittleEndian.PutUint32(dp.buf[offset:offset+4], uint32(int32(cellLengthPrefixSize+len(newPayload))))
		start := offset + cellLengthPrefixSize
		copy(dp.buf[start:start+len(newPayload)], newPayload)
		for i := start + len(newPayload); i < start+capacity; i++ {
			dp.buf[i] = 0
		}
		return offset, nil
	}
	dp.DeleteRecord(offset)
	return dp.InsertRecord(newPayload)
}

// dataRecord is one live cell surfaced by GetAllRecords.
type dataRecord struct {
	Offset  int
	Payload []byte
}

// GetAllRecords scans every cell up to the free-space pointer, stepping
// over tombstoned cells (by their preserved magnitude) without returning
// them, and returns only the live ones in on-page order.
func (dp *DataPage) GetAllRecords() []dataRecord {
	var out []dataRecord
	offset := 0
	for offset+cellLengthPrefixSize <= dp.freeSpacePointer {
		length := int32(binary.LittleEndian.Uint32(dp.buf[offset : offset+4]))
		if length == 0 {
			break
		}
		size := length
		if size < 0 {
			size = -size
		}
		cellEnd := offset + int(size)
		if length > 0 {
			payload := make([]byte, int(length)-cellLengthPrefixSize)
			copy(payload, dp.buf[offset+4:cellEnd])
			out = append(out, dataRecord{Offset: offset, Payload: payload})
		}
		offset = cellEnd
	}
	return out
}
