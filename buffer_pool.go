package coredb

import (
	"fmt"
	"sync"
)

// BufferPoolManager mediates all access to on-disk pages through a fixed
// number of in-memory frames. A single mutex serializes the frame table,
// pin counts, dirty flags, and the replacer's LRU bookkeeping for the
// duration of every public method — this is a deliberately coarse lock,
// matching the source design's single-writer-at-a-time buffer pool.
type BufferPoolManager struct {
	mu sync.Mutex

	disk     *DiskManager
	replacer *LRUReplacer
	log      *Logger

	pages     []Page
	pageTable map[PageID]FrameID
	freeList  []FrameID
}

// NewBufferPoolManager creates a pool of poolSize frames backed by disk.
func NewBufferPoolManager(disk *DiskManager, poolSize int, log *Logger) *BufferPoolManager {
	free := make([]FrameID, poolSize)
	for i := range free {
		free[i] = FrameID(i)
	}
	return &BufferPoolManager{
		disk:      disk,
		replacer:  NewLRUReplacer(poolSize),
		log:       log,
		pages:     make([]Page, poolSize),
		pageTable: make(map[PageID]FrameID, poolSize),
		freeList:  free,
	}
}

// FetchPage pins and returns the requested page, reading it from disk if
// it isn't already resident. Returns ErrNoFrame if every frame is pinned.
func (bp *BufferPoolManager) FetchPage(id PageID) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frameID, ok := bp.pageTable[id]; ok {
		page := &bp.pages[frameID]
		page.pin()
		bp.replacer.Pin(frameID)
		return page, nil
	}

	frameID, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}
	page := &bp.pages[frameID]
	page.reset(id)
	if err := bp.disk.ReadPage(id, page.Data()); err != nil {
		bp.freeList = append(bp.freeList, frameID)
		return nil, err
	}
	bp.pageTable[id] = frameID
	page.pin()
	bp.replacer.Pin(frameID)
	return page, nil
}

// NewPage allocates a fresh page on disk, pins it in a frame, and returns
// it. The returned page is always marked dirty, since it has no
// on-disk-identical content yet.
func (bp *BufferPoolManager) NewPage() (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	id, err := bp.disk.AllocatePage()
	if err != nil {
		return nil, err
	}
	frameID, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}
	page := &bp.pages[frameID]
	page.reset(id)
	page.MarkDirty()
	bp.pageTable[id] = frameID
	page.pin()
	bp.replacer.Pin(frameID)
	return page, nil
}

// UnpinPage decrements a page's pin count. isDirty, if true, marks the
// page dirty regardless of its previous state (it never un-marks a page
// that was already dirty). Returns false if the page wasn't resident or
// was already unpinned to zero.
func (bp *BufferPoolManager) UnpinPage(id PageID, isDirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable[id]
	if !ok {
		return false
	}
	page := &bp.pages[frameID]
	if page.PinCount() <= 0 {
		return false
	}
	if isDirty {
		page.MarkDirty()
	}
	if page.unpin() {
		bp.replacer.Unpin(frameID)
	}
	return true
}

// FlushPage writes a resident page back to disk if it is dirty, then
// clears its dirty flag.
func (bp *BufferPoolManager) FlushPage(id PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	frameID, ok := bp.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: flush unknown page %s", ErrPageCorrupt, id)
	}
	return bp.flushFrameLocked(frameID)
}

// flushFrameLocked must be called with mu held. It does the actual
// dirty-only write-back for a single frame.
func (bp *BufferPoolManager) flushFrameLocked(frameID FrameID) error {
	page := &bp.pages[frameID]
	if !page.IsDirty() {
		return nil
	}
	if err := bp.disk.WritePage(page.ID(), page.Data()); err != nil {
		return err
	}
	page.markClean()
	return nil
}

// FlushAllPages writes every dirty resident page back to disk. This
// inlines the same write-back logic as FlushPage instead of calling it,
// because FlushPage takes mu itself and this method already holds it for
// its entire body — calling out would self-deadlock.
func (bp *BufferPoolManager) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, frameID := range bp.pageTable {
		if err := bp.flushFrameLocked(frameID); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage evicts a page from the buffer pool without writing it back,
// refusing if it is currently pinned. There is no disk-level
// reclamation: the underlying page id remains permanently allocated.
func (bp *BufferPoolManager) DeletePage(id PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	frameID, ok := bp.pageTable[id]
	if !ok {
		return true
	}
	page := &bp.pages[frameID]
	if page.PinCount() > 0 {
		return false
	}
	bp.replacer.Pin(frameID)
	delete(bp.pageTable, id)
	page.reset(InvalidPageID)
	bp.freeList = append(bp.freeList, frameID)
	return true
}

// acquireFrame must be called with mu held. It returns a free frame,
// evicting the current LRU victim if the free list is empty.
func (bp *BufferPoolManager) acquireFrame() (FrameID, error) {
	if n := len(bp.freeList); n > 0 {
		frameID := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return frameID, nil
	}
	frameID, ok := bp.replacer.Victim()
	if !ok {
		return 0, ErrNoFrame
	}
	victim := &bp.pages[frameID]
	if victim.IsDirty() {
		if err := bp.disk.WritePage(victim.ID(), victim.Data()); err != nil {
			return 0, err
		}
	}
	delete(bp.pageTable, victim.ID())
	if bp.log != nil {
		bp.log.Debug("evicted page", "page_id", victim.ID(), "frame_id", frameID)
	}
	return frameID, nil
}
