package coredb

import "sync"

// BPlusTree is a concurrent, disk-backed B+-tree over fixed-width keys,
// using latch-crabbing (lock coupling) for both search and mutation.
// Latches are exclusive-only: there is no separate shared/read mode, so
// even a pure search takes the same per-page latch a writer would.
type BPlusTree struct {
	bpm     *BufferPoolManager
	latches *LatchManager

	rootMu sync.Mutex
	root   PageID
}

// NewBPlusTree attaches to an existing tree (root may be InvalidPageID
// for a brand-new, empty tree).
func NewBPlusTree(bpm *BufferPoolManager, root PageID) *BPlusTree {
	return &BPlusTree{bpm: bpm, latches: NewLatchManager(), root: root}
}

// RootPageID returns the tree's current root page id (InvalidPageID if
// the tree is empty). Callers persist this into the catalog after any
// operation that reports rootChanged.
func (t *BPlusTree) RootPageID() PageID {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return t.root
}

func (t *BPlusTree) setRoot(id PageID) {
	t.rootMu.Lock()
	t.root = id
	t.rootMu.Unlock()
}

type btreeFrame struct {
	id       PageID
	page     *Page
	internal *BTreeInternalPage
	leaf     *BTreeLeafPage
}

func (f *btreeFrame) isLeaf() bool { return f.leaf != nil }

func writeLeafToPage(page *Page, l *BTreeLeafPage) {
	copy(page.Data(), l.Serialize())
	page.MarkDirty()
}

func writeInternalToPage(page *Page, ip *BTreeInternalPage) {
	copy(page.Data(), ip.Serialize())
	page.MarkDirty()
}

func unlockUnpinAll(t *BPlusTree, path []*btreeFrame) {
	for _, f := range path {
		t.bpm.UnpinPage(f.id, false)
		t.latches.Unlock(f.id)
	}
}

// insertTxn tracks the pages a single Insert call has allocated, so that
// if the operation fails partway through (after a split already created
// a sibling or a new root), every page created for it can be handed back
// via DeletePage instead of leaking.
type insertTxn struct {
	newPages []PageID
}

func (x *insertTxn) created(id PageID) {
	x.newPages = append(x.newPages, id)
}

func (t *BPlusTree) rollbackCreated(x *insertTxn) {
	for _, id := range x.newPages {
		t.bpm.DeletePage(id)
	}
}

// Search looks up key and reports its RID, if present. Search still takes
// page latches (this tree has no shared-latch mode) but releases each
// ancestor as soon as its child is latched, so concurrent searches never
// hold more than two page latches at once.
func (t *BPlusTree) Search(key btreeKey) (RID, bool, error) {
	root := t.RootPageID()
	if root == InvalidPageID {
		return RID{}, false, nil
	}

	currentID := root
	t.latches.Lock(currentID)
	page, err := t.bpm.FetchPage(currentID)
	if err != nil {
		t.latches.Unlock(currentID)
		return RID{}, false, err
	}

	for !isLeafPage(page.Data()) {
		internal := DeserializeInternalPage(page.Data())
		childID := internal.Lookup(key)

		t.latches.Lock(childID)
		t.bpm.UnpinPage(currentID, false)
		t.latches.Unlock(currentID)

		currentID = childID
		page, err = t.bpm.FetchPage(currentID)
		if err != nil {
			t.latches.Unlock(currentID)
			return RID{}, false, err
		}
	}

	leaf := DeserializeLeafPage(page.Data())
	idx, found := leaf.Find(key)
	t.bpm.UnpinPage(currentID, false)
	t.latches.Unlock(currentID)
	if !found {
		return RID{}, false, nil
	}
	return leaf.Entries[idx].RID, true, nil
}

// Insert adds key->rid. Reports rootChanged=true if the tree's root page
// id changed (the caller must persist the new root id), and
// ErrDuplicateKey if the key is already present.
func (t *BPlusTree) Insert(key btreeKey, rid RID) (bool, error) {
	x := &insertTxn{}
	root := t.RootPageID()
	if root == InvalidPageID {
		page, err := t.bpm.NewPage()
		if err != nil {
			return false, err
		}
		leaf := &BTreeLeafPage{Prev: InvalidPageID, Next: InvalidPageID}
		leaf.Insert(key, rid)
		writeLeafToPage(page, leaf)
		t.bpm.UnpinPage(page.ID(), true)
		t.setRoot(page.ID())
		return true, nil
	}

	var path []*btreeFrame
	releaseAncestors := func() {
		if len(path) <= 1 {
			return
		}
		for _, f := range path[:len(path)-1] {
			t.bpm.UnpinPage(f.id, false)
			t.latches.Unlock(f.id)
		}
		path = []*btreeFrame{path[len(path)-1]}
	}

	currentID := root
	for {
		t.latches.Lock(currentID)
		page, err := t.bpm.FetchPage(currentID)
		if err != nil {
			t.latches.Unlock(currentID)
			unlockUnpinAll(t, path)
			return false, err
		}
		fr := &btreeFrame{id: currentID, page: page}
		if isLeafPage(page.Data()) {
			fr.leaf = DeserializeLeafPage(page.Data())
			path = append(path, fr)
			break
		}
		fr.internal = DeserializeInternalPage(page.Data())
		path = append(path, fr)
		if !fr.internal.IsFull() {
			releaseAncestors()
		}
		currentID = fr.internal.Lookup(key)
	}

	leafFrame := path[len(path)-1]
	if !leafFrame.leaf.Insert(key, rid) {
		unlockUnpinAll(t, path)
		return false, ErrDuplicateKey
	}

	if len(leafFrame.leaf.Entries) <= leafMaxEntries() {
		writeLeafToPage(leafFrame.page, leafFrame.leaf)
		unlockUnpinAll(t, path)
		return false, nil
	}

	return t.splitLeafAndInsertParent(path, x)
}

func (t *BPlusTree) splitLeafAndInsertParent(path []*btreeFrame, x *insertTxn) (bool, error) {
	leafFrame := path[len(path)-1]
	leaf := leafFrame.leaf

	mid := len(leaf.Entries) / 2
	siblingEntries := append([]leafEntry(nil), leaf.Entries[mid:]...)
	leaf.Entries = leaf.Entries[:mid]

	siblingPage, err := t.bpm.NewPage()
	if err != nil {
		unlockUnpinAll(t, path)
		t.rollbackCreated(x)
		return false, err
	}
	x.created(siblingPage.ID())
	sibling := &BTreeLeafPage{Prev: leafFrame.id, Next: leaf.Next, Entries: siblingEntries}
	oldNext := leaf.Next
	leaf.Next = siblingPage.ID()

	writeLeafToPage(leafFrame.page, leaf)
	writeLeafToPage(siblingPage, sibling)
	t.bpm.UnpinPage(siblingPage.ID(), true)

	if oldNext != InvalidPageID {
		if err := t.updateSiblingPrev(oldNext, siblingPage.ID()); err != nil {
			t.bpm.UnpinPage(leafFrame.id, false)
			t.latches.Unlock(leafFrame.id)
			unlockUnpinAll(t, path[:len(path)-1])
			t.rollbackCreated(x)
			return false, err
		}
	}

	separator := sibling.Entries[0].Key
	t.bpm.UnpinPage(leafFrame.id, false)
	t.latches.Unlock(leafFrame.id)

	if len(path) == 1 {
		return t.createNewRoot(leafFrame.id, separator, siblingPage.ID(), x)
	}

	ancestors := path[:len(path)-1]
	return t.insertIntoParent(ancestors, separator, siblingPage.ID(), x)
}

func (t *BPlusTree) updateSiblingPrev(siblingID PageID, newPrev PageID) error {
	t.latches.Lock(siblingID)
	defer t.latches.Unlock(siblingID)
	page, err := t.bpm.FetchPage(siblingID)
	if err != nil {
		return err
	}
	leaf := DeserializeLeafPage(page.Data())
	leaf.Prev = newPrev
	writeLeafToPage(page, leaf)
	t.bpm.UnpinPage(siblingID, true)
	return nil
}

func (t *BPlusTree) insertIntoParent(ancestors []*btreeFrame, key btreeKey, child PageID, x *insertTxn) (bool, error) {
	parentFrame := ancestors[len(ancestors)-1]
	parentFrame.internal.Insert(key, child)

	if len(parentFrame.internal.Entries) <= internalMaxEntries() {
		writeInternalToPage(parentFrame.page, parentFrame.internal)
		unlockUnpinAll(t, ancestors)
		return false, nil
	}

	return t.splitInternalAndInsertParent(ancestors, x)
}

func (t *BPlusTree) splitInternalAndInsertParent(path []*btreeFrame, x *insertTxn) (bool, error) {
	frame := path[len(path)-1]
	internal := frame.internal

	mid := len(internal.Entries) / 2
	upKey := internal.Entries[mid].Key
	rightFirstChild := internal.Entries[mid].Child
	rightEntries := append([]internalEntry(nil), internal.Entries[mid+1:]...)
	internal.Entries = internal.Entries[:mid]

	siblingPage, err := t.bpm.NewPage()
	if err != nil {
		unlockUnpinAll(t, path)
		t.rollbackCreated(x)
		return false, err
	}
	x.created(siblingPage.ID())
	sibling := &BTreeInternalPage{FirstChild: rightFirstChild, Entries: rightEntries}
	writeInternalToPage(frame.page, internal)
	writeInternalToPage(siblingPage, sibling)
	t.bpm.UnpinPage(siblingPage.ID(), true)

	t.bpm.UnpinPage(frame.id, false)
	t.latches.Unlock(frame.id)

	if len(path) == 1 {
		return t.createNewRoot(frame.id, upKey, siblingPage.ID(), x)
	}

	ancestors := path[:len(path)-1]
	return t.insertIntoParent(ancestors, upKey, siblingPage.ID(), x)
}

func (t *BPlusTree) createNewRoot(leftChild PageID, key btreeKey, rightChild PageID, x *insertTxn) (bool, error) {
	rootPage, err := t.bpm.NewPage()
	if err != nil {
		t.rollbackCreated(x)
		return false, err
	}
	root := &BTreeInternalPage{FirstChild: leftChild, Entries: []internalEntry{{Key: key, Child: rightChild}}}
	writeInternalToPage(rootPage, root)
	t.bpm.UnpinPage(rootPage.ID(), true)
	t.setRoot(rootPage.ID())
	return true, nil
}

// Delete removes key, if present. Reports rootChanged=true if the tree's
// root page id changed (the caller must persist the new root id).
func (t *BPlusTree) Delete(key btreeKey) (bool, error) {
	root := t.RootPageID()
	if root == InvalidPageID {
		return false, nil
	}

	var path []*btreeFrame
	releaseAncestors := func() {
		if len(path) <= 1 {
			return
		}
		for _, f := range path[:len(path)-1] {
			t.bpm.UnpinPage(f.id, false)
			t.latches.Unlock(f.id)
		}
		path = []*btreeFrame{path[len(path)-1]}
	}

	currentID := root
	for {
		t.latches.Lock(currentID)
		page, err := t.bpm.FetchPage(currentID)
		if err != nil {
			t.latches.Unlock(currentID)
			unlockUnpinAll(t, path)
			return false, err
		}
		fr := &btreeFrame{id: currentID, page: page}
		if isLeafPage(page.Data()) {
			fr.leaf = DeserializeLeafPage(page.Data())
			path = append(path, fr)
			break
		}
		fr.internal = DeserializeInternalPage(page.Data())
		path = append(path, fr)
		safe := len(path) == 1 || len(fr.internal.Entries) > internalMinEntries()
		if safe {
			releaseAncestors()
		}
		currentID = fr.internal.Lookup(key)
	}

	leafFrame := path[len(path)-1]
	idx, found := leafFrame.leaf.Find(key)
	if !found {
		unlockUnpinAll(t, path)
		return false, nil
	}
	leafFrame.leaf.RemoveAt(idx)

	if len(path) == 1 {
		// Leaf is the whole tree; no siblings, no underflow handling.
		if len(leafFrame.leaf.Entries) == 0 {
			t.bpm.UnpinPage(leafFrame.id, true)
			t.latches.Unlock(leafFrame.id)
			t.setRoot(InvalidPageID)
			return true, nil
		}
		writeLeafToPage(leafFrame.page, leafFrame.leaf)
		unlockUnpinAll(t, path)
		return false, nil
	}

	if len(leafFrame.leaf.Entries) >= leafMinEntries() {
		writeLeafToPage(leafFrame.page, leafFrame.leaf)
		unlockUnpinAll(t, path)
		return false, nil
	}

	return t.handleUnderflow(path)
}

func internalMinEntries() int { return internalMaxEntries() / 2 }
func leafMinEntries() int     { return leafMaxEntries() / 2 }

// handleUnderflow resolves an underfull node (path's last frame) by
// borrowing from a sibling or merging with one, latching that sibling
// independently of the original root-to-leaf path. If a merge empties the
// parent below its own minimum, the underflow cascades to the parent
// recursively; if it empties the root entirely, the tree collapses by
// one level (the old root page is simply left orphaned — this design
// never reclaims disk pages, by the same constraint that rules out a
// free list for data pages).
func (t *BPlusTree) handleUnderflow(path []*btreeFrame) (bool, error) {
	node := path[len(path)-1]
	parentFrame := path[len(path)-2]
	parent := parentFrame.internal
	childIdx := parent.ChildIndex(node.id)

	if childIdx > 0 {
		leftID := parent.ChildAt(childIdx - 1)
		done, rootChanged, err := t.tryBorrowFromLeft(path, parentFrame, childIdx, leftID)
		if err != nil {
			return false, err
		}
		if done {
			return rootChanged, nil
		}
	}
	if childIdx < len(parent.Entries) {
		rightID := parent.ChildAt(childIdx + 1)
		done, rootChanged, err := t.tryBorrowFromRight(path, parentFrame, childIdx, rightID)
		if err != nil {
			return false, err
		}
		if done {
			return rootChanged, nil
		}
	}

	if childIdx > 0 {
		leftID := parent.ChildAt(childIdx - 1)
		return t.mergeWithLeft(path, parentFrame, childIdx, leftID)
	}
	rightID := parent.ChildAt(childIdx + 1)
	return t.mergeWithRight(path, parentFrame, childIdx, rightID)
}

func (t *BPlusTree) tryBorrowFromLeft(path []*btreeFrame, parentFrame *btreeFrame, childIdx int, leftID PageID) (done bool, rootChanged bool, err error) {
	node := path[len(path)-1]
	t.latches.Lock(leftID)
	leftPage, err := t.bpm.FetchPage(leftID)
	if err != nil {
		t.latches.Unlock(leftID)
		return false, false, err
	}
	defer func() {
		t.bpm.UnpinPage(leftID, false)
		t.latches.Unlock(leftID)
	}()

	if node.isLeaf() {
		left := DeserializeLeafPage(leftPage.Data())
		if len(left.Entries) <= leafMinEntries() {
			return false, false, nil
		}
		borrowed := left.Entries[len(left.Entries)-1]
		left.Entries = left.Entries[:len(left.Entries)-1]
		node.leaf.Entries = append([]leafEntry{borrowed}, node.leaf.Entries...)
		parentFrame.internal.Entries[childIdx-1].Key = node.leaf.Entries[0].Key
		writeLeafToPage(leftPage, left)
		writeLeafToPage(node.page, node.leaf)
	} else {
		left := DeserializeInternalPage(leftPage.Data())
		if len(left.Entries) <= internalMinEntries() {
			return false, false, nil
		}
		borrowedEntry := left.Entries[len(left.Entries)-1]
		left.Entries = left.Entries[:len(left.Entries)-1]

		downKey := parentFrame.internal.Entries[childIdx-1].Key
		node.internal.Entries = append([]internalEntry{{Key: downKey, Child: node.internal.FirstChild}}, node.internal.Entries...)
		node.internal.FirstChild = borrowedEntry.Child
		parentFrame.internal.Entries[childIdx-1].Key = borrowedEntry.Key

		writeInternalToPage(leftPage, left)
		writeInternalToPage(node.page, node.internal)
	}
	writeInternalToPage(parentFrame.page, parentFrame.internal)
	unlockUnpinAll(t, path)
	return true, false, nil
}

func (t *BPlusTree) tryBorrowFromRight(path []*btreeFrame, parentFrame *btreeFrame, childIdx int, rightID PageID) (done bool, rootChanged bool, err error) {
	node := path[len(path)-1]
	t.latches.Lock(rightID)
	rightPage, err := t.bpm.FetchPage(rightID)
	if err != nil {
		t.latches.Unlock(rightID)
		return false, false, err
	}
	defer func() {
		t.bpm.UnpinPage(rightID, false)
		t.latches.Unlock(rightID)
	}()

	if node.isLeaf() {
		right := DeserializeLeafPage(rightPage.Data())
		if len(right.Entries) <= leafMinEntries() {
			return false, false, nil
		}
		borrowed := right.Entries[0]
		right.Entries = right.Entries[1:]
		node.leaf.Entries = append(node.leaf.Entries, borrowed)
		parentFrame.internal.Entries[childIdx].Key = right.Entries[0].Key
		writeLeafToPage(rightPage, right)
		writeLeafToPage(node.page, node.leaf)
	} else {
		right := DeserializeInternalPage(rightPage.Data())
		if len(right.Entries) <= internalMinEntries() {
			return false, false, nil
		}
		downKey := parentFrame.internal.Entries[childIdx].Key
		node.internal.Entries = append(node.internal.Entries, internalEntry{Key: downKey, Child: right.FirstChild})
		parentFrame.internal.Entries[childIdx].Key = right.Entries[0].Key
		right.FirstChild = right.Entries[0].Child
		right.Entries = right.Entries[1:]

		writeInternalToPage(rightPage, right)
		writeInternalToPage(node.page, node.internal)
	}
	writeInternalToPage(parentFrame.page, parentFrame.internal)
	unlockUnpinAll(t, path)
	return true, false, nil
}

func (t *BPlusTree) mergeWithLeft(path []*btreeFrame, parentFrame *btreeFrame, childIdx int, leftID PageID) (bool, error) {
	node := path[len(path)-1]
	t.latches.Lock(leftID)
	leftPage, err := t.bpm.FetchPage(leftID)
	if err != nil {
		t.latches.Unlock(leftID)
		unlockUnpinAll(t, path)
		return false, err
	}

	if node.isLeaf() {
		left := DeserializeLeafPage(leftPage.Data())
		left.Entries = append(left.Entries, node.leaf.Entries...)
		left.Next = node.leaf.Next
		writeLeafToPage(leftPage, left)
		if left.Next != InvalidPageID {
			t.bpm.UnpinPage(leftID, true)
			t.latches.Unlock(leftID)
			if err := t.updateSiblingPrev(left.Next, leftID); err != nil {
				unlockUnpinAll(t, path)
				return false, err
			}
		} else {
			t.bpm.UnpinPage(leftID, true)
			t.latches.Unlock(leftID)
		}
	} else {
		left := DeserializeInternalPage(leftPage.Data())
		downKey := parentFrame.internal.Entries[childIdx-1].Key
		left.Entries = append(left.Entries, internalEntry{Key: downKey, Child: node.internal.FirstChild})
		left.Entries = append(left.Entries, node.internal.Entries...)
		writeInternalToPage(leftPage, left)
		t.bpm.UnpinPage(leftID, true)
		t.latches.Unlock(leftID)
	}

	t.bpm.UnpinPage(node.id, false)
	t.latches.Unlock(node.id)
	t.bpm.DeletePage(node.id)
	parentFrame.internal.RemoveEntryAt(childIdx - 1)

	return t.shrinkParent(path[:len(path)-1], parentFrame)
}

func (t *BPlusTree) mergeWithRight(path []*btreeFrame, parentFrame *btreeFrame, childIdx int, rightID PageID) (bool, error) {
	node := path[len(path)-1]
	t.latches.Lock(rightID)
	rightPage, err := t.bpm.FetchPage(rightID)
	if err != nil {
		t.latches.Unlock(rightID)
		unlockUnpinAll(t, path)
		return false, err
	}

	if node.isLeaf() {
		right := DeserializeLeafPage(rightPage.Data())
		node.leaf.Entries = append(node.leaf.Entries, right.Entries...)
		node.leaf.Next = right.Next
		writeLeafToPage(node.page, node.leaf)
		if node.leaf.Next != InvalidPageID {
			if err := t.updateSiblingPrev(node.leaf.Next, node.id); err != nil {
				t.bpm.UnpinPage(rightID, false)
				t.latches.Unlock(rightID)
				unlockUnpinAll(t, path)
				return false, err
			}
		}
	} else {
		right := DeserializeInternalPage(rightPage.Data())
		downKey := parentFrame.internal.Entries[childIdx].Key
		node.internal.Entries = append(node.internal.Entries, internalEntry{Key: downKey, Child: right.FirstChild})
		node.internal.Entries = append(node.internal.Entries, right.Entries...)
		writeInternalToPage(node.page, node.internal)
	}
	t.bpm.UnpinPage(rightID, false)
	t.latches.Unlock(rightID)
	t.bpm.DeletePage(rightID)

	t.bpm.UnpinPage(node.id, false)
	t.latches.Unlock(node.id)
	parentFrame.internal.RemoveEntryAt(childIdx)

	return t.shrinkParent(path[:len(path)-1], parentFrame)
}

// shrinkParent is called after a merge removed one entry from parent. If
// parent (the new last frame of path) is still above its minimum, or is
// the root, it's just written back. Otherwise the underflow cascades.
func (t *BPlusTree) shrinkParent(path []*btreeFrame, parentFrame *btreeFrame) (bool, error) {
	if len(path) == 1 {
		// parent is root.
		if len(parentFrame.internal.Entries) == 0 {
			// Root collapses to its one remaining child.
			newRoot := parentFrame.internal.FirstChild
			t.bpm.UnpinPage(parentFrame.id, false)
			t.latches.Unlock(parentFrame.id)
			t.setRoot(newRoot)
			return true, nil
		}
		writeInternalToPage(parentFrame.page, parentFrame.internal)
		unlockUnpinAll(t, path)
		return false, nil
	}

	if len(parentFrame.internal.Entries) >= internalMinEntries() {
		writeInternalToPage(parentFrame.page, parentFrame.internal)
		unlockUnpinAll(t, path)
		return false, nil
	}

	return t.handleUnderflow(path)
}
