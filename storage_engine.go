package coredb

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// StorageEngine orchestrates the table heap and every index defined on
// it so that a single logical row mutation touches both atomically (or
// rolls the partial attempt back and surfaces both the original and any
// rollback error via multierr). It is the component external SQL-layer
// collaborators are expected to drive directly.
type StorageEngine struct {
	mu sync.Mutex

	disk *DiskManager
	bpm  *BufferPoolManager
	log  *Logger

	catalog       *CatalogPage
	indexManagers map[string]*IndexManager

	txnMgr *TransactionManager
}

// NewStorageEngine opens (or creates) the database file named by
// cfg.DBPath and brings up the buffer pool, catalog, and every existing
// table's index manager.
func NewStorageEngine(cfg Config, log *Logger) (*StorageEngine, error) {
	disk, err := OpenDiskManager(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	bpm := NewBufferPoolManager(disk, cfg.BufferPoolSize, log)

	se := &StorageEngine{
		disk:          disk,
		bpm:           bpm,
		log:           log,
		indexManagers: make(map[string]*IndexManager),
	}

	if disk.NumPages() == 0 {
		page, err := bpm.NewPage()
		if err != nil {
			return nil, err
		}
		if page.ID() != CatalogPageID {
			return nil, fmt.Errorf("%w: catalog page allocated at unexpected id %s", ErrPageCorrupt, page.ID())
		}
		se.catalog = NewCatalogPage()
		bpm.UnpinPage(page.ID(), true)
		if err := se.flushCatalog(); err != nil {
			return nil, err
		}
	} else {
		page, err := bpm.FetchPage(CatalogPageID)
		if err != nil {
			return nil, err
		}
		if isAllZero(page.Data()) {
			se.catalog = NewCatalogPage()
		} else {
			se.catalog, err = DeserializeCatalogPage(page.Data())
			if err != nil {
				bpm.UnpinPage(CatalogPageID, false)
				return nil, err
			}
		}
		bpm.UnpinPage(CatalogPageID, false)
	}

	for name := range se.catalog.Tables {
		se.indexManagers[name] = newIndexManager(name, se)
	}
	se.txnMgr = newTransactionManager(se)
	return se, nil
}

// Close flushes every dirty page and closes the underlying file.
func (se *StorageEngine) Close() error {
	if err := se.bpm.FlushAllPages(); err != nil {
		return err
	}
	return se.disk.Close()
}

func (se *StorageEngine) flushCatalog() error {
	page, err := se.bpm.FetchPage(CatalogPageID)
	if err != nil {
		return err
	}
	data, err := se.catalog.Serialize()
	if err != nil {
		se.bpm.UnpinPage(CatalogPageID, false)
		return err
	}
	copy(page.Data(), data)
	page.MarkDirty()
	se.bpm.UnpinPage(CatalogPageID, true)
	return se.bpm.FlushPage(CatalogPageID)
}

// CreateTable registers a new table with the given column schema,
// refusing a duplicate name. Any PRIMARY_KEY or UNIQUE column
// automatically gets a backing unique index, matching the source
// design's "constraint columns are always indexed" rule.
func (se *StorageEngine) CreateTable(name string, schema []ColumnDefinition) error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if _, exists := se.catalog.Tables[name]; exists {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	heapPage, err := se.bpm.NewPage()
	if err != nil {
		return err
	}
	heap := NewTableHeapPage()
	data, err := heap.Serialize()
	if err != nil {
		se.bpm.UnpinPage(heapPage.ID(), false)
		return err
	}
	copy(heapPage.Data(), data)
	heapPage.MarkDirty()
	se.bpm.UnpinPage(heapPage.ID(), true)

	meta := &TableMetadata{
		HeapRootPageID: heapPage.ID(),
		Schema:         append([]ColumnDefinition(nil), schema...),
		Indexes:        make(map[string]IndexMetadata),
	}
	se.catalog.Tables[name] = meta
	if err := se.flushCatalog(); err != nil {
		delete(se.catalog.Tables, name)
		return err
	}

	im := newIndexManager(name, se)
	se.indexManagers[name] = im
	se.log.Info("table created", "table", name)

	for _, col := range schema {
		if col.HasConstraint(PrimaryKey) || col.HasConstraint(Unique) {
			if _, err := im.CreateIndex(col.Name, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetIndexManager returns the index manager for table, or
// ErrTableNotFound.
func (se *StorageEngine) GetIndexManager(table string) (*IndexManager, error) {
	im, ok := se.indexManagers[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return im, nil
}

// ReadRow reads a single row by RID. Returns (nil, nil) if the slot has
// been tombstoned (already deleted) — reads are always immediate/live,
// even inside a transaction, matching the deferred-write design.
func (se *StorageEngine) ReadRow(table string, rid RID) (Row, error) {
	meta := se.catalog.GetTable(table)
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	page, err := se.bpm.FetchPage(rid.PageID)
	if err != nil {
		return nil, err
	}
	defer se.bpm.UnpinPage(rid.PageID, false)
	dp := NewDataPage(page.Data())
	payload, ok := dp.GetRecord(rid.Offset)
	if !ok {
		return nil, nil
	}
	return DecodeRow(meta.Schema, payload)
}

type rawRow struct {
	RID     RID
	Payload []byte
}

// scanTableRaw walks the table's heap directory oldest-page-first,
// returning every live cell's RID and raw payload bytes.
func (se *StorageEngine) scanTableRaw(table string) ([]rawRow, error) {
	meta := se.catalog.GetTable(table)
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	dirPage, err := se.bpm.FetchPage(meta.HeapRootPageID)
	if err != nil {
		return nil, err
	}
	heap := DeserializeTableHeapPage(dirPage.Data())
	se.bpm.UnpinPage(meta.HeapRootPageID, false)

	var out []rawRow
	for _, pid := range heap.PageIDs {
		page, err := se.bpm.FetchPage(pid)
		if err != nil {
			return nil, err
		}
		dp := NewDataPage(page.Data())
		for _, rec := range dp.GetAllRecords() {
			out = append(out, rawRow{RID: RID{PageID: pid, Offset: rec.Offset}, Payload: rec.Payload})
		}
		se.bpm.UnpinPage(pid, false)
	}
	return out, nil
}

// ScanTable returns every live row in table alongside its RID.
func (se *StorageEngine) ScanTable(table string) ([]RID, []Row, error) {
	raws, err := se.scanTableRaw(table)
	if err != nil {
		return nil, nil, err
	}
	meta := se.catalog.GetTable(table)
	rids := make([]RID, 0, len(raws))
	rows := make([]Row, 0, len(raws))
	for _, rr := range raws {
		row, err := DecodeRow(meta.Schema, rr.Payload)
		if err != nil {
			return nil, nil, err
		}
		rids = append(rids, rr.RID)
		rows = append(rows, row)
	}
	return rids, rows, nil
}

// InsertRow inserts row into table. If txnID is non-nil, the write is
// deferred into that transaction's write set instead of applied
// immediately; the returned RID is the zero value in that case, since
// the real RID isn't known until commit.
func (se *StorageEngine) InsertRow(table string, row Row, txnID *int) (RID, error) {
	meta := se.catalog.GetTable(table)
	if meta == nil {
		return RID{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	payload, err := EncodeRow(meta.Schema, row)
	if err != nil {
		return RID{}, err
	}
	if txnID != nil {
		if err := se.txnMgr.addWrite(*txnID, writeRecord{Op: opInsert, Table: table, NewPayload: payload, NewRow: row}); err != nil {
			return RID{}, err
		}
		return RID{}, nil
	}
	return se.doInsertImmediate(table, payload, row)
}

func (se *StorageEngine) doInsertImmediate(table string, payload []byte, row Row) (RID, error) {
	se.mu.Lock()
	defer se.mu.Unlock()

	meta := se.catalog.GetTable(table)
	if meta == nil {
		return RID{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	rid, err := se.insertIntoHeap(meta, payload)
	if err != nil {
		return RID{}, err
	}

	im := se.indexManagers[table]
	if err := im.InsertEntries(row, rid); err != nil {
		rollbackErr := se.tombstone(rid)
		return RID{}, multierr.Append(err, rollbackErr)
	}
	return rid, nil
}

// insertIntoHeap probes the table's existing data pages newest-first for
// free space, falling back to allocating a fresh page and registering it
// in the heap directory.
func (se *StorageEngine) insertIntoHeap(meta *TableMetadata, payload []byte) (RID, error) {
	dirPage, err := se.bpm.FetchPage(meta.HeapRootPageID)
	if err != nil {
		return RID{}, err
	}
	heap := DeserializeTableHeapPage(dirPage.Data())

	for i := len(heap.PageIDs) - 1; i >= 0; i-- {
		pid := heap.PageIDs[i]
		page, err := se.bpm.FetchPage(pid)
		if err != nil {
			se.bpm.UnpinPage(meta.HeapRootPageID, false)
			return RID{}, err
		}
		dp := NewDataPage(page.Data())
		offset, err := dp.InsertRecord(payload)
		if err == nil {
			page.MarkDirty()
			se.bpm.UnpinPage(pid, true)
			se.bpm.UnpinPage(meta.HeapRootPageID, false)
			return RID{PageID: pid, Offset: offset}, nil
		}
		se.bpm.UnpinPage(pid, false)
	}

	newPage, err := se.bpm.NewPage()
	if err != nil {
		se.bpm.UnpinPage(meta.HeapRootPageID, false)
		return RID{}, err
	}
	dp := NewDataPage(newPage.Data())
	offset, err := dp.InsertRecord(payload)
	if err != nil {
		se.bpm.UnpinPage(newPage.ID(), false)
		se.bpm.UnpinPage(meta.HeapRootPageID, false)
		return RID{}, err
	}
	newPage.MarkDirty()
	se.bpm.UnpinPage(newPage.ID(), true)

	heap.AddPageID(newPage.ID())
	heapData, err := heap.Serialize()
	if err != nil {
		se.bpm.UnpinPage(meta.HeapRootPageID, false)
		return RID{}, err
	}
	copy(dirPage.Data(), heapData)
	dirPage.MarkDirty()
	se.bpm.UnpinPage(meta.HeapRootPageID, true)

	return RID{PageID: newPage.ID(), Offset: offset}, nil
}

func (se *StorageEngine) tombstone(rid RID) error {
	page, err := se.bpm.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	dp := NewDataPage(page.Data())
	dp.DeleteRecord(rid.Offset)
	page.MarkDirty()
	se.bpm.UnpinPage(rid.PageID, true)
	return nil
}

// DeleteRow deletes the row at rid. Reads (to capture the row's current
// value for index maintenance) are always immediate, even under a
// transaction; only the mutation itself is deferred when txnID is set.
func (se *StorageEngine) DeleteRow(table string, rid RID, txnID *int) error {
	oldRow, err := se.ReadRow(table, rid)
	if err != nil {
		return err
	}
	if oldRow == nil {
		return nil
	}
	if txnID != nil {
		return se.txnMgr.addWrite(*txnID, writeRecord{Op: opDelete, Table: table, RID: rid, OldRow: oldRow})
	}
	return se.doDeleteImmediate(table, rid, oldRow)
}

// doDeleteImmediate removes index entries before the heap cell, matching
// the reference design exactly; a crash between the two steps is an
// acknowledged, unrecoverable gap (no WAL in this design).
func (se *StorageEngine) doDeleteImmediate(table string, rid RID, oldRow Row) error {
	se.mu.Lock()
	defer se.mu.Unlock()

	im := se.indexManagers[table]
	if err := im.DeleteEntries(oldRow, rid); err != nil {
		return err
	}
	return se.tombstone(rid)
}

// UpdateRow replaces the row at rid with newValues (merged over the
// existing row for any column newValues omits). Returns the row's
// (possibly unchanged) RID; an update that doesn't fit its original
// cell is relocated to a new offset on the same page.
func (se *StorageEngine) UpdateRow(table string, rid RID, newValues Row, txnID *int) (RID, error) {
	meta := se.catalog.GetTable(table)
	if meta == nil {
		return RID{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	oldRow, err := se.ReadRow(table, rid)
	if err != nil {
		return RID{}, err
	}
	if oldRow == nil {
		return RID{}, fmt.Errorf("%w: row %v", ErrUpdateFailed, rid)
	}
	merged := make(Row, len(oldRow))
	for k, v := range oldRow {
		merged[k] = v
	}
	for k, v := range newValues {
		merged[k] = v
	}
	payload, err := EncodeRow(meta.Schema, merged)
	if err != nil {
		return RID{}, err
	}
	if txnID != nil {
		err := se.txnMgr.addWrite(*txnID, writeRecord{
			Op: opUpdate, Table: table, RID: rid, OldRow: oldRow, NewPayload: payload, NewRow: merged,
		})
		return RID{}, err
	}
	return se.doUpdateImmediate(table, rid, oldRow, payload, merged)
}

func (se *StorageEngine) doUpdateImmediate(table string, rid RID, oldRow Row, newPayload []byte, newRow Row) (RID, error) {
	se.mu.Lock()
	defer se.mu.Unlock()

	meta := se.catalog.GetTable(table)
	if meta == nil {
		return RID{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	im := se.indexManagers[table]
	if err := im.CheckUniquenessForUpdate(oldRow, newRow, rid); err != nil {
		return RID{}, err
	}

	newRID, err := se.updateDataPageRecord(rid, newPayload)
	if err != nil {
		return RID{}, fmt.Errorf("%w: %v", ErrUpdateFailed, err)
	}

	// Once the data page is rewritten, rid itself may already be a dead
	// (tombstoned) cell if the update relocated the row; any rollback of
	// this step must restore the old bytes at newRID, not re-create
	// anything at rid.
	if indexErr := func() error {
		if err := im.DeleteEntries(oldRow, rid); err != nil {
			return err
		}
		return im.InsertEntries(newRow, newRID)
	}(); indexErr != nil {
		oldPayload, encodeErr := EncodeRow(meta.Schema, oldRow)
		if encodeErr != nil {
			return RID{}, multierr.Append(fmt.Errorf("%w: %v", ErrUpdateFailed, indexErr), encodeErr)
		}
		if _, rollbackErr := se.updateDataPageRecord(newRID, oldPayload); rollbackErr != nil {
			return RID{}, multierr.Append(fmt.Errorf("%w: %v", ErrUpdateFailed, indexErr), rollbackErr)
		}
		return RID{}, fmt.Errorf("%w: index update failed, data page rolled back: %v", ErrUpdateFailed, indexErr)
	}
	return newRID, nil
}

func (se *StorageEngine) updateDataPageRecord(rid RID, newPayload []byte) (RID, error) {
	page, err := se.bpm.FetchPage(rid.PageID)
	if err != nil {
		return RID{}, err
	}
	dp := NewDataPage(page.Data())
	newOffset, err := dp.UpdateRecord(rid.Offset, newPayload)
	if err != nil {
		se.bpm.UnpinPage(rid.PageID, false)
		return RID{}, err
	}
	page.MarkDirty()
	se.bpm.UnpinPage(rid.PageID, true)
	if newOffset == rid.Offset {
		return rid, nil
	}
	return RID{PageID: rid.PageID, Offset: newOffset}, nil
}

// BeginTransaction starts a new deferred-write transaction.
func (se *StorageEngine) BeginTransaction() int {
	return se.txnMgr.begin()
}

// CommitTransaction applies a transaction's write set and ends it.
func (se *StorageEngine) CommitTransaction(txnID int) error {
	return se.txnMgr.commit(txnID)
}

// AbortTransaction discards a transaction's write set and ends it.
func (se *StorageEngine) AbortTransaction(txnID int) error {
	return se.txnMgr.abort(txnID)
}
