package coredb

import (
	"fmt"

	"go.uber.org/multierr"
)

// IndexManager owns every B+-tree index defined on one table: a
// column-to-index-name map, an index-name-to-tree map, and which of
// those indexes enforce uniqueness. It keeps the catalog's index entries
// in sync with each tree's root page id as splits/merges change it.
type IndexManager struct {
	tableName string
	engine    *StorageEngine

	indexes       map[string]*BPlusTree
	columnToIndex map[string]string
	uniqueIndexes map[string]bool
}

func newIndexManager(tableName string, engine *StorageEngine) *IndexManager {
	im := &IndexManager{
		tableName:     tableName,
		engine:        engine,
		indexes:       make(map[string]*BPlusTree),
		columnToIndex: make(map[string]string),
		uniqueIndexes: make(map[string]bool),
	}
	im.loadIndexes()
	return im
}

func (im *IndexManager) loadIndexes() {
	meta := im.engine.catalog.GetTable(im.tableName)
	if meta == nil {
		return
	}
	for indexName, idxMeta := range meta.Indexes {
		im.indexes[indexName] = NewBPlusTree(im.engine.bpm, idxMeta.RootPageID)
		im.columnToIndex[idxMeta.Column] = indexName
		im.uniqueIndexes[indexName] = idxMeta.IsUnique
	}
}

func indexName(table, column string) string {
	return fmt.Sprintf("idx_%s_%s", table, column)
}

// CreateIndex creates a new B+-tree index on column, then scans the
// whole table and backfills existing rows into it, surfacing a
// uniqueness violation if isUnique is set and the backfill finds a
// duplicate. The tree holds one RID per key: in a non-unique index only
// the first row scanned with a given value is indexed, and later rows
// with the same value are skipped.
func (im *IndexManager) CreateIndex(column string, isUnique bool) (*BPlusTree, error) {
	name := indexName(im.tableName, column)
	if _, exists := im.indexes[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, name)
	}

	tree := NewBPlusTree(im.engine.bpm, InvalidPageID)
	im.indexes[name] = tree
	im.columnToIndex[column] = name
	im.uniqueIndexes[name] = isUnique

	meta := im.engine.catalog.GetTable(im.tableName)
	if meta.Indexes == nil {
		meta.Indexes = make(map[string]IndexMetadata)
	}
	meta.Indexes[name] = IndexMetadata{RootPageID: tree.RootPageID(), Column: column, IsUnique: isUnique}
	if err := im.engine.flushCatalog(); err != nil {
		return nil, err
	}

	if err := im.populateIndex(tree, column, isUnique); err != nil {
		return nil, err
	}

	if tree.RootPageID() != meta.Indexes[name].RootPageID {
		im.updateIndexRoot(column, tree.RootPageID())
	}
	return tree, nil
}

func (im *IndexManager) populateIndex(tree *BPlusTree, column string, isUnique bool) error {
	meta := im.engine.catalog.GetTable(im.tableName)
	colIndex := meta.columnIndex(column)
	if colIndex < 0 {
		return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, im.tableName, column)
	}
	colDef := meta.Schema[colIndex]

	rows, err := im.engine.scanTableRaw(im.tableName)
	if err != nil {
		return err
	}
	for _, rr := range rows {
		value, err := DecodeColumnAtIndex(meta.Schema, rr.Payload, colIndex)
		if err != nil {
			return err
		}
		key, err := prepareKeyForBTree(colDef.DataType, value)
		if err != nil {
			return err
		}
		_, err = tree.Insert(key, rr.RID)
		if err != nil {
			if isUnique {
				return &UniquenessViolationError{Column: column, Value: value}
			}
			// Non-unique index: the tree keeps one RID per key, so a
			// row whose value is already indexed is skipped.
			if err != ErrDuplicateKey {
				return err
			}
		}
	}
	return nil
}

// GetIndexForColumn returns the tree indexing column, or nil.
func (im *IndexManager) GetIndexForColumn(column string) *BPlusTree {
	name, ok := im.columnToIndex[column]
	if !ok {
		return nil
	}
	return im.indexes[name]
}

// InsertEntries updates every indexed column after a new row is
// inserted, checking primary-key/uniqueness constraints as it goes. On
// failure, the entries it already inserted for this row are deleted again.
func (im *IndexManager) InsertEntries(row Row, rid RID) (err error) {
	meta := im.engine.catalog.GetTable(im.tableName)
	type insertedKey struct {
		column string
		tree   *BPlusTree
		key    btreeKey
	}
	var inserted []insertedKey
	defer func() {
		if err == nil {
			return
		}
		for _, ik := range inserted {
			rootChanged, delErr := ik.tree.Delete(ik.key)
			if delErr != nil {
				err = multierr.Append(err, delErr)
				continue
			}
			if rootChanged {
				im.updateIndexRoot(ik.column, ik.tree.RootPageID())
			}
		}
	}()
	for column, name := range im.columnToIndex {
		value, ok := row[column]
		if !ok || value == nil {
			continue
		}
		colDef := meta.Schema[meta.columnIndex(column)]
		key, err := prepareKeyForBTree(colDef.DataType, value)
		if err != nil {
			return err
		}
		tree := im.indexes[name]
		rootChanged, err := tree.Insert(key, rid)
		if err != nil {
			if err == ErrDuplicateKey {
				if colDef.HasConstraint(PrimaryKey) {
					return &PKViolationError{Value: value}
				}
				if im.uniqueIndexes[name] {
					return &UniquenessViolationError{Column: column, Value: value}
				}
				continue
			}
			return err
		}
		inserted = append(inserted, insertedKey{column: column, tree: tree, key: key})
		if rootChanged {
			im.updateIndexRoot(column, tree.RootPageID())
		}
	}
	return nil
}

// DeleteEntries removes row's entry from every indexed column.
func (im *IndexManager) DeleteEntries(row Row, rid RID) error {
	meta := im.engine.catalog.GetTable(im.tableName)
	for column, name := range im.columnToIndex {
		value, ok := row[column]
		if !ok || value == nil {
			continue
		}
		colDef := meta.Schema[meta.columnIndex(column)]
		key, err := prepareKeyForBTree(colDef.DataType, value)
		if err != nil {
			return err
		}
		tree := im.indexes[name]
		rootChanged, err := tree.Delete(key)
		if err != nil {
			return err
		}
		if rootChanged {
			im.updateIndexRoot(column, tree.RootPageID())
		}
	}
	return nil
}

// CheckUniquenessForUpdate pre-checks, before a row is actually mutated,
// whether the new values would violate any unique index — skipping
// columns whose value is unchanged.
func (im *IndexManager) CheckUniquenessForUpdate(oldRow, newRow Row, oldRID RID) error {
	meta := im.engine.catalog.GetTable(im.tableName)
	for column, name := range im.columnToIndex {
		if !im.uniqueIndexes[name] {
			continue
		}
		oldValue, newValue := oldRow[column], newRow[column]
		if oldValue == newValue {
			continue
		}
		colDef := meta.Schema[meta.columnIndex(column)]
		key, err := prepareKeyForBTree(colDef.DataType, newValue)
		if err != nil {
			return err
		}
		existingRID, found, err := im.indexes[name].Search(key)
		if err != nil {
			return err
		}
		if found && existingRID != oldRID {
			if colDef.HasConstraint(PrimaryKey) {
				return &PKViolationError{Value: newValue}
			}
			return &UniquenessViolationError{Column: column, Value: newValue}
		}
	}
	return nil
}

func (im *IndexManager) updateIndexRoot(column string, newRoot PageID) {
	meta := im.engine.catalog.GetTable(im.tableName)
	name, ok := im.columnToIndex[column]
	if !ok {
		return
	}
	entry := meta.Indexes[name]
	entry.RootPageID = newRoot
	meta.Indexes[name] = entry
	im.engine.flushCatalog()
}
