package coredb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *StorageEngine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "engine.db")
	cfg.BufferPoolSize = 16
	engine, err := NewStorageEngine(cfg, NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func usersSchema() []ColumnDefinition {
	return []ColumnDefinition{
		{Name: "id", DataType: IntType, Constraints: []ColumnConstraint{PrimaryKey}},
		{Name: "email", DataType: TextType, Constraints: []ColumnConstraint{Unique}},
		{Name: "age", DataType: IntType},
	}
}

func TestStorageEngineCreateTableRejectsDuplicate(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))
	err := engine.CreateTable("users", usersSchema())
	require.ErrorIs(t, err, ErrTableExists)
}

func TestStorageEngineCreateTableAutoIndexesConstraintColumns(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	im, err := engine.GetIndexManager("users")
	require.NoError(t, err)
	require.NotNil(t, im.GetIndexForColumn("id"))
	require.NotNil(t, im.GetIndexForColumn("email"))
	require.Nil(t, im.GetIndexForColumn("age"))
}

func TestStorageEngineInsertAndScanTable(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	_, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)
	_, err = engine.InsertRow("users", Row{"id": int32(2), "email": "b@x.com", "age": int32(40)}, nil)
	require.NoError(t, err)

	rids, rows, err := engine.ScanTable("users")
	require.NoError(t, err)
	require.Len(t, rids, 2)
	require.Len(t, rows, 2)
}

func TestStorageEngineInsertPrimaryKeyViolation(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	_, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)

	_, err = engine.InsertRow("users", Row{"id": int32(1), "email": "other@x.com", "age": int32(31)}, nil)
	var pkErr *PKViolationError
	require.ErrorAs(t, err, &pkErr)

	rids, _, err := engine.ScanTable("users")
	require.NoError(t, err)
	require.Len(t, rids, 1, "the violating insert must not leave a heap cell behind")
}

func TestStorageEngineInsertUniquenessViolation(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	_, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)

	_, err = engine.InsertRow("users", Row{"id": int32(2), "email": "a@x.com", "age": int32(31)}, nil)
	var uniqErr *UniquenessViolationError
	require.ErrorAs(t, err, &uniqErr)
}

func TestStorageEngineDeleteRow(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	rid, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)

	require.NoError(t, engine.DeleteRow("users", rid, nil))

	row, err := engine.ReadRow("users", rid)
	require.NoError(t, err)
	require.Nil(t, row)

	// a second delete of the same (now-tombstoned) row is a no-op
	require.NoError(t, engine.DeleteRow("users", rid, nil))
}

func TestStorageEngineUpdateRow(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	rid, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)

	newRID, err := engine.UpdateRow("users", rid, Row{"age": int32(31)}, nil)
	require.NoError(t, err)

	row, err := engine.ReadRow("users", newRID)
	require.NoError(t, err)
	require.Equal(t, int32(31), row["age"])
	require.Equal(t, "a@x.com", row["email"], "unmentioned columns must survive an update")
}

func TestStorageEngineUpdateRowUniquenessViolation(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	_, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)
	rid2, err := engine.InsertRow("users", Row{"id": int32(2), "email": "b@x.com", "age": int32(31)}, nil)
	require.NoError(t, err)

	_, err = engine.UpdateRow("users", rid2, Row{"email": "a@x.com"}, nil)
	var uniqErr *UniquenessViolationError
	require.ErrorAs(t, err, &uniqErr)
}

func TestStorageEngineIndexLookupAfterInsert(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	rid, err := engine.InsertRow("users", Row{"id": int32(5), "email": "z@x.com", "age": int32(20)}, nil)
	require.NoError(t, err)

	im, err := engine.GetIndexManager("users")
	require.NoError(t, err)
	key, err := prepareKeyForBTree(IntType, int32(5))
	require.NoError(t, err)
	found, ok, err := im.GetIndexForColumn("id").Search(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid, found)
}

func TestStorageEngineCreateIndexBackfillsExistingRows(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	_, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)
	_, err = engine.InsertRow("users", Row{"id": int32(2), "email": "b@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)

	im, err := engine.GetIndexManager("users")
	require.NoError(t, err)
	_, err = im.CreateIndex("age", false)
	require.NoError(t, err)

	key, err := prepareKeyForBTree(IntType, int32(30))
	require.NoError(t, err)
	_, found, err := im.GetIndexForColumn("age").Search(key)
	require.NoError(t, err)
	require.True(t, found)
}

func TestStorageEngineReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	cfg := DefaultConfig()
	cfg.DBPath = path
	cfg.BufferPoolSize = 16

	engine, err := NewStorageEngine(cfg, NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, engine.CreateTable("users", usersSchema()))
	_, err = engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	reopened, err := NewStorageEngine(cfg, NewNopLogger())
	require.NoError(t, err)
	defer reopened.Close()

	_, rows, err := reopened.ScanTable("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int32(1), rows[0]["id"])
}
