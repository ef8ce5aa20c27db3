package coredb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionDeferredInsertNotVisibleUntilCommit(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	txnID := engine.BeginTransaction()
	_, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, &txnID)
	require.NoError(t, err)

	_, rows, err := engine.ScanTable("users")
	require.NoError(t, err)
	require.Empty(t, rows, "a deferred write must not be visible before commit")

	require.NoError(t, engine.CommitTransaction(txnID))

	_, rows, err = engine.ScanTable("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestTransactionAbortDiscardsWriteSet(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	txnID := engine.BeginTransaction()
	_, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, &txnID)
	require.NoError(t, err)

	require.NoError(t, engine.AbortTransaction(txnID))

	_, rows, err := engine.ScanTable("users")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestTransactionDoubleCommitFails(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	txnID := engine.BeginTransaction()
	require.NoError(t, engine.CommitTransaction(txnID))
	err := engine.CommitTransaction(txnID)
	require.ErrorIs(t, err, ErrNoTxn)
}

func TestTransactionWriteAfterCommitRejected(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	txnID := engine.BeginTransaction()
	require.NoError(t, engine.CommitTransaction(txnID))

	_, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, &txnID)
	require.ErrorIs(t, err, ErrNoTxn)
}

func TestTransactionReadsAreAlwaysImmediate(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	rid, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)

	txnID := engine.BeginTransaction()
	_, err = engine.UpdateRow("users", rid, Row{"age": int32(99)}, &txnID)
	require.NoError(t, err)

	// the update is deferred, so an immediate read still sees the old value
	row, err := engine.ReadRow("users", rid)
	require.NoError(t, err)
	require.Equal(t, int32(30), row["age"])

	require.NoError(t, engine.CommitTransaction(txnID))
	row, err = engine.ReadRow("users", rid)
	require.NoError(t, err)
	require.Equal(t, int32(99), row["age"])
}

func TestTransactionDeferredDeleteThenInsertSequencing(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTable("users", usersSchema()))

	rid, err := engine.InsertRow("users", Row{"id": int32(1), "email": "a@x.com", "age": int32(30)}, nil)
	require.NoError(t, err)

	txnID := engine.BeginTransaction()
	require.NoError(t, engine.DeleteRow("users", rid, &txnID))
	_, err = engine.InsertRow("users", Row{"id": int32(2), "email": "b@x.com", "age": int32(40)}, &txnID)
	require.NoError(t, err)
	require.NoError(t, engine.CommitTransaction(txnID))

	_, rows, err := engine.ScanTable("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int32(2), rows[0]["id"])
}
