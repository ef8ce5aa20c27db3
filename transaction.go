package coredb

import (
	"fmt"
	"sync"
)

type txnState int

const (
	txnActive txnState = iota
	txnCommitted
	txnAborted
)

type writeOp int

const (
	opInsert writeOp = iota
	opDelete
	opUpdate
)

// writeRecord is one deferred mutation queued against a transaction. Its
// old/new row values and encoded payload are captured at call time (a
// read is always immediate); only applying the mutation to the heap and
// its indexes is deferred to commit.
type writeRecord struct {
	Op         writeOp
	Table      string
	RID        RID
	OldRow     Row
	NewPayload []byte
	NewRow     Row
}

type transaction struct {
	id       int
	state    txnState
	writeSet []writeRecord
}

// TransactionManager gives callers begin/commit/abort over a deferred
// write set: every InsertRow/DeleteRow/UpdateRow call made under a live
// transaction id is appended here instead of touching the heap or any
// index, and only replayed, in order, when the transaction commits.
//
// There is no global reader lock held across a transaction's lifetime —
// other callers can read and immediately-mutate the same rows while a
// transaction is still open. That's a deliberate, documented limitation
// of this single-node design, not an oversight.
type TransactionManager struct {
	mu     sync.Mutex
	engine *StorageEngine
	nextID int
	txns   map[int]*transaction
}

func newTransactionManager(engine *StorageEngine) *TransactionManager {
	return &TransactionManager{
		engine: engine,
		txns:   make(map[int]*transaction),
	}
}

// begin starts a new transaction and returns its id.
func (tm *TransactionManager) begin() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.nextID++
	id := tm.nextID
	tm.txns[id] = &transaction{id: id, state: txnActive}
	return id
}

func (tm *TransactionManager) requireActive(txnID int) (*transaction, error) {
	txn, ok := tm.txns[txnID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoTxn, txnID)
	}
	if txn.state != txnActive {
		return nil, fmt.Errorf("%w: transaction %d is not active", ErrNoTxn, txnID)
	}
	return txn, nil
}

// addWrite appends rec to txnID's write set. The transaction must be
// active; this is a deliberate tightening over a reference design that
// silently accepts writes on a already-finished transaction.
func (tm *TransactionManager) addWrite(txnID int, rec writeRecord) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	txn, err := tm.requireActive(txnID)
	if err != nil {
		return err
	}
	txn.writeSet = append(txn.writeSet, rec)
	return nil
}

// commit replays txnID's write set, in order, through the storage
// engine's immediate-apply paths, then discards the transaction. A
// failure partway through leaves every write before the failing one
// applied — there is no rollback of already-applied writes,
// since this design carries no undo log.
func (tm *TransactionManager) commit(txnID int) error {
	tm.mu.Lock()
	txn, err := tm.requireActive(txnID)
	if err != nil {
		tm.mu.Unlock()
		return err
	}
	writeSet := txn.writeSet
	tm.mu.Unlock()

	for _, rec := range writeSet {
		if err := tm.apply(rec); err != nil {
			tm.mu.Lock()
			txn.state = txnAborted
			delete(tm.txns, txnID)
			tm.mu.Unlock()
			return fmt.Errorf("commit failed applying %v to %s: %w", rec.Op, rec.Table, err)
		}
	}

	tm.mu.Lock()
	txn.state = txnCommitted
	delete(tm.txns, txnID)
	tm.mu.Unlock()
	return nil
}

func (tm *TransactionManager) apply(rec writeRecord) error {
	switch rec.Op {
	case opInsert:
		_, err := tm.engine.doInsertImmediate(rec.Table, rec.NewPayload, rec.NewRow)
		return err
	case opDelete:
		return tm.engine.doDeleteImmediate(rec.Table, rec.RID, rec.OldRow)
	case opUpdate:
		_, err := tm.engine.doUpdateImmediate(rec.Table, rec.RID, rec.OldRow, rec.NewPayload, rec.NewRow)
		return err
	default:
		return fmt.Errorf("%w: unknown write op %d", ErrDecode, rec.Op)
	}
}

// abort discards txnID's write set without applying any of it.
func (tm *TransactionManager) abort(txnID int) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	txn, err := tm.requireActive(txnID)
	if err != nil {
		return err
	}
	txn.state = txnAborted
	delete(tm.txns, txnID)
	return nil
}
