package repo

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/graph"
)

// ErrTransactionFinished guards against use-after-finish.
var ErrTransactionFinished = errors.New("transaction already finished")

// Transaction is a mutable staging area bound to one base operation. It
// holds a working copy of the base view; commit and tree objects written
// through it go straight into the content-addressed store, where they
// stay inert orphans unless the transaction finishes and the new view
// references them. There is no internal concurrency: only one goroutine
// may drive a transaction and call Finish.
type Transaction struct {
	repo     *Repository
	baseOp   *core.Operation
	view     *core.View
	finished bool
}

// StartTransaction opens a transaction on the current (reconciled)
// operation.
func (r *Repository) StartTransaction() (*Transaction, error) {
	op, err := r.CurrentOperation(true)
	if err != nil {
		return nil, err
	}
	return r.StartTransactionAt(op)
}

// StartTransactionAt opens a transaction on a specific base operation.
func (r *Repository) StartTransactionAt(base *core.Operation) (*Transaction, error) {
	baseView, err := r.Store.GetView(base.ViewID)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		repo:   r,
		baseOp: base,
		view:   baseView.Clone(),
	}, nil
}

// Repo returns the owning repository.
func (tx *Transaction) Repo() *Repository { return tx.repo }

// BaseOperation returns the operation this transaction was started from.
func (tx *Transaction) BaseOperation() *core.Operation { return tx.baseOp }

// View returns the mutable view. Callers may edit bookmarks, heads and
// working-copy pointers on it directly.
func (tx *Transaction) View() *core.View { return tx.view }

// WriteCommit stores a commit and registers it as a visible head.
// Non-maximal heads are pruned when the transaction finishes.
func (tx *Transaction) WriteCommit(c *core.Commit) (core.CommitID, error) {
	if tx.finished {
		return core.CommitID{}, ErrTransactionFinished
	}
	id, err := tx.repo.Store.WriteCommit(c)
	if err != nil {
		return core.CommitID{}, err
	}
	tx.view.AddHead(id)
	return id, nil
}

// NewCommit authors and writes a fresh commit with a new change id.
func (tx *Transaction) NewCommit(parents []core.CommitID, treeID core.MergedTreeID, description string) (*core.Commit, error) {
	c := tx.repo.newCommitData(parents, treeID, description)
	if _, err := tx.WriteCommit(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Finish seals the transaction: prune the head set to its maxima, write
// the view and the new operation, and swap the op-heads record from the
// base operation to the new one.
//
// A transaction whose view is identical to its base writes nothing and
// reports changed=false ("nothing changed"); the base operation remains
// head.
//
// Losing a head race to a concurrent writer is not an error and is
// never retried: the new operation is still parented on the base, the
// op-heads set simply ends up with an extra leaf, and the next reader
// reconciles.
func (tx *Transaction) Finish(description string) (core.OperationID, bool, error) {
	if tx.finished {
		return core.OperationID{}, false, ErrTransactionFinished
	}
	tx.finished = true

	heads, err := graph.Maxima(tx.repo.Store, tx.view.HeadIDs)
	if err != nil {
		return core.OperationID{}, false, fmt.Errorf("prune heads: %w", err)
	}
	tx.view.HeadIDs = heads

	viewID, err := tx.repo.Store.WriteView(tx.view)
	if err != nil {
		return core.OperationID{}, false, err
	}
	if viewID == tx.baseOp.ViewID {
		tx.repo.Logger.Debug("transaction is a no-op", zap.String("description", description))
		return tx.baseOp.ID, false, nil
	}

	op := &core.Operation{
		V:         1,
		ParentIDs: []core.OperationID{tx.baseOp.ID},
		ViewID:    viewID,
		Metadata:  tx.repo.NewMetadata(description),
	}
	opID, err := tx.repo.Store.WriteOperation(op)
	if err != nil {
		return core.OperationID{}, false, err
	}
	if err := tx.repo.OpHeads.Update([]core.OperationID{tx.baseOp.ID}, opID); err != nil {
		return core.OperationID{}, false, err
	}

	tx.repo.Logger.Info("transaction finished",
		zap.String("operation", opID.Short()),
		zap.String("description", description))
	return opID, true, nil
}
