package inbox

import (
	"context"

	"github.com/overtonx/eventrelay"
)

// UnitOfWork runs op atomically. *eventrelay.Relay satisfies it: events the handler raises are then stored in
// the same transaction as the ledger row and published after the commit.
type UnitOfWork interface {
	Execute(ctx context.Context, correlationID string, op func(ctx context.Context) error) error
}

var _ UnitOfWork = (*eventrelay.Relay)(nil)

// TxUnitOfWork adapts a plain transaction manager for consumers that raise no events.
type TxUnitOfWork struct {
	txManager eventrelay.TxManager
}

func NewTxUnitOfWork(txManager eventrelay.TxManager) *TxUnitOfWork {
	return &TxUnitOfWork{txManager: txManager}
}

func (u *TxUnitOfWork) Execute(ctx context.Context, _ string, op func(ctx context.Context) error) error {
	return u.txManager.Do(ctx, op)
}
