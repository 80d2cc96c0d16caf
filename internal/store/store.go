// Package store defines the keyed account store the ledger runs its
// transactions against. Adapters live in the postgres, mysql and memory
// subpackages.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferledger/internal/domain"
)

// ErrTxConflict is returned by WithTx when the transaction lost a write
// conflict and was rolled back. The whole unit of work is safe to re-run.
var ErrTxConflict = errors.New("transaction conflict")

// Tx is the view of the store inside one transaction. Reads observe a
// consistent snapshot; writes become visible together on commit.
type Tx interface {
	// Account loads an account without its history.
	Account(ctx context.Context, email string) (*domain.Account, error)
	PutBalance(ctx context.Context, email string, balance decimal.Decimal) error

	Transfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	// HistoryContains reports whether id is referenced from email's history.
	HistoryContains(ctx context.Context, email string, id uuid.UUID) (bool, error)
	InsertTransfer(ctx context.Context, t *domain.Transfer) error
	// AppendHistory appends id to the end of email's transfer history.
	AppendHistory(ctx context.Context, email string, id uuid.UUID) error
	UpdateTransferStatus(ctx context.Context, t *domain.Transfer) error
}

// AccountStore is the durable keyed store consumed by the ledger.
type AccountStore interface {
	// WithTx begins a transaction, runs fn and commits if fn returns nil.
	// Any error from fn aborts the transaction and is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateAccount(ctx context.Context, acc *domain.Account) error
	// Account returns the account including its transfer history.
	Account(ctx context.Context, email string) (*domain.Account, error)
	// History returns the transfers referenced by email in history order.
	History(ctx context.Context, email string) ([]domain.Transfer, error)

	Close() error
}
