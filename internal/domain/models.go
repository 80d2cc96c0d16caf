package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a named holder of a balance. Balance only moves through
// ledger-approved mutations and never drops below zero.
type Account struct {
	Email        string          `json:"email"`
	Balance      decimal.Decimal `json:"balance"`
	TransferRefs []uuid.UUID     `json:"transfer_refs"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CanCover reports whether the current balance admits a debit of amount.
func (a *Account) CanCover(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// Clone returns a deep copy so callers never share the history slice.
func (a *Account) Clone() *Account {
	c := *a
	c.TransferRefs = append([]uuid.UUID(nil), a.TransferRefs...)
	return &c
}

// TransferStatus is the lifecycle state of a Transfer.
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusCompleted TransferStatus = "completed"
	StatusFailed    TransferStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TransferStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s TransferStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Transfer represents the intent to move a fixed amount between two accounts.
// There is exactly one record per id; both participants reference it by id.
type Transfer struct {
	ID        uuid.UUID       `json:"id"`
	FromEmail string          `json:"from_email"`
	ToEmail   string          `json:"to_email"`
	Amount    decimal.Decimal `json:"amount"`
	Status    TransferStatus  `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewTransfer allocates a pending transfer with a fresh id.
func NewTransfer(from, to string, amount decimal.Decimal, now time.Time) *Transfer {
	return &Transfer{
		ID:        uuid.New(),
		FromEmail: from,
		ToEmail:   to,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves a pending transfer into a terminal state.
func (t *Transfer) Transition(to TransferStatus, now time.Time) error {
	if t.Status.IsTerminal() {
		return ErrAlreadySettled
	}
	if !to.IsTerminal() {
		return ErrInvalidTransition
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// Settlement is the outcome of an approval attempt.
// AlreadySettled is set when the transfer was terminal before the call and
// nothing was applied. Reason carries ErrInsufficientFunds for a failed
// settlement.
type Settlement struct {
	TransferID     uuid.UUID      `json:"transfer_id"`
	Status         TransferStatus `json:"status"`
	AlreadySettled bool           `json:"already_settled"`
	Reason         error          `json:"-"`
}
