package domain

import "errors"

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSameAccount       = errors.New("cannot transfer to the same account")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeBalance   = errors.New("balance cannot be negative")

	// ErrAlreadySettled is informational: approval of a terminal transfer
	// reports its status instead of returning this.
	ErrAlreadySettled    = errors.New("transfer already settled")
	ErrInvalidTransition = errors.New("invalid transfer status transition")

	// ErrUnavailable means conflict retries were exhausted; the caller may retry.
	ErrUnavailable = errors.New("ledger temporarily unavailable")
	// ErrStoreUnavailable is a fatal store failure; no partial state was committed.
	ErrStoreUnavailable = errors.New("account store unavailable")
)
