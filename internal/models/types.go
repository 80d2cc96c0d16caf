package models

import (
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferledger/internal/domain"
)

// CreateAccountRequest is the payload for opening an account.
type CreateAccountRequest struct {
	Email   string          `json:"email"`
	Balance decimal.Decimal `json:"balance"`
}

// SetBalanceRequest is the administrative balance override. Balance is
// nullable so an absent or null value is rejected instead of read as zero.
type SetBalanceRequest struct {
	Email   string              `json:"email"`
	Balance decimal.NullDecimal `json:"balance"`
}

// TransferRequest is the payload from the client.
type TransferRequest struct {
	FromEmail string          `json:"from_email"`
	ToEmail   string          `json:"to_email"`
	Amount    decimal.Decimal `json:"amount"`
}

// TransferResponse is returned for a newly created (or replayed) transfer.
type TransferResponse struct {
	TransferID string                `json:"transfer_id"`
	Status     domain.TransferStatus `json:"status"`
}

// ApprovalRequest names the transfer and the recipient confirming it.
type ApprovalRequest struct {
	TransferID string `json:"transfer_id"`
	ToEmail    string `json:"to_email"`
}

// ApprovalResponse reports the settlement outcome. A failed settlement is a
// successful call with Status "failed" and a Reason.
type ApprovalResponse struct {
	TransferID     string                `json:"transfer_id"`
	Status         domain.TransferStatus `json:"status"`
	AlreadySettled bool                  `json:"already_settled"`
	Reason         string                `json:"reason,omitempty"`
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	Email        string          `json:"email"`
	Balance      decimal.Decimal `json:"balance"`
	TransferRefs []string        `json:"transfer_refs"`
}

func NewAccountResponse(a *domain.Account) AccountResponse {
	refs := make([]string, 0, len(a.TransferRefs))
	for _, id := range a.TransferRefs {
		refs = append(refs, id.String())
	}
	return AccountResponse{Email: a.Email, Balance: a.Balance, TransferRefs: refs}
}
