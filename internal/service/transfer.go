package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/idempotency"
	"github.com/punchamoorthee/transferledger/internal/models"
)

var (
	ErrInvalidEmail   = errors.New("a valid email address is required")
	ErrMissingBalance = errors.New("balance is required")
)

// Ledger is the part of the transfer ledger the service drives.
type Ledger interface {
	CreateTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (uuid.UUID, error)
	ApproveTransfer(ctx context.Context, id uuid.UUID, toEmail string) (*domain.Settlement, error)
	ListTransfers(ctx context.Context, email string) ([]domain.Transfer, error)
	GetAccount(ctx context.Context, email string) (*domain.Account, error)
	CreateAccount(ctx context.Context, email string, balance decimal.Decimal) (*domain.Account, error)
	SetBalance(ctx context.Context, email string, balance decimal.Decimal) error
}

// TransferService validates request shape and maps ledger outcomes to
// caller-facing results.
type TransferService struct {
	ledger Ledger
	idem   idempotency.Store
	logger *zap.Logger
}

func NewTransferService(l Ledger, idem idempotency.Store, logger *zap.Logger) *TransferService {
	if idem == nil {
		idem = idempotency.NewMemoryStore(idempotency.DefaultTTL)
	}
	return &TransferService{ledger: l, idem: idem, logger: logger}
}

// CreateTransfer creates a pending transfer. With a non-empty key, a retry
// carrying the same key and body returns the stored record instead.
func (s *TransferService) CreateTransfer(ctx context.Context, req models.TransferRequest, idempotencyKey, reqHash string) (*models.TransferResponse, *idempotency.Record, error) {
	from, err := normalizeEmail(req.FromEmail)
	if err != nil {
		return nil, nil, err
	}
	to, err := normalizeEmail(req.ToEmail)
	if err != nil {
		return nil, nil, err
	}

	if idempotencyKey == "" {
		resp, err := s.createTransfer(ctx, from, to, req.Amount)
		return resp, nil, err
	}

	// 1. Idempotency check and reservation
	existing, err := s.idem.Reserve(ctx, idempotencyKey, reqHash)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if existing != nil {
		rec, err := idempotency.Check(existing, reqHash)
		if err != nil {
			return nil, nil, err
		}
		return nil, rec, nil
	}

	// 2. Execute
	resp, err := s.createTransfer(ctx, from, to, req.Amount)
	if err != nil {
		if relErr := s.idem.Release(context.WithoutCancel(ctx), idempotencyKey); relErr != nil {
			s.logger.Warn("release idempotency key", zap.String("key", idempotencyKey), zap.Error(relErr))
		}
		return nil, nil, err
	}

	// 3. Finalize
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, err
	}
	rec := idempotency.Record{
		RequestHash:    reqHash,
		ResponseStatus: http.StatusCreated,
		ResponseBody:   body,
	}
	if err := s.idem.Complete(context.WithoutCancel(ctx), idempotencyKey, rec); err != nil {
		// The transfer exists; a replay with this key will now report in-flight.
		s.logger.Error("complete idempotency key", zap.String("key", idempotencyKey), zap.Error(err))
	}
	return resp, nil, nil
}

func (s *TransferService) createTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (*models.TransferResponse, error) {
	id, err := s.ledger.CreateTransfer(ctx, from, to, amount)
	if err != nil {
		return nil, err
	}
	return &models.TransferResponse{TransferID: id.String(), Status: domain.StatusPending}, nil
}

// ApproveTransfer settles a transfer on behalf of its recipient.
func (s *TransferService) ApproveTransfer(ctx context.Context, req models.ApprovalRequest) (*models.ApprovalResponse, error) {
	id, err := uuid.Parse(strings.TrimSpace(req.TransferID))
	if err != nil {
		return nil, domain.ErrTransferNotFound
	}
	to, err := normalizeEmail(req.ToEmail)
	if err != nil {
		return nil, err
	}

	settlement, err := s.ledger.ApproveTransfer(ctx, id, to)
	if err != nil {
		return nil, err
	}

	resp := &models.ApprovalResponse{
		TransferID:     settlement.TransferID.String(),
		Status:         settlement.Status,
		AlreadySettled: settlement.AlreadySettled,
	}
	if settlement.Reason != nil {
		resp.Reason = settlement.Reason.Error()
	}
	return resp, nil
}

func (s *TransferService) ListTransfers(ctx context.Context, email string) ([]domain.Transfer, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListTransfers(ctx, email)
}

func (s *TransferService) GetAccount(ctx context.Context, email string) (*models.AccountResponse, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	acc, err := s.ledger.GetAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	resp := models.NewAccountResponse(acc)
	return &resp, nil
}

func (s *TransferService) CreateAccount(ctx context.Context, req models.CreateAccountRequest) (*models.AccountResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	acc, err := s.ledger.CreateAccount(ctx, email, req.Balance)
	if err != nil {
		return nil, err
	}
	resp := models.NewAccountResponse(acc)
	return &resp, nil
}

func (s *TransferService) SetBalance(ctx context.Context, req models.SetBalanceRequest) error {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return err
	}
	if !req.Balance.Valid {
		return ErrMissingBalance
	}
	return s.ledger.SetBalance(ctx, email, req.Balance.Decimal)
}

// normalizeEmail lowercases and checks the address is a bare email.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
