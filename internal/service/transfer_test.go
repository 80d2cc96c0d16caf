package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/idempotency"
	"github.com/punchamoorthee/transferledger/internal/ledger"
	"github.com/punchamoorthee/transferledger/internal/models"
	"github.com/punchamoorthee/transferledger/internal/store/memory"
)

func newService(t *testing.T) *TransferService {
	t.Helper()
	s, err := memory.New()
	require.NoError(t, err)
	l := ledger.New(s, ledger.Config{MaxAttempts: 5, TxTimeout: time.Second, RetryBase: time.Millisecond}, zaptest.NewLogger(t))
	svc := NewTransferService(l, idempotency.NewMemoryStore(time.Hour), zaptest.NewLogger(t))

	ctx := context.Background()
	_, err = svc.CreateAccount(ctx, models.CreateAccountRequest{Email: "alice@example.com", Balance: decimal.NewFromInt(100)})
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, models.CreateAccountRequest{Email: "bob@example.com"})
	require.NoError(t, err)
	return svc
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "alice@example.com", want: "alice@example.com"},
		{in: "  Alice@Example.COM ", want: "alice@example.com"},
		{in: "", wantErr: true},
		{in: "not-an-email", wantErr: true},
		{in: "Alice <alice@example.com>", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeEmail(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEmail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateTransfer_NormalizesParticipants(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	resp, _, err := svc.CreateTransfer(ctx, models.TransferRequest{
		FromEmail: "ALICE@example.com",
		ToEmail:   "Bob@Example.com",
		Amount:    decimal.NewFromInt(5),
	}, "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, resp.Status)

	history, err := svc.ListTransfers(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "alice@example.com", history[0].FromEmail)
}

func TestCreateTransfer_IdempotencyKey(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	req := models.TransferRequest{FromEmail: "alice@example.com", ToEmail: "bob@example.com", Amount: decimal.NewFromInt(5)}

	first, replay, err := svc.CreateTransfer(ctx, req, "key-1", "hash-1")
	require.NoError(t, err)
	require.Nil(t, replay)

	_, replay, err = svc.CreateTransfer(ctx, req, "key-1", "hash-1")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Contains(t, string(replay.ResponseBody), first.TransferID)

	_, _, err = svc.CreateTransfer(ctx, req, "key-1", "hash-2")
	assert.ErrorIs(t, err, idempotency.ErrMismatch)

	history, err := svc.ListTransfers(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, history, 1, "a replay must not create a second transfer")
}

func TestCreateTransfer_FailedRequestReleasesKey(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tooMuch := models.TransferRequest{FromEmail: "alice@example.com", ToEmail: "bob@example.com", Amount: decimal.NewFromInt(500)}
	_, _, err := svc.CreateTransfer(ctx, tooMuch, "key-2", "hash-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	ok := models.TransferRequest{FromEmail: "alice@example.com", ToEmail: "bob@example.com", Amount: decimal.NewFromInt(5)}
	resp, replay, err := svc.CreateTransfer(ctx, ok, "key-2", "hash-2")
	require.NoError(t, err)
	assert.Nil(t, replay)
	assert.NotEmpty(t, resp.TransferID)
}

func TestApproveTransfer(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, _, err := svc.CreateTransfer(ctx, models.TransferRequest{
		FromEmail: "alice@example.com", ToEmail: "bob@example.com", Amount: decimal.NewFromInt(30),
	}, "", "")
	require.NoError(t, err)

	resp, err := svc.ApproveTransfer(ctx, models.ApprovalRequest{TransferID: created.TransferID, ToEmail: "BOB@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.False(t, resp.AlreadySettled)
	assert.Empty(t, resp.Reason)

	acc, err := svc.GetAccount(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, []string{created.TransferID}, acc.TransferRefs)

	_, err = svc.ApproveTransfer(ctx, models.ApprovalRequest{TransferID: "not-a-uuid", ToEmail: "bob@example.com"})
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
	_, err = svc.ApproveTransfer(ctx, models.ApprovalRequest{TransferID: uuid.NewString(), ToEmail: "bad"})
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestApproveTransfer_FailedSettlementCarriesReason(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, _, err := svc.CreateTransfer(ctx, models.TransferRequest{
		FromEmail: "alice@example.com", ToEmail: "bob@example.com", Amount: decimal.NewFromInt(60),
	}, "", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetBalance(ctx, models.SetBalanceRequest{Email: "alice@example.com", Balance: decimal.NewNullDecimal(decimal.NewFromInt(10))}))

	resp, err := svc.ApproveTransfer(ctx, models.ApprovalRequest{TransferID: created.TransferID, ToEmail: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Status)
	assert.Equal(t, domain.ErrInsufficientFunds.Error(), resp.Reason)

	replay, err := svc.ApproveTransfer(ctx, models.ApprovalRequest{TransferID: created.TransferID, ToEmail: "bob@example.com"})
	require.NoError(t, err)
	assert.True(t, replay.AlreadySettled)
	assert.Equal(t, resp.Status, replay.Status)
	assert.Equal(t, resp.Reason, replay.Reason)
}

func TestSetBalance_RequiresValue(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	err := svc.SetBalance(ctx, models.SetBalanceRequest{Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrMissingBalance)

	acc, err := svc.GetAccount(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(100)))
}
