package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer_Transition(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTransfer("a@example.com", "b@example.com", decimal.NewFromInt(5), created)
	assert.Equal(t, StatusPending, tr.Status)
	assert.NotEqual(t, uuid.Nil, tr.ID)

	assert.ErrorIs(t, tr.Transition(StatusPending, created), ErrInvalidTransition)

	later := created.Add(time.Minute)
	require.NoError(t, tr.Transition(StatusFailed, later))
	assert.Equal(t, StatusFailed, tr.Status)
	assert.Equal(t, later, tr.UpdatedAt)
	assert.Equal(t, created, tr.CreatedAt)

	assert.ErrorIs(t, tr.Transition(StatusCompleted, later), ErrAlreadySettled)
	assert.Equal(t, StatusFailed, tr.Status)
}

func TestTransferStatus(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, TransferStatus("refunded").Valid())
}

func TestAccount_CloneDoesNotShareHistory(t *testing.T) {
	a := &Account{Email: "a@example.com", Balance: decimal.NewFromInt(3), TransferRefs: []uuid.UUID{uuid.New()}}
	c := a.Clone()
	c.TransferRefs = append(c.TransferRefs, uuid.New())
	c.TransferRefs[0] = uuid.Nil

	assert.Len(t, a.TransferRefs, 1)
	assert.NotEqual(t, uuid.Nil, a.TransferRefs[0])
	assert.True(t, a.CanCover(decimal.NewFromInt(3)))
	assert.False(t, a.CanCover(decimal.RequireFromString("3.0001")))
}
