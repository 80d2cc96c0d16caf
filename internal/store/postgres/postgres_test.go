package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{codeSerializationFailure, store.ErrTxConflict},
		{codeDeadlockDetected, store.ErrTxConflict},
		{codeCheckViolation, domain.ErrNegativeBalance},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code, Message: "boom"})
			assert.ErrorIs(t, classify(err), tt.want)
		})
	}

	plain := errors.New("connection reset")
	assert.Equal(t, plain, classify(plain))
}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "100", "12.3456", "0.0001", "98765432109876.5432"} {
		d := decimal.RequireFromString(s)
		assert.True(t, fromNumeric(toNumeric(d)).Equal(d), s)
	}
}
