//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/ledger"
)

// setupPostgres starts a disposable PostgreSQL container and returns a store
// with the schema applied.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "ledger",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/ledger?sslmode=disable", host, port.Port())
	s, err := NewStore(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestIntegration_TransferLifecycle(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	l := ledger.New(s, ledger.Config{MaxAttempts: 10, TxTimeout: 5 * time.Second, RetryBase: 5 * time.Millisecond}, zaptest.NewLogger(t))

	_, err := l.CreateAccount(ctx, "alice@example.com", decimal.RequireFromString("100.5"))
	require.NoError(t, err)
	_, err = l.CreateAccount(ctx, "bob@example.com", decimal.Zero)
	require.NoError(t, err)
	_, err = l.CreateAccount(ctx, "alice@example.com", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrAccountExists)

	id, err := l.CreateTransfer(ctx, "alice@example.com", "bob@example.com", decimal.RequireFromString("40.25"))
	require.NoError(t, err)

	// Concurrent approvals: one settles, the rest observe the settled state.
	const n = 8
	var wg sync.WaitGroup
	results := make([]*domain.Settlement, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			s, err := l.ApproveTransfer(ctx, id, "bob@example.com")
			if assert.NoError(t, err) {
				results[i] = s
			}
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, domain.StatusCompleted, r.Status)
		if !r.AlreadySettled {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	alice, err := l.GetAccount(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.RequireFromString("60.25")), alice.Balance.String())
	assert.Len(t, alice.TransferRefs, 1)

	history, err := l.ListTransfers(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ID)
	assert.Equal(t, domain.StatusCompleted, history[0].Status)
	assert.True(t, history[0].Amount.Equal(decimal.RequireFromString("40.25")))
}

func TestIntegration_FailedSettlement(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	l := ledger.New(s, ledger.DefaultConfig(), zaptest.NewLogger(t))

	for email, bal := range map[string]string{"a@example.com": "10", "b@example.com": "0"} {
		_, err := l.CreateAccount(ctx, email, decimal.RequireFromString(bal))
		require.NoError(t, err)
	}

	id, err := l.CreateTransfer(ctx, "a@example.com", "b@example.com", decimal.NewFromInt(8))
	require.NoError(t, err)
	require.NoError(t, l.SetBalance(ctx, "a@example.com", decimal.NewFromInt(5)))

	settlement, err := l.ApproveTransfer(ctx, id, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, settlement.Status)
	assert.ErrorIs(t, settlement.Reason, domain.ErrInsufficientFunds)

	a, err := l.GetAccount(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(5)))
}
