// Package postgres implements store.AccountStore on PostgreSQL via pgx.
// Transactions run at REPEATABLE READ, so every read inside one sees a single
// snapshot and concurrent writers to the same row fail with a serialization
// error instead of overwriting each other.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// SQLSTATE codes the store reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

type Store struct {
	Db     *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(ctx context.Context, connString string, logger *zap.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool, logger: logger}, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.Db.Close()
	return nil
}

// WithTx implements store.AccountStore.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", classify(err))
	}
	return nil
}

// CreateAccount implements store.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO accounts (email, balance) VALUES ($1, $2)",
		acc.Email, toNumeric(acc.Balance),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return domain.ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", classify(err))
	}
	return nil
}

// Account implements store.AccountStore.
func (s *Store) Account(ctx context.Context, email string) (*domain.Account, error) {
	var acc domain.Account
	var balance pgtype.Numeric
	err := s.Db.QueryRow(ctx,
		"SELECT email, balance, created_at, updated_at FROM accounts WHERE email = $1",
		email,
	).Scan(&acc.Email, &balance, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("select account: %w", classify(err))
	}
	acc.Balance = fromNumeric(balance)

	rows, err := s.Db.Query(ctx,
		"SELECT transfer_id FROM account_transfers WHERE email = $1 ORDER BY seq",
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("select history refs: %w", classify(err))
	}
	acc.TransferRefs, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan history refs: %w", err)
	}
	return &acc, nil
}

// History implements store.AccountStore. Account existence and the history
// rows are read in one snapshot.
func (s *Store) History(ctx context.Context, email string) ([]domain.Transfer, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)", email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check account: %w", classify(err))
	}
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	rows, err := tx.Query(ctx, `
		SELECT t.id, t.from_email, t.to_email, t.amount, t.status, t.created_at, t.updated_at
		FROM account_transfers h
		JOIN transfers t ON t.id = h.transfer_id
		WHERE h.email = $1
		ORDER BY h.seq`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", classify(err))
	}
	defer rows.Close()

	transfers := []domain.Transfer{}
	for rows.Next() {
		var t domain.Transfer
		var amount pgtype.Numeric
		if err := rows.Scan(&t.ID, &t.FromEmail, &t.ToEmail, &amount, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			s.logger.Error("scan transfer row", zap.String("email", email), zap.Error(err))
			return nil, fmt.Errorf("scan history: %w", err)
		}
		t.Amount = fromNumeric(amount)
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", classify(err))
	}
	return transfers, nil
}

// classify tags lost write conflicts with store.ErrTxConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", store.ErrTxConflict, pgErr.Message)
		case codeCheckViolation:
			return fmt.Errorf("%w: %s", domain.ErrNegativeBalance, pgErr.Message)
		}
	}
	return err
}

var _ store.AccountStore = (*Store)(nil)
