package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/store"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Account(ctx context.Context, email string) (*domain.Account, error) {
	var acc domain.Account
	var balance pgtype.Numeric
	err := t.tx.QueryRow(ctx,
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
	return &acc, nil
}

func (t *pgTx) PutBalance(ctx context.Context, email string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE accounts SET balance = $1, updated_at = $2 WHERE email = $3",
		toNumeric(balance), time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) Transfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	var tr domain.Transfer
	var amount pgtype.Numeric
	err := t.tx.QueryRow(ctx,
		"SELECT id, from_email, to_email, amount, status, created_at, updated_at FROM transfers WHERE id = $1",
		id,
	).Scan(&tr.ID, &tr.FromEmail, &tr.ToEmail, &amount, &tr.Status, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("select transfer: %w", classify(err))
	}
	tr.Amount = fromNumeric(amount)
	return &tr, nil
}

func (t *pgTx) HistoryContains(ctx context.Context, email string, id uuid.UUID) (bool, error) {
	var found bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM account_transfers WHERE email = $1 AND transfer_id = $2)",
		email, id,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check history: %w", classify(err))
	}
	return found, nil
}

func (t *pgTx) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transfers (id, from_email, to_email, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, tr.FromEmail, tr.ToEmail, toNumeric(tr.Amount), string(tr.Status), tr.CreatedAt, tr.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return fmt.Errorf("%w: duplicate transfer id %s", store.ErrTxConflict, tr.ID)
		}
		return fmt.Errorf("insert transfer: %w", classify(err))
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, email string, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO account_transfers (email, transfer_id) VALUES ($1, $2)",
		email, id,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", classify(err))
	}
	return nil
}

func (t *pgTx) UpdateTransferStatus(ctx context.Context, tr *domain.Transfer) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE transfers SET status = $1, updated_at = $2 WHERE id = $3",
		string(tr.Status), tr.UpdatedAt, tr.ID,
	)
	if err != nil {
		return fmt.Errorf("update transfer status: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransferNotFound
	}
	return nil
}

var _ store.Tx = (*pgTx)(nil)
