package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/store"
)

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) locked(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) Account(ctx context.Context, email string) (*domain.Account, error) {
	var row accountRow
	if err := t.locked(ctx).Where("email = ?", email).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("select account: %w", classify(err))
	}
	return &domain.Account{
		Email:     row.Email,
		Balance:   row.Balance,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (t *gormTx) PutBalance(ctx context.Context, email string, balance decimal.Decimal) error {
	res := t.db.WithContext(ctx).Model(&accountRow{}).
		Where("email = ?", email).
		Updates(map[string]any{"balance": balance, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("update balance: %w", classify(res.Error))
	}
	// RowsAffected is 0 for an unchanged row, so existence comes from the
	// locking read that precedes every write.
	return nil
}

func (t *gormTx) Transfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	var row transferRow
	if err := t.locked(ctx).Where("id = ?", id.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("select transfer: %w", classify(err))
	}
	return row.toDomain()
}

func (t *gormTx) HistoryContains(ctx context.Context, email string, id uuid.UUID) (bool, error) {
	var count int64
	err := t.db.WithContext(ctx).Model(&historyRow{}).
		Where("email = ? AND transfer_id = ?", email, id.String()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check history: %w", classify(err))
	}
	return count > 0, nil
}

func (t *gormTx) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	row := transferRow{
		ID:        tr.ID.String(),
		FromEmail: tr.FromEmail,
		ToEmail:   tr.ToEmail,
		Amount:    tr.Amount,
		Status:    string(tr.Status),
		CreatedAt: tr.CreatedAt,
		UpdatedAt: tr.UpdatedAt,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		var myErr *mysqldriver.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
			return fmt.Errorf("%w: duplicate transfer id %s", store.ErrTxConflict, tr.ID)
		}
		return fmt.Errorf("insert transfer: %w", classify(err))
	}
	return nil
}

func (t *gormTx) AppendHistory(ctx context.Context, email string, id uuid.UUID) error {
	row := historyRow{Email: email, TransferID: id.String()}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append history: %w", classify(err))
	}
	return nil
}

func (t *gormTx) UpdateTransferStatus(ctx context.Context, tr *domain.Transfer) error {
	res := t.db.WithContext(ctx).Model(&transferRow{}).
		Where("id = ?", tr.ID.String()).
		Updates(map[string]any{"status": string(tr.Status), "updated_at": tr.UpdatedAt})
	if res.Error != nil {
		return fmt.Errorf("update transfer status: %w", classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return domain.ErrTransferNotFound
	}
	return nil
}

var _ store.Tx = (*gormTx)(nil)
