package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/store"
)

// MySQL server error numbers the store reacts to.
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

type accountRow struct {
	Email     string          `gorm:"primaryKey;size:255"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (*accountRow) TableName() string { return "accounts" }

type transferRow struct {
	ID        string          `gorm:"primaryKey;size:36"`
	FromEmail string          `gorm:"size:255;not null"`
	ToEmail   string          `gorm:"size:255;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Status    string          `gorm:"size:16;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (*transferRow) TableName() string { return "transfers" }

func (r *transferRow) toDomain() (*domain.Transfer, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse transfer id %q: %w", r.ID, err)
	}
	return &domain.Transfer{
		ID:        id,
		FromEmail: r.FromEmail,
		ToEmail:   r.ToEmail,
		Amount:    r.Amount,
		Status:    domain.TransferStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// historyRow is one entry of an account's ordered transfer history.
type historyRow struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	Email      string `gorm:"size:255;not null;uniqueIndex:idx_history_ref;index:idx_history_order,priority:1"`
	TransferID string `gorm:"size:36;not null;uniqueIndex:idx_history_ref"`
}

func (*historyRow) TableName() string { return "account_transfers" }

type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// EnsureSchema creates or updates the tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&accountRow{}, &transferRow{}, &historyRow{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx implements store.AccountStore.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&gormTx{db: gtx})
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	return classify(err)
}

// CreateAccount implements store.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	row := accountRow{Email: acc.Email, Balance: acc.Balance}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		var myErr *mysqldriver.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
			return domain.ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Account implements store.AccountStore.
func (s *Store) Account(ctx context.Context, email string) (*domain.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}

	var refs []historyRow
	if err := s.db.WithContext(ctx).Where("email = ?", email).Order("seq").Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("select history refs: %w", err)
	}

	acc := &domain.Account{
		Email:     row.Email,
		Balance:   row.Balance,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	for _, r := range refs {
		id, err := uuid.Parse(r.TransferID)
		if err != nil {
			return nil, fmt.Errorf("parse history ref %q: %w", r.TransferID, err)
		}
		acc.TransferRefs = append(acc.TransferRefs, id)
	}
	return acc, nil
}

// History implements store.AccountStore.
func (s *Store) History(ctx context.Context, email string) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		var count int64
		if err := gtx.Model(&accountRow{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrAccountNotFound
		}

		var rows []transferRow
		err := gtx.Table("account_transfers AS h").
			Select("t.*").
			Joins("JOIN transfers t ON t.id = h.transfer_id").
			Where("h.email = ?", email).
			Order("h.seq").
			Scan(&rows).Error
		if err != nil {
			return err
		}

		out = make([]domain.Transfer, 0, len(rows))
		for i := range rows {
			t, err := rows[i].toDomain()
			if err != nil {
				return err
			}
			out = append(out, *t)
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("select history: %w", err)
	}
	return out, nil
}

// classify tags deadlocks and lock wait timeouts with store.ErrTxConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errDeadlock, errLockWaitTimeout:
			return fmt.Errorf("%w: %s", store.ErrTxConflict, myErr.Message)
		}
	}
	return err
}

var _ store.AccountStore = (*Store)(nil)
