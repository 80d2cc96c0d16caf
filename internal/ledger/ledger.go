// Package ledger owns the transfer state machine. Every balance or transfer
// mutation happens inside one store transaction driven from here; lost write
// conflicts are retried a bounded number of times.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/store"
)

// MoneyScale is the number of decimal places amounts and balances carry.
const MoneyScale = 4

// MaxIntegerDigits bounds the digits left of the decimal point, matching the
// NUMERIC(20,4) columns.
const MaxIntegerDigits = 16

type Config struct {
	// MaxAttempts bounds how many times a conflicting transaction is run.
	MaxAttempts int
	// TxTimeout bounds a single attempt.
	TxTimeout time.Duration
	// RetryBase is the first backoff interval between attempts.
	RetryBase time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		TxTimeout:   5 * time.Second,
		RetryBase:   10 * time.Millisecond,
	}
}

type Ledger struct {
	store  store.AccountStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(s store.AccountStore, cfg Config, logger *zap.Logger) *Ledger {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateTransfer records a pending transfer and references it from both
// accounts' histories in one transaction. No balance moves.
func (l *Ledger) CreateTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (uuid.UUID, error) {
	amount, err := validateAmount(amount)
	if err != nil {
		return uuid.Nil, err
	}
	if from == to {
		return uuid.Nil, domain.ErrSameAccount
	}

	var created *domain.Transfer
	err = l.run(ctx, "create", func(ctx context.Context, tx store.Tx) error {
		sender, _, err := lockPair(ctx, tx, from, to)
		if err != nil {
			return err
		}

		// Admission check only: funds are not reserved.
		if !sender.CanCover(amount) {
			return domain.ErrInsufficientFunds
		}

		t := domain.NewTransfer(from, to, amount, l.now())
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, from, t.ID); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, to, t.ID); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	transfersCreated.Inc()
	l.logger.Info("transfer created",
		zap.String("transfer_id", created.ID.String()),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.String()))
	return created.ID, nil
}

// ApproveTransfer settles a pending transfer on behalf of its recipient.
//
// A terminal transfer is reported as is with AlreadySettled set. If the
// sender can no longer cover the amount the transfer is committed as failed
// and the settlement carries ErrInsufficientFunds as its Reason; that is an
// outcome, not an error.
func (l *Ledger) ApproveTransfer(ctx context.Context, id uuid.UUID, toEmail string) (*domain.Settlement, error) {
	var out domain.Settlement
	err := l.run(ctx, "approve", func(ctx context.Context, tx store.Tx) error {
		out = domain.Settlement{TransferID: id}

		// 1. Resolve through the recipient's history.
		listed, err := tx.HistoryContains(ctx, toEmail, id)
		if err != nil {
			return err
		}
		if !listed {
			return domain.ErrTransferNotFound
		}
		t, err := tx.Transfer(ctx, id)
		if err != nil {
			return err
		}
		if t.ToEmail != toEmail {
			return domain.ErrTransferNotFound
		}

		// 2. Idempotent short-circuit.
		if t.Status.IsTerminal() {
			out.Status = t.Status
			out.AlreadySettled = true
			if t.Status == domain.StatusFailed {
				out.Reason = domain.ErrInsufficientFunds
			}
			return nil
		}

		// 3. Both parties, locked in a fixed order.
		sender, recipient, err := lockPair(ctx, tx, t.FromEmail, t.ToEmail)
		if err != nil {
			return err
		}

		now := l.now()

		// 4. Balance may have moved since creation.
		if !sender.CanCover(t.Amount) {
			if err := t.Transition(domain.StatusFailed, now); err != nil {
				return err
			}
			if err := tx.UpdateTransferStatus(ctx, t); err != nil {
				return err
			}
			out.Status = domain.StatusFailed
			out.Reason = domain.ErrInsufficientFunds
			return nil
		}

		// 5. Debit, credit and complete together.
		err = putPair(ctx, tx,
			sender.Email, sender.Balance.Sub(t.Amount),
			recipient.Email, recipient.Balance.Add(t.Amount))
		if err != nil {
			return err
		}
		if err := t.Transition(domain.StatusCompleted, now); err != nil {
			return err
		}
		if err := tx.UpdateTransferStatus(ctx, t); err != nil {
			return err
		}
		out.Status = domain.StatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	settlements.WithLabelValues(string(out.Status), strconv.FormatBool(out.AlreadySettled)).Inc()
	l.logger.Info("transfer approved",
		zap.String("transfer_id", id.String()),
		zap.String("to", toEmail),
		zap.String("status", string(out.Status)),
		zap.Bool("already_settled", out.AlreadySettled))
	return &out, nil
}

// ListTransfers returns email's transfer history in creation order.
func (l *Ledger) ListTransfers(ctx context.Context, email string) ([]domain.Transfer, error) {
	transfers, err := l.store.History(ctx, email)
	if err != nil {
		return nil, l.finish("list", err)
	}
	return transfers, nil
}

func (l *Ledger) GetAccount(ctx context.Context, email string) (*domain.Account, error) {
	acc, err := l.store.Account(ctx, email)
	if err != nil {
		return nil, l.finish("get_account", err)
	}
	return acc, nil
}

// CreateAccount opens an account with a non-negative opening balance.
func (l *Ledger) CreateAccount(ctx context.Context, email string, balance decimal.Decimal) (*domain.Account, error) {
	balance, err := validateBalance(balance)
	if err != nil {
		return nil, err
	}
	now := l.now()
	acc := &domain.Account{Email: email, Balance: balance, CreatedAt: now, UpdatedAt: now}
	if err := l.store.CreateAccount(ctx, acc); err != nil {
		return nil, l.finish("create_account", err)
	}
	l.logger.Info("account created", zap.String("email", email), zap.String("balance", balance.String()))
	return acc, nil
}

// SetBalance is the administrative balance override.
func (l *Ledger) SetBalance(ctx context.Context, email string, balance decimal.Decimal) error {
	balance, err := validateBalance(balance)
	if err != nil {
		return err
	}
	err = l.run(ctx, "set_balance", func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Account(ctx, email); err != nil {
			return err
		}
		return tx.PutBalance(ctx, email, balance)
	})
	if err != nil {
		return err
	}
	l.logger.Info("balance overridden", zap.String("email", email), zap.String("balance", balance.String()))
	return nil
}

// run executes fn in a store transaction, re-running it on write conflicts
// with exponential backoff until MaxAttempts is reached.
func (l *Ledger) run(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	timer := prometheus.NewTimer(txDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.RetryBase
	bo.MaxInterval = 50 * l.cfg.RetryBase
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		txCtx, cancel := context.WithTimeout(ctx, l.cfg.TxTimeout)
		defer cancel()

		err := l.store.WithTx(txCtx, func(tx store.Tx) error {
			return fn(txCtx, tx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrTxConflict) {
			txConflicts.WithLabelValues(op).Inc()
			l.logger.Debug("transaction conflict",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	// WithMaxRetries treats zero as unlimited.
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if l.cfg.MaxAttempts > 1 {
		policy = backoff.WithMaxRetries(bo, uint64(l.cfg.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)
	err := backoff.Retry(operation, policy)
	if err != nil && errors.Is(err, store.ErrTxConflict) {
		txRetriesExhausted.WithLabelValues(op).Inc()
		l.logger.Warn("giving up after conflicts", zap.String("op", op), zap.Int("attempts", attempt))
		return fmt.Errorf("%w: %s aborted after %d conflicting attempts", domain.ErrUnavailable, op, attempt)
	}
	return l.finish(op, err)
}

// finish passes domain errors and caller cancellation through and folds
// everything else into ErrStoreUnavailable.
func (l *Ledger) finish(op string, err error) error {
	if err == nil || isDomainError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	l.logger.Error("store failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

var domainErrors = []error{
	domain.ErrInvalidAmount,
	domain.ErrSameAccount,
	domain.ErrAccountNotFound,
	domain.ErrAccountExists,
	domain.ErrTransferNotFound,
	domain.ErrInsufficientFunds,
	domain.ErrNegativeBalance,
	domain.ErrUnavailable,
	domain.ErrStoreUnavailable,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// lockPair reads both accounts in email order. The MySQL adapter locks rows
// on read, so its transactions over the same pair lock in the same order.
func lockPair(ctx context.Context, tx store.Tx, from, to string) (sender, recipient *domain.Account, err error) {
	first, second := from, to
	if first > second {
		first, second = second, first
	}

	a, err := tx.Account(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := tx.Account(ctx, second)
	if err != nil {
		return nil, nil, err
	}

	if a.Email == from {
		return a, b, nil
	}
	return b, a, nil
}

// putPair writes both balances in email order. Postgres takes row locks on
// UPDATE, so a fixed order keeps opposite-direction approvals from
// deadlocking each other.
func putPair(ctx context.Context, tx store.Tx, emailA string, balA decimal.Decimal, emailB string, balB decimal.Decimal) error {
	if emailA > emailB {
		emailA, emailB = emailB, emailA
		balA, balB = balB, balA
	}
	if err := tx.PutBalance(ctx, emailA, balA); err != nil {
		return err
	}
	return tx.PutBalance(ctx, emailB, balB)
}

// checkMoney bounds v's magnitude and precision before any arithmetic.
// Comparisons rescale both operands to a common exponent, so an exponent
// like 1e2000000000 has to be rejected from its digit count alone.
func checkMoney(v decimal.Decimal) (decimal.Decimal, error) {
	if v.IsZero() {
		return decimal.Zero, nil
	}
	digits := int64(v.NumDigits())
	exp := int64(v.Exponent())
	if digits+exp > MaxIntegerDigits {
		return decimal.Decimal{}, domain.ErrInvalidAmount
	}
	// Every significant digit sits past the last allowed decimal place.
	if -exp-MoneyScale >= digits {
		return decimal.Decimal{}, domain.ErrInvalidAmount
	}
	if !v.Equal(v.Truncate(MoneyScale)) {
		return decimal.Decimal{}, domain.ErrInvalidAmount
	}
	return v, nil
}

func validateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Decimal{}, domain.ErrInvalidAmount
	}
	return checkMoney(amount)
}

func validateBalance(balance decimal.Decimal) (decimal.Decimal, error) {
	if balance.IsNegative() {
		return decimal.Decimal{}, domain.ErrNegativeBalance
	}
	return checkMoney(balance)
}
