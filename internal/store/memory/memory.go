// Package memory is an in-process AccountStore with optimistic concurrency
// control. Each record carries the commit version that last wrote it; a
// transaction reads from the snapshot taken at begin and is rejected with
// store.ErrTxConflict if anything it read or wrote changed before commit.
// An optional write-ahead log makes committed state survive restarts.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/store"
	"github.com/punchamoorthee/transferledger/internal/wal"
)

type accountEntry struct {
	version uint64
	account *domain.Account
}

type transferEntry struct {
	version  uint64
	transfer *domain.Transfer
}

// Store keeps accounts and transfers in maps guarded by one RWMutex that is
// held only for the duration of a single read or a commit.
type Store struct {
	mu        sync.RWMutex
	version   uint64
	accounts  map[string]*accountEntry
	transfers map[uuid.UUID]*transferEntry

	wal    *wal.WAL
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Store)

// WithWAL persists every commit to w and replays it in New.
func WithWAL(w *wal.WAL) Option {
	return func(s *Store) { s.wal = w }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(opts ...Option) (*Store, error) {
	s := &Store{
		accounts:  make(map[string]*accountEntry),
		transfers: make(map[uuid.UUID]*transferEntry),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wal != nil {
		if err := s.recover(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// walRecord is one committed write set.
type walRecord struct {
	Version   uint64             `json:"version"`
	Accounts  []*domain.Account  `json:"accounts,omitempty"`
	Transfers []*domain.Transfer `json:"transfers,omitempty"`
}

func (s *Store) recover() error {
	records := 0
	torn, err := s.wal.ReadAll(func(raw json.RawMessage) error {
		var rec walRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		s.apply(rec)
		records++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}
	if torn > 0 {
		s.logger.Warn("dropped torn wal tail", zap.Int64("bytes", torn))
	}
	s.logger.Info("memory store recovered",
		zap.Int("records", records),
		zap.Int("accounts", len(s.accounts)),
		zap.Int("transfers", len(s.transfers)))
	return nil
}

// apply installs a write set. Caller holds s.mu or is single-threaded.
func (s *Store) apply(rec walRecord) {
	if rec.Version > s.version {
		s.version = rec.Version
	}
	for _, a := range rec.Accounts {
		s.accounts[a.Email] = &accountEntry{version: rec.Version, account: a.Clone()}
	}
	for _, t := range rec.Transfers {
		c := *t
		s.transfers[t.ID] = &transferEntry{version: rec.Version, transfer: &c}
	}
}

// commit validates rec's read set and installs it under a new version.
func (s *Store) commit(reads map[string]uint64, rec walRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range reads {
		if s.currentVersion(key) != seen {
			return store.ErrTxConflict
		}
	}
	if len(rec.Accounts) == 0 && len(rec.Transfers) == 0 {
		return nil
	}

	rec.Version = s.version + 1
	if s.wal != nil {
		if err := s.wal.Write(rec); err != nil {
			return fmt.Errorf("%w: wal write: %v", domain.ErrStoreUnavailable, err)
		}
	}
	s.apply(rec)
	return nil
}

func (s *Store) currentVersion(key string) uint64 {
	kind, id := key[:2], key[2:]
	if kind == accountKeyPrefix {
		if e, ok := s.accounts[id]; ok {
			return e.version
		}
		return 0
	}
	tid, err := uuid.Parse(id)
	if err != nil {
		return 0
	}
	if e, ok := s.transfers[tid]; ok {
		return e.version
	}
	return 0
}

// WithTx implements store.AccountStore.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := s.version
	s.mu.RUnlock()

	tx := newTx(s, snapshot)
	if err := fn(tx); err != nil {
		return err
	}
	// Cancellation before commit discards the write set.
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx.reads, tx.writeSet())
}

// CreateAccount implements store.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now().UTC()
	a := acc.Clone()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	s.mu.RLock()
	_, exists := s.accounts[a.Email]
	s.mu.RUnlock()
	if exists {
		return domain.ErrAccountExists
	}

	err := s.commit(map[string]uint64{accountKey(a.Email): 0}, walRecord{Accounts: []*domain.Account{a}})
	if err == store.ErrTxConflict {
		return domain.ErrAccountExists
	}
	return err
}

// Account implements store.AccountStore.
func (s *Store) Account(ctx context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[email]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return e.account.Clone(), nil
}

// History implements store.AccountStore.
func (s *Store) History(ctx context.Context, email string) ([]domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[email]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := make([]domain.Transfer, 0, len(e.account.TransferRefs))
	for _, id := range e.account.TransferRefs {
		te, ok := s.transfers[id]
		if !ok {
			return nil, fmt.Errorf("%w: dangling transfer ref %s", domain.ErrStoreUnavailable, id)
		}
		out = append(out, *te.transfer)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.wal != nil {
		return s.wal.Close()
	}
	return nil
}

var _ store.AccountStore = (*Store)(nil)

const (
	accountKeyPrefix  = "a:"
	transferKeyPrefix = "t:"
)

func accountKey(email string) string  { return accountKeyPrefix + email }
func transferKey(id uuid.UUID) string { return transferKeyPrefix + id.String() }
