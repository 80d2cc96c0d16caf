package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/store"
)

// tx buffers private copies of everything it touches. reads records the
// version each key had when first loaded (0 for absent keys).
type tx struct {
	s        *Store
	snapshot uint64
	reads    map[string]uint64

	accounts  map[string]*domain.Account
	transfers map[uuid.UUID]*domain.Transfer
	dirtyAcc  map[string]bool
	dirtyTr   map[uuid.UUID]bool
	order     []string
}

func newTx(s *Store, snapshot uint64) *tx {
	return &tx{
		s:         s,
		snapshot:  snapshot,
		reads:     make(map[string]uint64),
		accounts:  make(map[string]*domain.Account),
		transfers: make(map[uuid.UUID]*domain.Transfer),
		dirtyAcc:  make(map[string]bool),
		dirtyTr:   make(map[uuid.UUID]bool),
	}
}

func (t *tx) loadAccount(email string) (*domain.Account, error) {
	if a, ok := t.accounts[email]; ok {
		if a == nil {
			return nil, domain.ErrAccountNotFound
		}
		return a, nil
	}

	t.s.mu.RLock()
	e, ok := t.s.accounts[email]
	var a *domain.Account
	var version uint64
	if ok {
		version = e.version
		a = e.account.Clone()
	}
	t.s.mu.RUnlock()

	// A newer commit means the snapshot can no longer be served.
	if version > t.snapshot {
		return nil, store.ErrTxConflict
	}
	t.reads[accountKey(email)] = version
	t.accounts[email] = a
	if a == nil {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

func (t *tx) loadTransfer(id uuid.UUID) (*domain.Transfer, error) {
	if tr, ok := t.transfers[id]; ok {
		if tr == nil {
			return nil, domain.ErrTransferNotFound
		}
		return tr, nil
	}

	t.s.mu.RLock()
	e, ok := t.s.transfers[id]
	var tr *domain.Transfer
	var version uint64
	if ok {
		version = e.version
		c := *e.transfer
		tr = &c
	}
	t.s.mu.RUnlock()

	if version > t.snapshot {
		return nil, store.ErrTxConflict
	}
	t.reads[transferKey(id)] = version
	t.transfers[id] = tr
	if tr == nil {
		return nil, domain.ErrTransferNotFound
	}
	return tr, nil
}

func (t *tx) markAccount(email string) {
	if !t.dirtyAcc[email] {
		t.dirtyAcc[email] = true
		t.order = append(t.order, email)
	}
}

func (t *tx) Account(ctx context.Context, email string) (*domain.Account, error) {
	a, err := t.loadAccount(email)
	if err != nil {
		return nil, err
	}
	c := a.Clone()
	c.TransferRefs = nil
	return c, nil
}

func (t *tx) PutBalance(ctx context.Context, email string, balance decimal.Decimal) error {
	a, err := t.loadAccount(email)
	if err != nil {
		return err
	}
	a.Balance = balance
	a.UpdatedAt = t.s.now().UTC()
	t.markAccount(email)
	return nil
}

func (t *tx) Transfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	tr, err := t.loadTransfer(id)
	if err != nil {
		return nil, err
	}
	c := *tr
	return &c, nil
}

func (t *tx) HistoryContains(ctx context.Context, email string, id uuid.UUID) (bool, error) {
	a, err := t.loadAccount(email)
	if err == domain.ErrAccountNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, ref := range a.TransferRefs {
		if ref == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	existing, err := t.loadTransfer(tr.ID)
	if err == nil && existing != nil {
		return store.ErrTxConflict
	}
	if err != nil && err != domain.ErrTransferNotFound {
		return err
	}
	c := *tr
	t.transfers[tr.ID] = &c
	t.dirtyTr[tr.ID] = true
	return nil
}

func (t *tx) AppendHistory(ctx context.Context, email string, id uuid.UUID) error {
	a, err := t.loadAccount(email)
	if err != nil {
		return err
	}
	a.TransferRefs = append(a.TransferRefs, id)
	a.UpdatedAt = t.s.now().UTC()
	t.markAccount(email)
	return nil
}

func (t *tx) UpdateTransferStatus(ctx context.Context, tr *domain.Transfer) error {
	cur, err := t.loadTransfer(tr.ID)
	if err != nil {
		return err
	}
	cur.Status = tr.Status
	cur.UpdatedAt = tr.UpdatedAt
	t.dirtyTr[tr.ID] = true
	return nil
}

func (t *tx) writeSet() walRecord {
	var rec walRecord
	for _, email := range t.order {
		rec.Accounts = append(rec.Accounts, t.accounts[email])
	}
	for id := range t.dirtyTr {
		rec.Transfers = append(rec.Transfers, t.transfers[id])
	}
	return rec
}

var _ store.Tx = (*tx)(nil)
