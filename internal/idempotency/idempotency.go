// Package idempotency remembers the response to a keyed request so a client
// retry with the same Idempotency-Key replays it instead of creating a second
// transfer.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var (
	ErrInFlight = errors.New("request with this key is still being processed")
	ErrMismatch = errors.New("idempotency key reused with a different payload")
)

// DefaultTTL is how long a key is remembered.
const DefaultTTL = 24 * time.Hour

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Record is the state stored under a key.
type Record struct {
	RequestHash    string          `json:"request_hash"`
	Status         string          `json:"status"`
	ResponseStatus int             `json:"response_status,omitempty"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
}

// Store persists records. Reserve is atomic: exactly one caller wins a key.
type Store interface {
	// Reserve claims key for a request with hash. When the key is already
	// taken it returns the existing record and does not modify it.
	Reserve(ctx context.Context, key, hash string) (existing *Record, err error)
	Complete(ctx context.Context, key string, rec Record) error
	// Release forgets a reservation whose request failed.
	Release(ctx context.Context, key string) error
}

// Check turns an existing record into the outcome for a new request with
// hash: a replayable record, or ErrMismatch / ErrInFlight.
func Check(existing *Record, hash string) (*Record, error) {
	if existing.RequestHash != hash {
		return nil, ErrMismatch
	}
	if existing.Status != StatusCompleted {
		return nil, ErrInFlight
	}
	return existing, nil
}

type memoryEntry struct {
	rec     Record
	expires time.Time
}

// MemoryStore is a process-local Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Reserve(ctx context.Context, key, hash string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		rec := e.rec
		return &rec, nil
	}
	m.entries[key] = memoryEntry{
		rec:     Record{RequestHash: hash, Status: StatusInProgress},
		expires: now.Add(m.ttl),
	}
	return nil, nil
}

func (m *MemoryStore) Complete(ctx context.Context, key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Status = StatusCompleted
	m.entries[key] = memoryEntry{rec: rec, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
