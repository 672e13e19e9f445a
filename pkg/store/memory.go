package store

import (
	"context"
	"sync"
	"time"

	"github.com/emohunter/trustanchor/pkg/anchor"
	"github.com/emohunter/trustanchor/pkg/trust"
)

// MemoryReceiptStore is the in-memory ReceiptStore used in tests and
// single-process deployments without a database.
type MemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts map[string]*trust.Receipt
}

func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{receipts: make(map[string]*trust.Receipt)}
}

func (s *MemoryReceiptStore) Create(_ context.Context, r *trust.Receipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.receipts[r.SessionID]; exists {
		return false, nil
	}
	clone := *r
	s.receipts[r.SessionID] = &clone
	return true, nil
}

func (s *MemoryReceiptStore) GetBySessionID(_ context.Context, sessionID string) (*trust.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *MemoryReceiptStore) GetByCommitHash(_ context.Context, commitHash string) (*trust.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receipts {
		if r.CommitHash == commitHash {
			clone := *r
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryReceiptStore) GetByTxID(_ context.Context, txID string) (*trust.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receipts {
		if r.TxID == txID {
			clone := *r
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryReceiptStore) ResolveTxID(_ context.Context, sessionID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[sessionID]
	if !ok {
		return ErrNotFound
	}
	r.TxID = txID
	return nil
}

func (s *MemoryReceiptStore) IncrementRetry(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[sessionID]
	if !ok {
		return ErrNotFound
	}
	r.RetryCount++
	return nil
}

// MemoryAnchorStore is the in-memory AnchorStore.
type MemoryAnchorStore struct {
	mu      sync.RWMutex
	anchors map[string]*anchor.Anchor
}

func NewMemoryAnchorStore() *MemoryAnchorStore {
	return &MemoryAnchorStore{anchors: make(map[string]*anchor.Anchor)}
}

func (s *MemoryAnchorStore) Put(_ context.Context, a *anchor.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Anchors are immutable once written.
	if _, exists := s.anchors[a.TxID]; exists {
		return nil
	}
	clone := *a
	s.anchors[a.TxID] = &clone
	return nil
}

func (s *MemoryAnchorStore) Get(_ context.Context, txID string) (*anchor.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anchors[txID]
	if !ok {
		return nil, anchor.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

// MemoryRetryQueue is the in-memory RetryQueue.
type MemoryRetryQueue struct {
	mu      sync.Mutex
	entries map[string]*anchor.RetryEntry
}

func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{entries: make(map[string]*anchor.RetryEntry)}
}

func (q *MemoryRetryQueue) Enqueue(_ context.Context, e *anchor.RetryEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	clone := *e
	q.entries[e.ID] = &clone
	return nil
}

func (q *MemoryRetryQueue) Due(_ context.Context, limit int) ([]*anchor.RetryEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	out := make([]*anchor.RetryEntry, 0, limit)
	for _, e := range q.entries {
		if e.Resolved || e.NextRetry.After(now) {
			continue
		}
		clone := *e
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (q *MemoryRetryQueue) MarkAttempt(_ context.Context, id, lastError string, nextRetry time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Attempts++
	e.LastError = lastError
	e.NextRetry = nextRetry
	e.UpdatedAt = time.Now()
	return nil
}

func (q *MemoryRetryQueue) Resolve(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Resolved = true
	e.UpdatedAt = time.Now()
	return nil
}

// NewMemoryStores bundles fresh in-memory stores, one independent set per
// caller for test isolation.
func NewMemoryStores() *Stores {
	return &Stores{
		Receipts: NewMemoryReceiptStore(),
		Anchors:  NewMemoryAnchorStore(),
		Retries:  NewMemoryRetryQueue(),
	}
}
