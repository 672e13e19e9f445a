package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	anchors map[string]*Anchor
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{anchors: make(map[string]*Anchor)}
}

func (s *memStore) Put(_ context.Context, a *Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("disk full")
	}
	s.anchors[a.TxID] = a
	return nil
}

func (s *memStore) Get(_ context.Context, txID string) (*Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anchors[txID]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

type memQueue struct {
	mu      sync.Mutex
	entries []*RetryEntry
	fail    bool
}

func (q *memQueue) Enqueue(_ context.Context, e *RetryEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("queue unavailable")
	}
	q.entries = append(q.entries, e)
	return nil
}

type failingClient struct{ err error }

func (c *failingClient) WriteCommit(context.Context, WriteRequest) (string, error) {
	return "", c.err
}

func (c *failingClient) GetCommit(context.Context, string) (*Anchor, error) {
	return nil, c.err
}

func (c *failingClient) Mode() string { return "real" }

func TestSimulatedClient_WriteAndRead(t *testing.T) {
	store := newMemStore()
	client := NewSimulatedClient(store)
	adapter := NewAdapter(client, &memQueue{}, nil)

	txID := adapter.Write(context.Background(), WriteRequest{
		SessionID:  "s1",
		AgentDID:   "did:kite:emohunter",
		CommitHash: "abc123",
		Timestamp:  1700000000,
	})

	assert.True(t, strings.HasPrefix(txID, "tx_sim_"))
	assert.NotEqual(t, PendingTxID, txID)

	rec, found := adapter.Get(context.Background(), txID)
	require.True(t, found)
	assert.Equal(t, "abc123", rec.CommitHash)
	assert.Equal(t, "did:kite:emohunter", rec.AgentDID)
	assert.True(t, rec.Simulated)
}

func TestSimulatedClient_UniqueTxIDs(t *testing.T) {
	client := NewSimulatedClient(newMemStore())
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		txID, err := client.WriteCommit(context.Background(), WriteRequest{SessionID: "s", CommitHash: "h"})
		require.NoError(t, err)
		assert.False(t, seen[txID], "duplicate tx id %s", txID)
		seen[txID] = true
	}
}

func TestAdapter_WriteFailureQueuesRetry(t *testing.T) {
	queue := &memQueue{}
	adapter := NewAdapter(&failingClient{err: errors.New("ledger unreachable")}, queue, nil)

	before := time.Now()
	txID := adapter.Write(context.Background(), WriteRequest{
		SessionID:  "s1",
		CommitHash: "abc",
	})

	assert.Equal(t, PendingTxID, txID)
	require.Len(t, queue.entries, 1)

	entry := queue.entries[0]
	assert.Equal(t, "s1", entry.SessionID)
	assert.Equal(t, "abc", entry.CommitHash)
	assert.Equal(t, 0, entry.Attempts)
	assert.Contains(t, entry.LastError, "ledger unreachable")
	assert.False(t, entry.Resolved)
	assert.True(t, entry.NextRetry.After(before))
}

func TestAdapter_WriteFailureWithCancelledContext(t *testing.T) {
	// A timed-out write must still produce a retry entry.
	queue := &memQueue{}
	adapter := NewAdapter(&failingClient{err: context.DeadlineExceeded}, queue, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	txID := adapter.Write(ctx, WriteRequest{SessionID: "s1", CommitHash: "abc"})
	assert.Equal(t, PendingTxID, txID)
	assert.Len(t, queue.entries, 1)
}

func TestAdapter_SimulatedStoreFailureDegradesToPending(t *testing.T) {
	store := newMemStore()
	store.failPut = true
	queue := &memQueue{}
	adapter := NewAdapter(NewSimulatedClient(store), queue, nil)

	txID := adapter.Write(context.Background(), WriteRequest{SessionID: "s1", CommitHash: "abc"})
	assert.Equal(t, PendingTxID, txID)
	assert.Len(t, queue.entries, 1)
}

func TestAdapter_GetDegradesToNotFound(t *testing.T) {
	adapter := NewAdapter(&failingClient{err: errors.New("boom")}, &memQueue{}, nil)

	rec, found := adapter.Get(context.Background(), "tx_123")
	assert.Nil(t, rec)
	assert.False(t, found)

	// The pending sentinel is never a chain lookup.
	_, found = adapter.Get(context.Background(), PendingTxID)
	assert.False(t, found)
	_, found = adapter.Get(context.Background(), "")
	assert.False(t, found)
}

func TestLedgerClient_WriteCommit(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody serviceCallRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"transaction_id": "tx_real_42"})
	}))
	defer server.Close()

	client, err := NewLedgerClient(LedgerConfig{
		BaseURL:   server.URL,
		APIKey:    "k",
		ServiceID: "svc-1",
	})
	require.NoError(t, err)

	cost := int64(50)
	txID, err := client.WriteCommit(context.Background(), WriteRequest{
		AgentDID:   "did:kite:emohunter",
		CommitHash: "abc",
		Timestamp:  1700000000,
		CostCents:  &cost,
	})
	require.NoError(t, err)

	assert.Equal(t, "tx_real_42", txID)
	assert.Equal(t, "/v1/services/svc-1/call", gotPath)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "anchor_commitment", gotBody.Action)
	assert.Equal(t, "abc", gotBody.Data["commit_hash"])
}

func TestLedgerClient_WriteCommit_MissingTxID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client, err := NewLedgerClient(LedgerConfig{BaseURL: server.URL, ServiceID: "svc-1"})
	require.NoError(t, err)

	_, err = client.WriteCommit(context.Background(), WriteRequest{CommitHash: "abc"})
	assert.Error(t, err)

	// The adapter converts that error into the pending path.
	queue := &memQueue{}
	adapter := NewAdapter(client, queue, nil)
	txID := adapter.Write(context.Background(), WriteRequest{SessionID: "s1", CommitHash: "abc"})
	assert.Equal(t, PendingTxID, txID)
	assert.Len(t, queue.entries, 1)
}

func TestLedgerClient_GetCommit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req serviceCallRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Data["tx_id"] == "tx_known" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"commitment": map[string]any{"tx_id": "tx_known", "commit_hash": "abc", "timestamp": 1700000000},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewLedgerClient(LedgerConfig{BaseURL: server.URL, ServiceID: "svc-1"})
	require.NoError(t, err)

	rec, err := client.GetCommit(context.Background(), "tx_known")
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.CommitHash)

	_, err = client.GetCommit(context.Background(), "tx_unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNextBackoff(t *testing.T) {
	d1 := NextBackoff("s1", "h1", 0)
	d2 := NextBackoff("s1", "h1", 0)
	assert.Equal(t, d1, d2, "jitter must be deterministic")

	assert.GreaterOrEqual(t, d1, 2*time.Second)
	assert.Less(t, d1, 3*time.Second)

	// Exponential growth, capped.
	assert.Greater(t, NextBackoff("s1", "h1", 3), NextBackoff("s1", "h1", 1))
	assert.LessOrEqual(t, NextBackoff("s1", "h1", 40), 10*time.Minute+time.Second)
}
