// Package anchor durably associates commitment hashes with ledger
// transaction identifiers, through either a hosted ledger service or a
// local simulation. Mode is fixed at construction; callers cannot tell a
// simulated write from a successful real one except for the is_simulated
// flag on the persisted record.
package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PendingTxID is the sentinel returned when a real-mode write failed and
// was queued for retry. The commitment itself is already signed and
// verifiable offline, so the caller still gets a success.
const PendingTxID = "pending"

// ErrNotFound is returned by anchor reads when no record exists for the
// transaction id. Reads never surface transport errors to callers.
var ErrNotFound = errors.New("anchor: not found")

// Anchor is the durable on-ledger (or simulated) record for one
// commitment. Never mutated, never deleted by this core.
type Anchor struct {
	TxID       string    `json:"tx_id"`
	AgentDID   string    `json:"agent_did"`
	CommitHash string    `json:"commit_hash"`
	Timestamp  int64     `json:"timestamp"`
	CostCents  *int64    `json:"cost_cents,omitempty"`
	Simulated  bool      `json:"is_simulated"`
	CreatedAt  time.Time `json:"created_at"`
}

// WriteRequest carries the minimal anchor metadata for a commitment write.
type WriteRequest struct {
	SessionID  string
	AgentDID   string
	CommitHash string
	Timestamp  int64
	CostCents  *int64
}

// Client is the capability interface over a ledger backend. Exactly two
// implementations exist: LedgerClient (real) and SimulatedClient.
type Client interface {
	// WriteCommit anchors a commitment and returns its transaction id.
	WriteCommit(ctx context.Context, req WriteRequest) (string, error)
	// GetCommit returns the anchor for txID, or ErrNotFound.
	GetCommit(ctx context.Context, txID string) (*Anchor, error)
	// Mode identifies the backend ("real" or "simulation").
	Mode() string
}

// Store persists anchor records. The simulated client writes through it;
// verification reads back from it.
type Store interface {
	Put(ctx context.Context, a *Anchor) error
	Get(ctx context.Context, txID string) (*Anchor, error)
}

// RetryEntry is queued when a write fails. This core only creates entries;
// an external retry processor drains them.
type RetryEntry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	CommitHash string    `json:"commit_hash"`
	Attempts   int       `json:"attempts"`
	NextRetry  time.Time `json:"next_retry"`
	LastError  string    `json:"last_error"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RetryQueue records failed writes for the external retry processor.
type RetryQueue interface {
	Enqueue(ctx context.Context, entry *RetryEntry) error
}

// Adapter wraps a Client with fail-soft semantics: write failures become
// retry entries plus a pending sentinel, read failures become not-found.
type Adapter struct {
	client  Client
	retries RetryQueue
	logger  *slog.Logger
	clock   func() time.Time
}

// NewAdapter builds an adapter around the configured client.
func NewAdapter(client Client, retries RetryQueue, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:  client,
		retries: retries,
		logger:  logger.With("component", "anchor", "mode", client.Mode()),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for tests.
func (a *Adapter) WithClock(clock func() time.Time) *Adapter {
	a.clock = clock
	return a
}

// Write anchors a commitment. It never returns an error: a failed write is
// queued for retry and reported as PendingTxID, because the commitment has
// already been produced and must not be lost. This holds even when ctx has
// timed out mid-write.
func (a *Adapter) Write(ctx context.Context, req WriteRequest) string {
	txID, err := a.client.WriteCommit(ctx, req)
	if err == nil && txID != "" {
		a.logger.Info("anchored commitment", "tx_id", txID, "session_id", req.SessionID)
		return txID
	}

	reason := "empty transaction id in response"
	if err != nil {
		reason = err.Error()
	}
	a.logger.Error("anchor write failed, queueing retry", "session_id", req.SessionID, "error", reason)

	now := a.clock()
	entry := &RetryEntry{
		ID:         uuid.NewString(),
		SessionID:  req.SessionID,
		CommitHash: req.CommitHash,
		Attempts:   0,
		NextRetry:  now.Add(NextBackoff(req.SessionID, req.CommitHash, 0)),
		LastError:  reason,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Enqueue failures are the one place a commitment pointer could be
	// lost, so they are logged at error level; the receipt itself still
	// records the pending state and remains verifiable offline.
	if qerr := a.retries.Enqueue(context.WithoutCancel(ctx), entry); qerr != nil {
		a.logger.Error("failed to queue anchor retry", "session_id", req.SessionID, "error", qerr)
	}
	return PendingTxID
}

// Get reads an anchor. Any failure (transport, malformed response,
// missing record) degrades to (nil, false) so verification can still
// report a partial result.
func (a *Adapter) Get(ctx context.Context, txID string) (*Anchor, bool) {
	if txID == "" || txID == PendingTxID {
		return nil, false
	}
	rec, err := a.client.GetCommit(ctx, txID)
	if err != nil || rec == nil {
		if err != nil && !errors.Is(err, ErrNotFound) {
			a.logger.Warn("anchor read failed, treating as unavailable", "tx_id", txID, "error", err)
		}
		return nil, false
	}
	return rec, true
}

// Mode reports the configured backend mode.
func (a *Adapter) Mode() string {
	return a.client.Mode()
}
