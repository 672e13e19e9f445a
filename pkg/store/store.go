// Package store persists receipts, chain anchors and the anchor retry
// queue. Three backends: SQLite, Postgres and an in-memory implementation
// for tests. All backends serialize writes per key (unique constraints on
// session_id and tx_id) while leaving unrelated keys unblocked.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/emohunter/trustanchor/pkg/anchor"
	"github.com/emohunter/trustanchor/pkg/trust"
)

// ErrNotFound is returned by lookups that match no row. It wraps
// trust.ErrNotFound so callers above the store can match it without
// depending on this package.
var ErrNotFound = fmt.Errorf("store: %w", trust.ErrNotFound)

// ReceiptStore holds one durable receipt per session.
type ReceiptStore interface {
	// Create inserts the receipt if no receipt exists for its session_id.
	// It reports whether the insert happened; false means a concurrent or
	// earlier caller won the race and the existing receipt is canonical.
	Create(ctx context.Context, r *trust.Receipt) (bool, error)
	GetBySessionID(ctx context.Context, sessionID string) (*trust.Receipt, error)
	GetByCommitHash(ctx context.Context, commitHash string) (*trust.Receipt, error)
	GetByTxID(ctx context.Context, txID string) (*trust.Receipt, error)
	// ResolveTxID transitions a pending receipt to its final anchor
	// pointer. The only permitted post-creation mutation besides
	// IncrementRetry.
	ResolveTxID(ctx context.Context, sessionID, txID string) error
	IncrementRetry(ctx context.Context, sessionID string) error
}

// AnchorStore is the durable backing store for simulated (and cached)
// chain anchors. Satisfies anchor.Store.
type AnchorStore interface {
	Put(ctx context.Context, a *anchor.Anchor) error
	Get(ctx context.Context, txID string) (*anchor.Anchor, error)
}

// RetryQueue records failed anchor writes for the external retry
// processor. Enqueue satisfies anchor.RetryQueue; Due, MarkAttempt and
// Resolve are the consumer's contract.
type RetryQueue interface {
	Enqueue(ctx context.Context, entry *anchor.RetryEntry) error
	Due(ctx context.Context, limit int) ([]*anchor.RetryEntry, error)
	MarkAttempt(ctx context.Context, id, lastError string, nextRetry time.Time) error
	Resolve(ctx context.Context, id string) error
}

// Stores bundles the three stores a service instance runs on.
type Stores struct {
	Receipts ReceiptStore
	Anchors  AnchorStore
	Retries  RetryQueue
}
