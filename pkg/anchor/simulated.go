package anchor

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// simulatedTxPrefix distinguishes simulated transaction ids from real ones.
const simulatedTxPrefix = "tx_sim_"

// SimulatedClient is the in-process ledger. Writes persist an Anchor in
// the durable store and succeed immediately; the only caller-visible
// difference from real mode is the is_simulated flag on the record.
type SimulatedClient struct {
	store Store
	clock func() time.Time
}

// NewSimulatedClient builds a simulated ledger over the given store.
func NewSimulatedClient(store Store) *SimulatedClient {
	return &SimulatedClient{store: store, clock: time.Now}
}

// WithClock overrides the clock for tests.
func (c *SimulatedClient) WithClock(clock func() time.Time) *SimulatedClient {
	c.clock = clock
	return c
}

// WriteCommit generates a locally unique synthetic transaction id and
// stores the anchor record.
func (c *SimulatedClient) WriteCommit(ctx context.Context, req WriteRequest) (string, error) {
	u := uuid.New()
	txID := simulatedTxPrefix + hex.EncodeToString(u[:])[:16]

	rec := &Anchor{
		TxID:       txID,
		AgentDID:   req.AgentDID,
		CommitHash: req.CommitHash,
		Timestamp:  req.Timestamp,
		CostCents:  req.CostCents,
		Simulated:  true,
		CreatedAt:  c.clock().UTC(),
	}
	if err := c.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("anchor: simulated write failed: %w", err)
	}
	return txID, nil
}

// GetCommit looks the anchor up in the durable store.
func (c *SimulatedClient) GetCommit(ctx context.Context, txID string) (*Anchor, error) {
	return c.store.Get(ctx, txID)
}

// Mode identifies this client as the simulation backend.
func (c *SimulatedClient) Mode() string {
	return "simulation"
}
