package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// LedgerConfig describes how to reach the hosted ledger service.
type LedgerConfig struct {
	BaseURL   string
	APIKey    string
	ServiceID string
	Timeout   time.Duration
}

// LedgerClient anchors commitments through the hosted ledger's
// service-call API. All failures are returned as errors; the Adapter above
// decides how they degrade.
type LedgerClient struct {
	cfg        LedgerConfig
	httpClient *http.Client
}

// NewLedgerClient builds a real-mode client.
func NewLedgerClient(cfg LedgerConfig) (*LedgerClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("anchor: ledger base URL is required")
	}
	if strings.TrimSpace(cfg.ServiceID) == "" {
		return nil, fmt.Errorf("anchor: ledger service id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LedgerClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type serviceCallRequest struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

type serviceCallResponse struct {
	TransactionID string  `json:"transaction_id"`
	TxID          string  `json:"tx_id"`
	Commitment    *Anchor `json:"commitment"`
}

// WriteCommit asks the ledger service to anchor the commitment and
// extracts the transaction id from the response.
func (c *LedgerClient) WriteCommit(ctx context.Context, req WriteRequest) (string, error) {
	data := map[string]any{
		"agent_did":   req.AgentDID,
		"commit_hash": req.CommitHash,
		"timestamp":   req.Timestamp,
	}
	if req.CostCents != nil {
		data["cost_cents"] = *req.CostCents
	}

	var resp serviceCallResponse
	if err := c.call(ctx, serviceCallRequest{Action: "anchor_commitment", Data: data}, &resp); err != nil {
		return "", err
	}

	txID := resp.TransactionID
	if txID == "" {
		txID = resp.TxID
	}
	if txID == "" {
		return "", fmt.Errorf("anchor: no transaction id in ledger response")
	}
	return txID, nil
}

// GetCommit retrieves a previously anchored commitment.
func (c *LedgerClient) GetCommit(ctx context.Context, txID string) (*Anchor, error) {
	var resp serviceCallResponse
	err := c.call(ctx, serviceCallRequest{
		Action: "get_commitment",
		Data:   map[string]any{"tx_id": txID},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Commitment == nil {
		return nil, ErrNotFound
	}
	if resp.Commitment.TxID == "" {
		resp.Commitment.TxID = txID
	}
	return resp.Commitment, nil
}

// Mode identifies this client as the real backend.
func (c *LedgerClient) Mode() string {
	return "real"
}

func (c *LedgerClient) call(ctx context.Context, payload serviceCallRequest, out *serviceCallResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("anchor: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/services/%s/call", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.ServiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("anchor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("anchor: ledger call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("anchor: ledger returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("anchor: decode ledger response: %w", err)
	}
	return nil
}
