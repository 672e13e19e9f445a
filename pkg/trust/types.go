// Package trust implements the commitment service: it turns private
// session summaries into keyed, signed, anchored commitments and verifies
// them later without the summary ever leaving the system.
package trust

import (
	"fmt"
	"time"
)

// RiskBucket is the coarse risk classification attached to a session.
type RiskBucket string

const (
	RiskLow  RiskBucket = "low"
	RiskMed  RiskBucket = "med"
	RiskHigh RiskBucket = "high"
)

// Valid reports whether the bucket is one of the accepted values.
func (r RiskBucket) Valid() bool {
	switch r {
	case RiskLow, RiskMed, RiskHigh:
		return true
	}
	return false
}

// SessionSummary is the ephemeral, per-request summary a commitment is
// computed over. It is never stored on-chain; only its keyed hash is.
type SessionSummary struct {
	SessionID   string            `json:"session_id"`
	ConsentID   string            `json:"consent_id"`
	UserUID     string            `json:"user_uid"`
	ModelHashes map[string]string `json:"model_hashes"`
	RiskBucket  RiskBucket        `json:"risk_bucket"`
	CostCents   *int64            `json:"cost_cents,omitempty"`
	Timestamp   int64             `json:"timestamp"`
}

// Validate enforces the request preconditions before any cryptographic
// work. An empty model_hashes map is a distinct failure from the generic
// validation errors so callers can tell the two apart.
func (s *SessionSummary) Validate() error {
	if s.SessionID == "" {
		return validationf("session_id is required")
	}
	if s.ConsentID == "" {
		return validationf("consent_id is required")
	}
	if s.UserUID == "" {
		return validationf("user_uid is required")
	}
	if s.ModelHashes != nil && len(s.ModelHashes) == 0 {
		return ErrEmptyModelHashes
	}
	if s.ModelHashes == nil {
		return validationf("model_hashes is required")
	}
	if !s.RiskBucket.Valid() {
		return validationf("risk_bucket must be one of low, med, high; got %q", s.RiskBucket)
	}
	if s.CostCents != nil && *s.CostCents < 0 {
		return validationf("cost_cents must be non-negative")
	}
	if s.Timestamp <= 0 {
		return validationf("timestamp must be a positive unix time")
	}
	return nil
}

// Attributes returns the attribute map the canonical encoder consumes.
// A nil cost is omitted entirely so that "absent" and "present but zero"
// canonicalize differently.
func (s *SessionSummary) Attributes() map[string]any {
	attrs := map[string]any{
		"session_id":   s.SessionID,
		"consent_id":   s.ConsentID,
		"user_uid":     s.UserUID,
		"model_hashes": s.ModelHashes,
		"risk_bucket":  string(s.RiskBucket),
		"timestamp":    s.Timestamp,
	}
	if s.CostCents != nil {
		attrs["cost_cents"] = *s.CostCents
	}
	return attrs
}

// Receipt is the durable record of one committed session. Immutable after
// creation except for TxID (pending -> final) and RetryCount.
type Receipt struct {
	SessionID   string            `json:"session_id"`
	ConsentID   string            `json:"consent_id"`
	UserUID     string            `json:"user_uid"`
	ModelHashes map[string]string `json:"model_hashes"`
	RiskBucket  RiskBucket        `json:"risk_bucket"`
	CostCents   *int64            `json:"cost_cents,omitempty"`
	Timestamp   int64             `json:"timestamp"`

	CommitHash string `json:"commit_hash"`
	Signature  string `json:"signature"`
	AgentDID   string `json:"agent_did"`
	TxID       string `json:"tx_id"`

	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summary reconstructs the session summary the receipt was created from,
// for recomputing the canonical form during verification.
func (r *Receipt) Summary() SessionSummary {
	return SessionSummary{
		SessionID:   r.SessionID,
		ConsentID:   r.ConsentID,
		UserUID:     r.UserUID,
		ModelHashes: r.ModelHashes,
		RiskBucket:  r.RiskBucket,
		CostCents:   r.CostCents,
		Timestamp:   r.Timestamp,
	}
}

// CommitResult is the externally observable outcome of a commit request.
type CommitResult struct {
	CommitHash string `json:"commit_hash"`
	TxID       string `json:"tx_id"`
	AgentDID   string `json:"agent_did"`
	Signature  string `json:"signature"`
	AnchoredAt int64  `json:"anchored_at"`
}

// VerifyDetails itemizes the three independent checks a verification runs.
type VerifyDetails struct {
	LocalHashMatch bool   `json:"local_hash_match"`
	ChainHashMatch bool   `json:"chain_hash_match"`
	SignatureValid bool   `json:"signature_valid"`
	ChainFound     bool   `json:"chain_found"`
	TxID           string `json:"tx_id"`
}

// VerifyResult is the aggregate verification verdict. A mismatch is a
// first-class outcome, never an error.
type VerifyResult struct {
	Match      bool          `json:"match"`
	AgentDID   string        `json:"agent_did"`
	AnchoredAt int64         `json:"anchored_at"`
	Details    VerifyDetails `json:"details"`
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
