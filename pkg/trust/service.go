package trust

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emohunter/trustanchor/pkg/anchor"
	"github.com/emohunter/trustanchor/pkg/canonical"
	"github.com/emohunter/trustanchor/pkg/crypto"
)

// ReceiptStore is the persistence contract the service runs against.
// Lookups that match nothing return an error satisfying
// errors.Is(err, ErrNotFound).
type ReceiptStore interface {
	Create(ctx context.Context, r *Receipt) (bool, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Receipt, error)
	GetByCommitHash(ctx context.Context, commitHash string) (*Receipt, error)
	GetByTxID(ctx context.Context, txID string) (*Receipt, error)
	ResolveTxID(ctx context.Context, sessionID, txID string) error
	IncrementRetry(ctx context.Context, sessionID string) error
}

// Service derives per-user keys, commits session summaries and verifies
// receipts. One instance per process; safe for concurrent use.
type Service struct {
	masterKey []byte
	signer    *crypto.Signer
	agentDID  string
	receipts  ReceiptStore
	anchors   *anchor.Adapter
	logger    *slog.Logger
	clock     func() time.Time
	sessions  keyedMutex
}

// NewService validates the key material up front. A short master key or a
// missing signer is ErrConfig; the service never falls back to a default
// key.
func NewService(masterKey []byte, signer *crypto.Signer, agentDID string, receipts ReceiptStore, anchors *anchor.Adapter, logger *slog.Logger) (*Service, error) {
	if len(masterKey) < crypto.MasterKeyLen {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes", ErrConfig, crypto.MasterKeyLen)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: signing key is required", ErrConfig)
	}
	if agentDID == "" {
		return nil, fmt.Errorf("%w: agent DID is required", ErrConfig)
	}
	if receipts == nil || anchors == nil {
		return nil, fmt.Errorf("%w: receipt store and anchor adapter are required", ErrConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		masterKey: masterKey,
		signer:    signer,
		agentDID:  agentDID,
		receipts:  receipts,
		anchors:   anchors,
		logger:    logger.With("component", "trust"),
		clock:     time.Now,
	}, nil
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// AgentDID returns the DID receipts are issued under.
func (s *Service) AgentDID() string { return s.agentDID }

// PublicKeyBase64 returns the agent verification key.
func (s *Service) PublicKeyBase64() string { return s.signer.PublicKeyBase64() }

// AnchorMode reports the configured ledger backend mode.
func (s *Service) AnchorMode() string { return s.anchors.Mode() }

// CreateCommit commits a session summary, anchoring the resulting hash and
// persisting exactly one receipt per session. Repeating a session id
// returns the original receipt's result unchanged, with no new anchor
// transaction.
//
// The per-session lock is held across the anchor write: it only blocks
// duplicate submissions of the same session, and it keeps a retried
// request from anchoring twice. Cross-instance races are resolved by the
// store's uniqueness constraint instead.
func (s *Service) CreateCommit(ctx context.Context, summary SessionSummary) (*CommitResult, error) {
	if err := summary.Validate(); err != nil {
		return nil, err
	}

	unlock := s.sessions.lock(summary.SessionID)
	defer unlock()

	existing, err := s.receipts.GetBySessionID(ctx, summary.SessionID)
	if err == nil {
		return commitResult(existing), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	canonicalSummary, err := canonical.Canonicalize(summary.Attributes())
	if err != nil {
		return nil, fmt.Errorf("canonicalize summary: %w", err)
	}
	userKey, err := crypto.DeriveUserKey(s.masterKey, summary.UserUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	commitHash := crypto.CommitHash(userKey, canonicalSummary)
	signature, err := crypto.SignCommit(s.signer, commitHash, summary.ModelHashes)
	if err != nil {
		return nil, fmt.Errorf("sign commitment: %w", err)
	}

	txID := s.anchors.Write(ctx, anchor.WriteRequest{
		SessionID:  summary.SessionID,
		AgentDID:   s.agentDID,
		CommitHash: commitHash,
		Timestamp:  summary.Timestamp,
		CostCents:  summary.CostCents,
	})

	receipt := &Receipt{
		SessionID:   summary.SessionID,
		ConsentID:   summary.ConsentID,
		UserUID:     summary.UserUID,
		ModelHashes: summary.ModelHashes,
		RiskBucket:  summary.RiskBucket,
		CostCents:   summary.CostCents,
		Timestamp:   summary.Timestamp,
		CommitHash:  commitHash,
		Signature:   signature,
		AgentDID:    s.agentDID,
		TxID:        txID,
		CreatedAt:   s.clock().UTC(),
	}
	created, err := s.receipts.Create(ctx, receipt)
	if err != nil {
		return nil, fmt.Errorf("persist receipt: %w", err)
	}
	if !created {
		// Another instance committed this session first; its receipt is
		// the canonical one.
		winner, err := s.receipts.GetBySessionID(ctx, summary.SessionID)
		if err != nil {
			return nil, err
		}
		return commitResult(winner), nil
	}

	s.logger.Info("created commitment",
		"session_id", summary.SessionID,
		"commit_hash", commitHash,
		"tx_id", txID,
		"mode", s.anchors.Mode())
	return commitResult(receipt), nil
}

// Verify recomputes the commitment for a stored receipt and checks it
// against the signature and, when reachable, the chain anchor. A non-empty
// txID replaces the receipt's stored pointer as the anchor lookup key, so
// a caller can cross-check the session against a specific transaction; a
// pointer to a different commitment yields ChainHashMatch=false and
// Match=false. A failed check yields Match=false, never an error; only an
// unknown session id is an error.
func (s *Service) Verify(ctx context.Context, sessionID, txID string) (*VerifyResult, error) {
	receipt, err := s.receipts.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.verifyReceipt(ctx, receipt, txID)
}

// VerifyByCommitHash verifies the receipt that produced the given
// commitment hash. txID overrides the anchor lookup key as in Verify.
func (s *Service) VerifyByCommitHash(ctx context.Context, commitHash, txID string) (*VerifyResult, error) {
	receipt, err := s.receipts.GetByCommitHash(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	return s.verifyReceipt(ctx, receipt, txID)
}

func (s *Service) verifyReceipt(ctx context.Context, receipt *Receipt, txID string) (*VerifyResult, error) {
	summary := receipt.Summary()
	canonicalSummary, err := canonical.Canonicalize(summary.Attributes())
	if err != nil {
		return nil, fmt.Errorf("canonicalize summary: %w", err)
	}
	userKey, err := crypto.DeriveUserKey(s.masterKey, receipt.UserUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	localHash := crypto.CommitHash(userKey, canonicalSummary)
	localMatch := hmac.Equal([]byte(localHash), []byte(receipt.CommitHash))

	signatureValid := crypto.VerifyCommitSignature(
		s.signer.PublicKeyBase64(), receipt.CommitHash, receipt.ModelHashes, receipt.Signature)

	if txID == "" {
		txID = receipt.TxID
	}
	anchored, chainFound := s.anchors.Get(ctx, txID)
	chainMatch := chainFound && anchored.CommitHash == receipt.CommitHash

	anchoredAt := receipt.Timestamp
	if chainFound {
		anchoredAt = anchored.Timestamp
	}

	match := localMatch && signatureValid && (!chainFound || chainMatch)
	if !match {
		s.logger.Warn("verification mismatch",
			"session_id", receipt.SessionID,
			"tx_id", txID,
			"local_hash_match", localMatch,
			"signature_valid", signatureValid,
			"chain_found", chainFound,
			"chain_hash_match", chainMatch)
	}

	return &VerifyResult{
		Match:      match,
		AgentDID:   receipt.AgentDID,
		AnchoredAt: anchoredAt,
		Details: VerifyDetails{
			LocalHashMatch: localMatch,
			ChainHashMatch: chainMatch,
			SignatureValid: signatureValid,
			ChainFound:     chainFound,
			TxID:           txID,
		},
	}, nil
}

// Receipt returns the stored receipt for a session id.
func (s *Service) Receipt(ctx context.Context, sessionID string) (*Receipt, error) {
	return s.receipts.GetBySessionID(ctx, sessionID)
}

func commitResult(r *Receipt) *CommitResult {
	return &CommitResult{
		CommitHash: r.CommitHash,
		TxID:       r.TxID,
		AgentDID:   r.AgentDID,
		Signature:  r.Signature,
		AnchoredAt: r.Timestamp,
	}
}

// keyedMutex serializes work per session id without blocking unrelated
// sessions. Entries are reference-counted and dropped when idle.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
