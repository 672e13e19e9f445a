package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emohunter/trustanchor/pkg/anchor"
	"github.com/emohunter/trustanchor/pkg/trust"

	_ "github.com/lib/pq"
)

// OpenPostgres connects to the configured Postgres database.
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// MigratePostgres creates the tables if they do not exist.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	query := `
    CREATE TABLE IF NOT EXISTS receipts (
        session_id TEXT PRIMARY KEY,
        consent_id TEXT NOT NULL,
        user_uid TEXT NOT NULL,
        model_hashes JSONB NOT NULL,
        risk_bucket TEXT NOT NULL,
        cost_cents BIGINT,
        timestamp BIGINT NOT NULL,
        commit_hash TEXT NOT NULL,
        signature TEXT NOT NULL,
        agent_did TEXT NOT NULL,
        tx_id TEXT,
        retry_count INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_receipts_commit_hash ON receipts (commit_hash);
    CREATE INDEX IF NOT EXISTS idx_receipts_tx_id ON receipts (tx_id);
    CREATE TABLE IF NOT EXISTS chain_anchors (
        tx_id TEXT PRIMARY KEY,
        agent_did TEXT NOT NULL,
        commit_hash TEXT NOT NULL,
        timestamp BIGINT NOT NULL,
        cost_cents BIGINT,
        is_simulated BOOLEAN NOT NULL DEFAULT TRUE,
        created_at TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS retry_queue (
        id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        commit_hash TEXT NOT NULL,
        attempts INTEGER NOT NULL DEFAULT 0,
        next_retry TIMESTAMPTZ NOT NULL,
        last_error TEXT,
        resolved BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_retry_queue_next_retry ON retry_queue (resolved, next_retry);`
	_, err := db.ExecContext(ctx, query)
	return err
}

// NewPostgresStores builds all three stores over one database.
func NewPostgresStores(db *sql.DB) *Stores {
	return &Stores{
		Receipts: NewPostgresReceiptStore(db),
		Anchors:  NewPostgresAnchorStore(db),
		Retries:  NewPostgresRetryQueue(db),
	}
}

// PostgresReceiptStore is the Postgres-backed ReceiptStore.
type PostgresReceiptStore struct {
	db *sql.DB
}

func NewPostgresReceiptStore(db *sql.DB) *PostgresReceiptStore {
	return &PostgresReceiptStore{db: db}
}

func (s *PostgresReceiptStore) Create(ctx context.Context, r *trust.Receipt) (bool, error) {
	hashesJSON, err := json.Marshal(r.ModelHashes)
	if err != nil {
		return false, fmt.Errorf("marshal model_hashes: %w", err)
	}

	query := `INSERT INTO receipts (` + receiptColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (session_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		r.SessionID, r.ConsentID, r.UserUID, string(hashesJSON), string(r.RiskBucket),
		nullInt64(r.CostCents), r.Timestamp, r.CommitHash, r.Signature, r.AgentDID,
		nullString(r.TxID), r.RetryCount, r.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresReceiptStore) GetBySessionID(ctx context.Context, sessionID string) (*trust.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE session_id = $1`, sessionID)
}

func (s *PostgresReceiptStore) GetByCommitHash(ctx context.Context, commitHash string) (*trust.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE commit_hash = $1`, commitHash)
}

func (s *PostgresReceiptStore) GetByTxID(ctx context.Context, txID string) (*trust.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE tx_id = $1`, txID)
}

func (s *PostgresReceiptStore) ResolveTxID(ctx context.Context, sessionID, txID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET tx_id = $1 WHERE session_id = $2`, txID, sessionID)
	if err != nil {
		return fmt.Errorf("resolve tx_id: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresReceiptStore) IncrementRetry(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET retry_count = retry_count + 1 WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("increment retry_count: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresReceiptStore) queryOne(ctx context.Context, query string, arg any) (*trust.Receipt, error) {
	row := s.db.QueryRowContext(ctx, query, arg)

	var (
		r          trust.Receipt
		hashesJSON string
		riskBucket string
		costCents  sql.NullInt64
		txID       sql.NullString
		createdAt  time.Time
	)
	err := row.Scan(&r.SessionID, &r.ConsentID, &r.UserUID, &hashesJSON, &riskBucket,
		&costCents, &r.Timestamp, &r.CommitHash, &r.Signature, &r.AgentDID,
		&txID, &r.RetryCount, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(hashesJSON), &r.ModelHashes); err != nil {
		return nil, fmt.Errorf("unmarshal model_hashes: %w", err)
	}
	r.RiskBucket = trust.RiskBucket(riskBucket)
	if costCents.Valid {
		v := costCents.Int64
		r.CostCents = &v
	}
	r.TxID = txID.String
	r.CreatedAt = createdAt
	return &r, nil
}

// PostgresAnchorStore is the Postgres-backed AnchorStore.
type PostgresAnchorStore struct {
	db *sql.DB
}

func NewPostgresAnchorStore(db *sql.DB) *PostgresAnchorStore {
	return &PostgresAnchorStore{db: db}
}

func (s *PostgresAnchorStore) Put(ctx context.Context, a *anchor.Anchor) error {
	query := `INSERT INTO chain_anchors (tx_id, agent_did, commit_hash, timestamp, cost_cents, is_simulated, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (tx_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		a.TxID, a.AgentDID, a.CommitHash, a.Timestamp, nullInt64(a.CostCents), a.Simulated, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert anchor: %w", err)
	}
	return nil
}

func (s *PostgresAnchorStore) Get(ctx context.Context, txID string) (*anchor.Anchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tx_id, agent_did, commit_hash, timestamp, cost_cents, is_simulated, created_at
         FROM chain_anchors WHERE tx_id = $1`, txID)

	var (
		a         anchor.Anchor
		costCents sql.NullInt64
		createdAt time.Time
	)
	err := row.Scan(&a.TxID, &a.AgentDID, &a.CommitHash, &a.Timestamp, &costCents, &a.Simulated, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, anchor.ErrNotFound
		}
		return nil, err
	}
	if costCents.Valid {
		v := costCents.Int64
		a.CostCents = &v
	}
	a.CreatedAt = createdAt
	return &a, nil
}

// PostgresRetryQueue is the Postgres-backed RetryQueue.
type PostgresRetryQueue struct {
	db *sql.DB
}

func NewPostgresRetryQueue(db *sql.DB) *PostgresRetryQueue {
	return &PostgresRetryQueue{db: db}
}

func (q *PostgresRetryQueue) Enqueue(ctx context.Context, e *anchor.RetryEntry) error {
	query := `INSERT INTO retry_queue (id, session_id, commit_hash, attempts, next_retry, last_error, resolved, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := q.db.ExecContext(ctx, query,
		e.ID, e.SessionID, e.CommitHash, e.Attempts, e.NextRetry.UTC(),
		e.LastError, e.Resolved, e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

func (q *PostgresRetryQueue) Due(ctx context.Context, limit int) ([]*anchor.RetryEntry, error) {
	query := `SELECT id, session_id, commit_hash, attempts, next_retry, last_error, resolved, created_at, updated_at
        FROM retry_queue
        WHERE resolved = FALSE AND next_retry <= NOW()
        ORDER BY next_retry ASC
        LIMIT $1`
	rows, err := q.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*anchor.RetryEntry
	for rows.Next() {
		var (
			e         anchor.RetryEntry
			lastError sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CommitHash, &e.Attempts,
			&e.NextRetry, &lastError, &e.Resolved, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.LastError = lastError.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (q *PostgresRetryQueue) MarkAttempt(ctx context.Context, id, lastError string, nextRetry time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE retry_queue SET attempts = attempts + 1, last_error = $1, next_retry = $2, updated_at = NOW() WHERE id = $3`,
		lastError, nextRetry.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark retry attempt: %w", err)
	}
	return requireRow(res)
}

func (q *PostgresRetryQueue) Resolve(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE retry_queue SET resolved = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve retry: %w", err)
	}
	return requireRow(res)
}
