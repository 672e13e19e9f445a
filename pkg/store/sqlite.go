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

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc.org/sqlite is not safe for concurrent writers on one
	// connection; the database/sql pool with a single connection
	// serializes them.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStores builds all three stores over one database, running
// migrations up front.
func NewSQLiteStores(db *sql.DB) (*Stores, error) {
	receipts, err := NewSQLiteReceiptStore(db)
	if err != nil {
		return nil, err
	}
	anchors, err := NewSQLiteAnchorStore(db)
	if err != nil {
		return nil, err
	}
	retries, err := NewSQLiteRetryQueue(db)
	if err != nil {
		return nil, err
	}
	return &Stores{Receipts: receipts, Anchors: anchors, Retries: retries}, nil
}

// SQLiteReceiptStore is the SQLite-backed ReceiptStore.
type SQLiteReceiptStore struct {
	db *sql.DB
}

func NewSQLiteReceiptStore(db *sql.DB) (*SQLiteReceiptStore, error) {
	s := &SQLiteReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteReceiptStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS receipts (
        session_id TEXT PRIMARY KEY,
        consent_id TEXT NOT NULL,
        user_uid TEXT NOT NULL,
        model_hashes JSON NOT NULL,
        risk_bucket TEXT NOT NULL,
        cost_cents INTEGER,
        timestamp INTEGER NOT NULL,
        commit_hash TEXT NOT NULL,
        signature TEXT NOT NULL,
        agent_did TEXT NOT NULL,
        tx_id TEXT,
        retry_count INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_receipts_commit_hash ON receipts (commit_hash);
    CREATE INDEX IF NOT EXISTS idx_receipts_tx_id ON receipts (tx_id);
    CREATE INDEX IF NOT EXISTS idx_receipts_user_uid ON receipts (user_uid);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const receiptColumns = `session_id, consent_id, user_uid, model_hashes, risk_bucket, cost_cents, timestamp, commit_hash, signature, agent_did, tx_id, retry_count, created_at`

func (s *SQLiteReceiptStore) Create(ctx context.Context, r *trust.Receipt) (bool, error) {
	hashesJSON, err := json.Marshal(r.ModelHashes)
	if err != nil {
		return false, fmt.Errorf("marshal model_hashes: %w", err)
	}

	query := `INSERT INTO receipts (` + receiptColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(session_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		r.SessionID, r.ConsentID, r.UserUID, string(hashesJSON), string(r.RiskBucket),
		nullInt64(r.CostCents), r.Timestamp, r.CommitHash, r.Signature, r.AgentDID,
		nullString(r.TxID), r.RetryCount, r.CreatedAt.UTC().Format(time.RFC3339Nano),
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

func (s *SQLiteReceiptStore) GetBySessionID(ctx context.Context, sessionID string) (*trust.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE session_id = ?`, sessionID)
}

func (s *SQLiteReceiptStore) GetByCommitHash(ctx context.Context, commitHash string) (*trust.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE commit_hash = ?`, commitHash)
}

func (s *SQLiteReceiptStore) GetByTxID(ctx context.Context, txID string) (*trust.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE tx_id = ?`, txID)
}

func (s *SQLiteReceiptStore) ResolveTxID(ctx context.Context, sessionID, txID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET tx_id = ? WHERE session_id = ?`, txID, sessionID)
	if err != nil {
		return fmt.Errorf("resolve tx_id: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteReceiptStore) IncrementRetry(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET retry_count = retry_count + 1 WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("increment retry_count: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteReceiptStore) queryOne(ctx context.Context, query string, arg any) (*trust.Receipt, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	return scanReceipt(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*trust.Receipt, error) {
	var (
		r          trust.Receipt
		hashesJSON string
		riskBucket string
		costCents  sql.NullInt64
		txID       sql.NullString
		createdAt  string
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
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// SQLiteAnchorStore is the SQLite-backed AnchorStore.
type SQLiteAnchorStore struct {
	db *sql.DB
}

func NewSQLiteAnchorStore(db *sql.DB) (*SQLiteAnchorStore, error) {
	s := &SQLiteAnchorStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAnchorStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS chain_anchors (
        tx_id TEXT PRIMARY KEY,
        agent_did TEXT NOT NULL,
        commit_hash TEXT NOT NULL,
        timestamp INTEGER NOT NULL,
        cost_cents INTEGER,
        is_simulated INTEGER NOT NULL DEFAULT 1,
        created_at DATETIME NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteAnchorStore) Put(ctx context.Context, a *anchor.Anchor) error {
	query := `INSERT INTO chain_anchors (tx_id, agent_did, commit_hash, timestamp, cost_cents, is_simulated, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(tx_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		a.TxID, a.AgentDID, a.CommitHash, a.Timestamp, nullInt64(a.CostCents),
		a.Simulated, a.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert anchor: %w", err)
	}
	return nil
}

func (s *SQLiteAnchorStore) Get(ctx context.Context, txID string) (*anchor.Anchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tx_id, agent_did, commit_hash, timestamp, cost_cents, is_simulated, created_at
         FROM chain_anchors WHERE tx_id = ?`, txID)

	var (
		a         anchor.Anchor
		costCents sql.NullInt64
		createdAt string
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
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// SQLiteRetryQueue is the SQLite-backed RetryQueue.
type SQLiteRetryQueue struct {
	db *sql.DB
}

func NewSQLiteRetryQueue(db *sql.DB) (*SQLiteRetryQueue, error) {
	q := &SQLiteRetryQueue{db: db}
	if err := q.migrate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteRetryQueue) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS retry_queue (
        id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        commit_hash TEXT NOT NULL,
        attempts INTEGER NOT NULL DEFAULT 0,
        next_retry DATETIME NOT NULL,
        last_error TEXT,
        resolved INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_retry_queue_session ON retry_queue (session_id);
    CREATE INDEX IF NOT EXISTS idx_retry_queue_next_retry ON retry_queue (resolved, next_retry);`
	_, err := q.db.ExecContext(context.Background(), query)
	return err
}

func (q *SQLiteRetryQueue) Enqueue(ctx context.Context, e *anchor.RetryEntry) error {
	query := `INSERT INTO retry_queue (id, session_id, commit_hash, attempts, next_retry, last_error, resolved, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.db.ExecContext(ctx, query,
		e.ID, e.SessionID, e.CommitHash, e.Attempts,
		e.NextRetry.UTC().Format(time.RFC3339Nano), e.LastError, e.Resolved,
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

func (q *SQLiteRetryQueue) Due(ctx context.Context, limit int) ([]*anchor.RetryEntry, error) {
	query := `SELECT id, session_id, commit_hash, attempts, next_retry, last_error, resolved, created_at, updated_at
        FROM retry_queue
        WHERE resolved = 0 AND next_retry <= ?
        ORDER BY next_retry ASC
        LIMIT ?`
	rows, err := q.db.QueryContext(ctx, query, time.Now().UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*anchor.RetryEntry
	for rows.Next() {
		var (
			e         anchor.RetryEntry
			nextRetry string
			lastError sql.NullString
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CommitHash, &e.Attempts,
			&nextRetry, &lastError, &e.Resolved, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		var perr error
		if e.NextRetry, perr = parseTime(nextRetry); perr != nil {
			return nil, perr
		}
		e.LastError = lastError.String
		if e.CreatedAt, perr = parseTime(createdAt); perr != nil {
			return nil, perr
		}
		if e.UpdatedAt, perr = parseTime(updatedAt); perr != nil {
			return nil, perr
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (q *SQLiteRetryQueue) MarkAttempt(ctx context.Context, id, lastError string, nextRetry time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE retry_queue SET attempts = attempts + 1, last_error = ?, next_retry = ?, updated_at = ? WHERE id = ?`,
		lastError, nextRetry.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark retry attempt: %w", err)
	}
	return requireRow(res)
}

func (q *SQLiteRetryQueue) Resolve(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE retry_queue SET resolved = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("resolve retry: %w", err)
	}
	return requireRow(res)
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}
