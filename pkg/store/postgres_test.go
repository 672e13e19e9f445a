package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emohunter/trustanchor/pkg/anchor"
)

func TestPostgresReceiptCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresReceiptStore(db)
	r := testReceipt("sess-pg")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO receipts`)).
		WithArgs(r.SessionID, r.ConsentID, r.UserUID, sqlmock.AnyArg(), "low",
			int64(125), r.Timestamp, r.CommitHash, r.Signature, r.AgentDID,
			nil, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := s.Create(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReceiptCreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresReceiptStore(db)

	// ON CONFLICT DO NOTHING reports zero rows for a duplicate session.
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO receipts`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := s.Create(context.Background(), testReceipt("sess-pg"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReceiptGetBySessionID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresReceiptStore(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"session_id", "consent_id", "user_uid", "model_hashes", "risk_bucket",
		"cost_cents", "timestamp", "commit_hash", "signature", "agent_did",
		"tx_id", "retry_count", "created_at",
	}).AddRow("sess-pg", "consent-1", "user-1", `{"llm":"abc"}`, "medium",
		nil, int64(1700000000), "hash-1", "sig-1", "did:kite:emohunter",
		"tx_sim_0011223344556677", 2, now)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM receipts WHERE session_id = $1`)).
		WithArgs("sess-pg").
		WillReturnRows(rows)

	got, err := s.GetBySessionID(context.Background(), "sess-pg")
	require.NoError(t, err)
	assert.Equal(t, "sess-pg", got.SessionID)
	assert.Equal(t, map[string]string{"llm": "abc"}, got.ModelHashes)
	assert.Nil(t, got.CostCents)
	assert.Equal(t, "tx_sim_0011223344556677", got.TxID)
	assert.Equal(t, 2, got.RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReceiptNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresReceiptStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM receipts WHERE session_id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))

	_, err = s.GetBySessionID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresReceiptResolveTxID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresReceiptStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE receipts SET tx_id = $1 WHERE session_id = $2`)).
		WithArgs("tx-1", "sess-pg").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ResolveTxID(context.Background(), "sess-pg", "tx-1"))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE receipts SET tx_id = $1 WHERE session_id = $2`)).
		WithArgs("tx-1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.ResolveTxID(context.Background(), "missing", "tx-1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAnchorGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresAnchorStore(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"tx_id", "agent_did", "commit_hash", "timestamp", "cost_cents", "is_simulated", "created_at",
	}).AddRow("tx-1", "did:kite:emohunter", "hash-1", int64(1700000000), int64(50), false, now)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM chain_anchors WHERE tx_id = $1`)).
		WithArgs("tx-1").
		WillReturnRows(rows)

	got, err := s.Get(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.CommitHash)
	require.NotNil(t, got.CostCents)
	assert.Equal(t, int64(50), *got.CostCents)
	assert.False(t, got.Simulated)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM chain_anchors WHERE tx_id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"tx_id"}))

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, anchor.ErrNotFound)
}

func TestPostgresRetryQueueDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	q := NewPostgresRetryQueue(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "commit_hash", "attempts", "next_retry",
		"last_error", "resolved", "created_at", "updated_at",
	}).AddRow("entry-1", "sess-1", "hash-1", 3, now.Add(-time.Minute),
		"connection refused", false, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM retry_queue`)).
		WithArgs(25).
		WillReturnRows(rows)

	entries, err := q.Due(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entry-1", entries[0].ID)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.Equal(t, "connection refused", entries[0].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
