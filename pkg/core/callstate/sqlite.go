package callstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a local SQLite file for single-node
// deployments that want sessions to survive a restart. Writes run in
// IMMEDIATE transactions so concurrent Apply calls serialize on the
// database write lock.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewSQLiteStore(dbPath string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS call_sessions (
		call_id TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_sessions_expires ON call_sessions(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, callID string) (CallSession, error) {
	if s == nil || s.db == nil {
		return CallSession{}, fmt.Errorf("%w: nil database", ErrUnavailable)
	}
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM call_sessions WHERE call_id = ? AND expires_at > ?`,
		callID, s.now().UnixNano(),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, ErrNotFound
	}
	if err != nil {
		return CallSession{}, unavailable("sqlite get", err)
	}
	return decodeSession(body)
}

func (s *SQLiteStore) Create(ctx context.Context, callID string) (CallSession, error) {
	if s == nil || s.db == nil {
		return CallSession{}, fmt.Errorf("%w: nil database", ErrUnavailable)
	}
	now := s.now()
	sess := NewCallSession(callID, now)
	body, err := encodeSession(sess)
	if err != nil {
		return CallSession{}, err
	}

	// An expired row for the same id is replaced; a live one is kept.
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO call_sessions (call_id, body, expires_at) VALUES (?, ?, ?)
	ON CONFLICT(call_id) DO UPDATE SET
		body = excluded.body,
		expires_at = excluded.expires_at
	WHERE call_sessions.expires_at <= ?`,
		callID, body, now.Add(s.ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return CallSession{}, unavailable("sqlite insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CallSession{}, unavailable("sqlite insert", err)
	}
	if n == 0 {
		return CallSession{}, ErrAlreadyExists
	}
	return sess, nil
}

func (s *SQLiteStore) Apply(ctx context.Context, callID string, fn Mutation) (CallSession, error) {
	if s == nil || s.db == nil {
		return CallSession{}, fmt.Errorf("%w: nil database", ErrUnavailable)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CallSession{}, unavailable("sqlite begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	var body []byte
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM call_sessions WHERE call_id = ? AND expires_at > ?`,
		callID, now.UnixNano(),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, ErrNotFound
	}
	if err != nil {
		return CallSession{}, unavailable("sqlite select", err)
	}

	sess, err := decodeSession(body)
	if err != nil {
		return CallSession{}, err
	}
	if err := applyMutation(&sess, fn, now); err != nil {
		return CallSession{}, err
	}
	body, err = encodeSession(sess)
	if err != nil {
		return CallSession{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE call_sessions SET body = ?, expires_at = ? WHERE call_id = ?`,
		body, now.Add(s.ttl).UnixNano(), callID,
	); err != nil {
		return CallSession{}, unavailable("sqlite update", err)
	}
	if err := tx.Commit(); err != nil {
		return CallSession{}, unavailable("sqlite commit", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM call_sessions WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, unavailable("sqlite sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("sqlite sweep", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
