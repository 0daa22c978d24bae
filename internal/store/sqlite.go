// Package store persists suspension records in SQLite so approvals survive
// process restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"codeforge/internal/approval"
	"codeforge/internal/logging"
)

// ErrNotFound means no record exists for the handle. A resume hitting this
// after a successful claim is a replay, not a bug.
var ErrNotFound = errors.New("suspension record not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS suspensions (
	handle     TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suspensions_created ON suspensions(created_at);
`

// SQLiteStore implements approval.RecordStore on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the store at path. ":memory:" works for tests.
func Open(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open suspension store: %w", err)
	}
	// Claim runs a read-then-delete transaction; a second connection would
	// let two claims interleave.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init suspension schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logging.OrNop(logger).Named("store")}, nil
}

// Put inserts a record. Handles are UUIDs; a collision is a caller bug and
// surfaces as a constraint error.
func (s *SQLiteStore) Put(ctx context.Context, record *approval.SuspensionRecord) error {
	data, err := record.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO suspensions (handle, record, created_at) VALUES (?, ?, ?)`,
		record.Handle, string(data), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert suspension %s: %w", record.Handle, err)
	}
	return nil
}

// Claim fetches and deletes the record in one transaction. Exactly one
// caller wins; all later claims for the handle get ErrNotFound.
func (s *SQLiteStore) Claim(ctx context.Context, handle string) (*approval.SuspensionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT record FROM suspensions WHERE handle = ?`, handle).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", handle, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM suspensions WHERE handle = ?`, handle); err != nil {
		return nil, fmt.Errorf("claim %s: %w", handle, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim %s: %w", handle, err)
	}

	record, err := approval.DecodeRecord([]byte(data))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("suspension claimed", zap.String("handle", handle))
	return record, nil
}

// List returns pending records oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*approval.SuspensionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM suspensions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list suspensions: %w", err)
	}
	defer rows.Close()

	var records []*approval.SuspensionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan suspension: %w", err)
		}
		record, err := approval.DecodeRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeleteOlderThan drops records created before cutoff and reports how many.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM suspensions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired suspensions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
