// Package ledger persists upload bookkeeping in SQLite: sessions left open
// by a failed transfer, so they can be resumed or cancelled later, and the
// per-file outcome history of every run.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no pending session exists for a path.
var ErrNotFound = errors.New("ledger: pending session not found")

// History status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// PendingSession is an upload session that is still open server-side.
// SessionURL is pre-authenticated and must never be logged.
type PendingSession struct {
	LocalPath  string
	RunID      string
	FolderID   string
	FolderName string
	FileName   string
	SessionURL string
	TotalBytes int64
	ChunkSize  int64
	Offset     int64
	Mtime      int64 // unix nanoseconds of the local file when the session opened
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HistoryEntry is the outcome of one file in one run.
type HistoryEntry struct {
	ID           int64
	RunID        string
	LocalPath    string
	RemoteFolder string
	FileName     string
	ItemID       string
	Size         int64
	Elapsed      time.Duration
	Status       string
	Error        string
	FinishedAt   time.Time
}

const sqlUpsertPending = `
INSERT INTO pending_sessions (
    local_path, run_id, folder_id, folder_name, file_name, session_url,
    total_bytes, chunk_size, offset_bytes, mtime, expires_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (local_path) DO UPDATE SET
    run_id = excluded.run_id,
    folder_id = excluded.folder_id,
    folder_name = excluded.folder_name,
    file_name = excluded.file_name,
    session_url = excluded.session_url,
    total_bytes = excluded.total_bytes,
    chunk_size = excluded.chunk_size,
    offset_bytes = excluded.offset_bytes,
    mtime = excluded.mtime,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`

const sqlSelectPending = `
SELECT local_path, run_id, folder_id, folder_name, file_name, session_url,
       total_bytes, chunk_size, offset_bytes, mtime, expires_at, created_at, updated_at
FROM pending_sessions`

const sqlInsertHistory = `
INSERT INTO upload_history (
    run_id, local_path, remote_folder, file_name, item_id, size,
    elapsed_ms, status, error_msg, finished_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Ledger wraps the upload database. All writes go through a single
// connection.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at dbPath and applies any
// pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("upload ledger opened", slog.String("db_path", dbPath))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// SavePending records (or replaces) the open session for p.LocalPath.
func (l *Ledger) SavePending(ctx context.Context, p PendingSession) error {
	now := l.nowFunc().Unix()

	_, err := l.db.ExecContext(ctx, sqlUpsertPending,
		p.LocalPath, p.RunID, p.FolderID, p.FolderName, p.FileName, p.SessionURL,
		p.TotalBytes, p.ChunkSize, p.Offset, p.Mtime, nullUnix(p.ExpiresAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("ledger: saving pending session for %s: %w", p.LocalPath, err)
	}

	return nil
}

// UpdateOffset moves the acknowledged offset of a pending session forward.
func (l *Ledger) UpdateOffset(ctx context.Context, localPath string, offset int64) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE pending_sessions SET offset_bytes = MAX(offset_bytes, ?), updated_at = ? WHERE local_path = ?`,
		offset, l.nowFunc().Unix(), localPath)
	if err != nil {
		return fmt.Errorf("ledger: updating offset for %s: %w", localPath, err)
	}

	return requireRow(res, localPath)
}

// Pending returns the pending session for localPath, or ErrNotFound.
func (l *Ledger) Pending(ctx context.Context, localPath string) (*PendingSession, error) {
	row := l.db.QueryRowContext(ctx, sqlSelectPending+` WHERE local_path = ?`, localPath)

	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, localPath)
	}

	if err != nil {
		return nil, fmt.Errorf("ledger: reading pending session for %s: %w", localPath, err)
	}

	return p, nil
}

// ListPending returns all pending sessions, oldest first.
func (l *Ledger) ListPending(ctx context.Context) ([]PendingSession, error) {
	rows, err := l.db.QueryContext(ctx, sqlSelectPending+` ORDER BY created_at, local_path`)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing pending sessions: %w", err)
	}
	defer rows.Close()

	var out []PendingSession

	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scanning pending session: %w", err)
		}

		out = append(out, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: listing pending sessions: %w", err)
	}

	return out, nil
}

// DeletePending forgets the session for localPath. Deleting a missing row
// is not an error.
func (l *Ledger) DeletePending(ctx context.Context, localPath string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM pending_sessions WHERE local_path = ?`, localPath); err != nil {
		return fmt.Errorf("ledger: deleting pending session for %s: %w", localPath, err)
	}

	return nil
}

// RecordOutcome appends one history row. A zero FinishedAt is stamped with
// the current time.
func (l *Ledger) RecordOutcome(ctx context.Context, e HistoryEntry) error {
	finished := e.FinishedAt
	if finished.IsZero() {
		finished = l.nowFunc()
	}

	_, err := l.db.ExecContext(ctx, sqlInsertHistory,
		e.RunID, e.LocalPath, e.RemoteFolder, e.FileName, nullString(e.ItemID), e.Size,
		e.Elapsed.Milliseconds(), e.Status, nullString(e.Error), finished.Unix(),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording outcome for %s: %w", e.LocalPath, err)
	}

	return nil
}

// History returns the outcomes of one run in insertion order.
func (l *Ledger) History(ctx context.Context, runID string) ([]HistoryEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, run_id, local_path, remote_folder, file_name, item_id, size,
       elapsed_ms, status, error_msg, finished_at
FROM upload_history WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading history for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []HistoryEntry

	for rows.Next() {
		var (
			e          HistoryEntry
			itemID     sql.NullString
			errMsg     sql.NullString
			elapsedMs  int64
			finishedAt int64
		)

		if err := rows.Scan(&e.ID, &e.RunID, &e.LocalPath, &e.RemoteFolder, &e.FileName, &itemID,
			&e.Size, &elapsedMs, &e.Status, &errMsg, &finishedAt); err != nil {
			return nil, fmt.Errorf("ledger: scanning history row: %w", err)
		}

		e.ItemID = itemID.String
		e.Error = errMsg.String
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		e.FinishedAt = time.Unix(finishedAt, 0)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: loading history for run %s: %w", runID, err)
	}

	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPending(s scanner) (*PendingSession, error) {
	var (
		p         PendingSession
		expiresAt sql.NullInt64
		created   int64
		updated   int64
	)

	err := s.Scan(&p.LocalPath, &p.RunID, &p.FolderID, &p.FolderName, &p.FileName, &p.SessionURL,
		&p.TotalBytes, &p.ChunkSize, &p.Offset, &p.Mtime, &expiresAt, &created, &updated)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		p.ExpiresAt = time.Unix(expiresAt.Int64, 0)
	}

	p.CreatedAt = time.Unix(created, 0)
	p.UpdatedAt = time.Unix(updated, 0)

	return &p, nil
}

func requireRow(res sql.Result, localPath string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: checking update for %s: %w", localPath, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, localPath)
	}

	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func nullUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
