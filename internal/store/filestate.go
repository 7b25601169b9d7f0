package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// UpsertFileState writes one file's work record.
func (s *Store) UpsertFileState(ctx context.Context, fs *FileState) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if fs.UpdatedAt.IsZero() {
		fs.UpdatedAt = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO file_state (path, fingerprint, size, mod_time, status,
			reason, chunk_count, scan_generation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			mod_time = excluded.mod_time,
			status = excluded.status,
			reason = excluded.reason,
			chunk_count = excluded.chunk_count,
			scan_generation = excluded.scan_generation,
			updated_at = excluded.updated_at`,
		fs.Path, fs.Fingerprint, fs.Size, timeToDB(fs.ModTime), fs.Status,
		fs.Reason, fs.ChunkCount, fs.ScanGeneration, timeToDB(fs.UpdatedAt))
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "file state upsert failed", err)
	}
	return nil
}

// GetFileState returns one file's record, or nil when the path is unknown.
func (s *Store) GetFileState(ctx context.Context, path string) (*FileState, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, selectFileState+" WHERE path = ?", path)
	fs, err := scanFileStateFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return fs, err
}

// ListFileStates returns file records ordered by path, optionally filtered
// by status. Pass an empty status for all records.
func (s *Store) ListFileStates(ctx context.Context, status string) ([]*FileState, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := selectFileState
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY path"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "file state list failed", err)
	}
	defer rows.Close()

	var states []*FileState
	for rows.Next() {
		fs, err := scanFileStateFrom(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, fs)
	}
	return states, rows.Err()
}

// CountFileStates counts records with the given status, or all records when
// status is empty.
func (s *Store) CountFileStates(ctx context.Context, status string) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	query := "SELECT COUNT(*) FROM file_state"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "file state count failed", err)
	}
	return n, nil
}

// DeleteFileState removes one file's record. Unknown paths are a no-op.
func (s *Store) DeleteFileState(ctx context.Context, path string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM file_state WHERE path = ?", path); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "file state delete failed", err)
	}
	return nil
}

// MarkFileStatus updates only the status and reason of an existing record,
// creating it when absent.
func (s *Store) MarkFileStatus(ctx context.Context, path, status, reason string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO file_state (path, status, reason, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		path, status, reason, timeToDB(time.Now().UTC()))
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "file status update failed", err)
	}
	return nil
}

// ResetInterrupted requeues files that were mid-write when the previous run
// stopped. Returns how many files went back to pending.
func (s *Store) ResetInterrupted(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE file_state
		SET status = ?, reason = 'interrupted', updated_at = ?
		WHERE status = ?`,
		FileStatusPending, timeToDB(time.Now().UTC()), FileStatusIndexing)
	if err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "interrupted reset failed", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

const selectFileState = `
	SELECT path, fingerprint, size, mod_time, status, reason, chunk_count,
	       scan_generation, updated_at
	FROM file_state`

func scanFileStateFrom(row rowScanner) (*FileState, error) {
	var fs FileState
	var modTime, updatedAt string
	err := row.Scan(&fs.Path, &fs.Fingerprint, &fs.Size, &modTime, &fs.Status,
		&fs.Reason, &fs.ChunkCount, &fs.ScanGeneration, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "file state scan failed", err)
	}
	fs.ModTime = timeFromDB(modTime)
	fs.UpdatedAt = timeFromDB(updatedAt)
	return &fs, nil
}
