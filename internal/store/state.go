package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// Keys in the state table.
const (
	StateKeyModelID        = "embedding_model_id"
	StateKeyDimensions     = "embedding_dimensions"
	StateKeyScanGeneration = "scan_generation"
	StateKeyLastFullScan   = "last_full_scan"

	StateKeyCheckpointStage = "checkpoint_stage"
	StateKeyCheckpointTotal = "checkpoint_total_files"
	StateKeyCheckpointDone  = "checkpoint_done_files"
	StateKeyCheckpointModel = "checkpoint_model_id"
	StateKeyCheckpointAt    = "checkpoint_updated_at"
)

// StateSidecar is the JSON file next to the database. It mirrors the state
// the lifecycle engine needs during startup discrimination, readable without
// opening SQLite.
type StateSidecar struct {
	SchemaVersion  int       `json:"schema_version"`
	ScanGeneration int64     `json:"scan_generation"`
	ModelID        string    `json:"model_id,omitempty"`
	Dimensions     int       `json:"dimensions,omitempty"`
	LastFullScan   time.Time `json:"last_full_scan,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GetState returns a state value, empty when the key is unset.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}
	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.New(errors.ErrCodeStoreUnavailable, "state read failed", err)
	}
	return value, nil
}

// SetState writes a state value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, timeToDB(time.Now().UTC()))
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "state write failed", err)
	}
	return nil
}

// DeleteState removes a state key. Unknown keys are a no-op.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM state WHERE key = ?", key); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "state delete failed", err)
	}
	return nil
}

// SetModelInfo records which embedding model built this index. The lifecycle
// engine checks it on open; a model switch means a full rebuild.
func (s *Store) SetModelInfo(ctx context.Context, modelID string, dimensions int) error {
	if err := s.SetState(ctx, StateKeyModelID, modelID); err != nil {
		return err
	}
	if err := s.SetState(ctx, StateKeyDimensions, strconv.Itoa(dimensions)); err != nil {
		return err
	}
	return s.writeSidecar(ctx)
}

// ModelInfo returns the recorded model id and dimensions, empty and zero on
// a fresh index.
func (s *Store) ModelInfo(ctx context.Context) (string, int, error) {
	modelID, err := s.GetState(ctx, StateKeyModelID)
	if err != nil {
		return "", 0, err
	}
	dimsStr, err := s.GetState(ctx, StateKeyDimensions)
	if err != nil {
		return "", 0, err
	}
	dims := 0
	if dimsStr != "" {
		dims, _ = strconv.Atoi(dimsStr)
	}
	return modelID, dims, nil
}

// BumpScanGeneration starts a new scan generation and returns it. Progress
// counters reset with each generation.
func (s *Store) BumpScanGeneration(ctx context.Context) (int64, error) {
	current, err := s.ScanGeneration(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.SetState(ctx, StateKeyScanGeneration, strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	if err := s.writeSidecar(ctx); err != nil {
		s.log.Warn("state sidecar write failed", slog.String("error", err.Error()))
	}
	return next, nil
}

// ScanGeneration returns the current scan generation, zero on a fresh index.
func (s *Store) ScanGeneration(ctx context.Context) (int64, error) {
	value, err := s.GetState(ctx, StateKeyScanGeneration)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	gen, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return gen, nil
}

// SetLastFullScan records when a full scan completed.
func (s *Store) SetLastFullScan(ctx context.Context, t time.Time) error {
	if err := s.SetState(ctx, StateKeyLastFullScan, timeToDB(t)); err != nil {
		return err
	}
	return s.writeSidecar(ctx)
}

// SaveCheckpoint records indexing progress in the state table.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *IndexCheckpoint) error {
	pairs := map[string]string{
		StateKeyCheckpointStage: cp.Stage,
		StateKeyCheckpointTotal: strconv.Itoa(cp.TotalFiles),
		StateKeyCheckpointDone:  strconv.Itoa(cp.DoneFiles),
		StateKeyCheckpointModel: cp.ModelID,
		StateKeyCheckpointAt:    timeToDB(time.Now().UTC()),
	}
	for key, value := range pairs {
		if err := s.SetState(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// LoadCheckpoint returns the saved checkpoint, or nil when none exists.
func (s *Store) LoadCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	stage, err := s.GetState(ctx, StateKeyCheckpointStage)
	if err != nil {
		return nil, err
	}
	if stage == "" {
		return nil, nil
	}

	cp := &IndexCheckpoint{Stage: stage}
	if v, err := s.GetState(ctx, StateKeyCheckpointTotal); err == nil && v != "" {
		cp.TotalFiles, _ = strconv.Atoi(v)
	}
	if v, err := s.GetState(ctx, StateKeyCheckpointDone); err == nil && v != "" {
		cp.DoneFiles, _ = strconv.Atoi(v)
	}
	if v, err := s.GetState(ctx, StateKeyCheckpointModel); err == nil {
		cp.ModelID = v
	}
	if v, err := s.GetState(ctx, StateKeyCheckpointAt); err == nil {
		cp.UpdatedAt = timeFromDB(v)
	}
	return cp, nil
}

// ClearCheckpoint removes the checkpoint after indexing completes.
func (s *Store) ClearCheckpoint(ctx context.Context) error {
	keys := []string{
		StateKeyCheckpointStage,
		StateKeyCheckpointTotal,
		StateKeyCheckpointDone,
		StateKeyCheckpointModel,
		StateKeyCheckpointAt,
	}
	for _, key := range keys {
		if err := s.DeleteState(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ReadStateSidecar reads a folder's state sidecar without opening the
// database. Returns nil when no sidecar exists.
func ReadStateSidecar(folderPath string) (*StateSidecar, error) {
	data, err := os.ReadFile(StatePath(folderPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(errors.ErrCodeStoreOpen, "state sidecar read failed", err)
	}
	var sc StateSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, errors.New(errors.ErrCodeStoreCorrupted, "state sidecar is not valid JSON", err).
			WithDetail("path", StatePath(folderPath))
	}
	return &sc, nil
}

// writeSidecar refreshes the JSON sidecar from the state table.
func (s *Store) writeSidecar(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return s.writeSidecarWith(ctx, db)
}

// writeSidecarLocked is the variant Close uses while holding the write lock.
func (s *Store) writeSidecarLocked(ctx context.Context) {
	if s.db == nil {
		return
	}
	if err := s.writeSidecarWith(ctx, s.db); err != nil {
		s.log.Warn("state sidecar write failed", slog.String("error", err.Error()))
	}
}

func (s *Store) writeSidecarWith(ctx context.Context, db *sql.DB) error {
	sc := StateSidecar{UpdatedAt: time.Now().UTC()}

	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_info").Scan(&sc.SchemaVersion); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "sidecar schema read failed", err)
	}

	readState := func(key string) (string, error) {
		var value string
		err := db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&value)
		if err == sql.ErrNoRows {
			return "", nil
		}
		return value, err
	}

	if v, err := readState(StateKeyScanGeneration); err == nil && v != "" {
		sc.ScanGeneration, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, err := readState(StateKeyModelID); err == nil {
		sc.ModelID = v
	}
	if v, err := readState(StateKeyDimensions); err == nil && v != "" {
		sc.Dimensions, _ = strconv.Atoi(v)
	}
	if v, err := readState(StateKeyLastFullScan); err == nil && v != "" {
		sc.LastFullScan = timeFromDB(v)
	}

	data, err := json.MarshalIndent(&sc, "", "  ")
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "sidecar marshal failed", err)
	}

	path := StatePath(s.folderPath)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "sidecar write failed", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(errors.ErrCodeStoreUnavailable, "sidecar rename failed", err)
	}
	return nil
}
