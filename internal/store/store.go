package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// Options configures Open.
type Options struct {
	// KeywordBackend selects the keyword index implementation: "fts5"
	// (default, shares the metadata database) or "bleve".
	KeywordBackend string

	// Vector configures the HNSW index. Dimensions may be zero; the first
	// added vector fixes them.
	Vector VectorIndexConfig

	Logger *slog.Logger
}

// Store is the hybrid index for one folder. It owns the SQLite connection,
// the in-memory vector graph, the keyword index, and the exclusive lock on
// the hidden directory. A Store is safe for concurrent use; SQLite access is
// serialized through a single connection.
type Store struct {
	mu         sync.RWMutex
	folderPath string
	dir        string
	db         *sql.DB
	vectors    *VectorIndex
	keyword    KeywordIndex
	backend    string
	lock       *flock.Flock
	log        *slog.Logger
	closed     bool
}

// Open opens or creates the hybrid index for folderPath. It acquires an
// exclusive lock on the hidden directory; a second opener gets
// ErrCodeStoreLocked. Structural damage in the database surfaces as
// ErrCodeStoreCorrupted with the files left in place so recovery can rename
// them aside. A database written by a newer schema refuses to open with
// ErrCodeSchemaMismatch.
func Open(ctx context.Context, folderPath string, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	backend := opts.KeywordBackend
	if backend == "" {
		backend = KeywordBackendFTS
	}

	dir := HiddenDir(folderPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeStoreOpen,
			fmt.Sprintf("cannot create index directory %s", dir), err)
	}

	s := &Store{
		folderPath: folderPath,
		dir:        dir,
		backend:    backend,
		log:        log,
	}

	if err := s.acquireLock(); err != nil {
		return nil, err
	}

	dbPath := DBPath(folderPath)
	if err := validateIntegrity(ctx, dbPath); err != nil {
		s.releaseLock()
		return nil, err
	}

	db, err := openDatabase(ctx, dbPath)
	if err != nil {
		s.releaseLock()
		return nil, err
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		s.releaseLock()
		return nil, err
	}

	vectors, err := openVectors(folderPath, opts.Vector, log)
	if err != nil {
		_ = db.Close()
		s.releaseLock()
		return nil, err
	}
	s.vectors = vectors

	keyword, err := NewKeywordIndex(backend, db, dir)
	if err != nil {
		_ = db.Close()
		s.releaseLock()
		return nil, err
	}
	s.keyword = keyword

	if err := s.backfillKeywordIndex(ctx); err != nil {
		log.Warn("keyword backfill failed", slog.String("folder", folderPath), slog.String("error", err.Error()))
	}

	if err := s.writeSidecar(ctx); err != nil {
		log.Warn("state sidecar write failed", slog.String("folder", folderPath), slog.String("error", err.Error()))
	}

	log.Info("store opened",
		slog.String("folder", folderPath),
		slog.String("keyword_backend", backend),
		slog.Int("vector_count", vectors.Count()))

	return s, nil
}

// FolderPath returns the folder this store indexes.
func (s *Store) FolderPath() string {
	return s.folderPath
}

// KeywordBackend returns the active keyword index backend name.
func (s *Store) KeywordBackend() string {
	return s.backend
}

// Vectors exposes the vector index for search and reconciliation.
func (s *Store) Vectors() *VectorIndex {
	return s.vectors
}

// Close flushes the vector index, checkpoints the WAL, closes everything, and
// releases the directory lock. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error

	if s.vectors != nil {
		if err := s.vectors.SaveIfDirty(VectorsPath(s.folderPath)); err != nil && firstErr == nil {
			firstErr = err
		}
		s.vectors.Close()
	}

	if s.keyword != nil {
		if err := s.keyword.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.db != nil {
		s.writeSidecarLocked(context.Background())
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.db = nil
	}

	s.releaseLock()

	s.log.Info("store closed", slog.String("folder", s.folderPath))
	return firstErr
}

// SaveVectors flushes the vector graph to disk if it changed since the last
// save. The lifecycle engine calls this on checkpoints so a crash loses at
// most one checkpoint interval of graph work.
func (s *Store) SaveVectors() error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errors.New(errors.ErrCodeStoreClosed, "store is closed", nil)
	}
	return s.vectors.SaveIfDirty(VectorsPath(s.folderPath))
}

// VectorStats returns graph occupancy counts for compaction decisions.
func (s *Store) VectorStats() VectorIndexStats {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return VectorIndexStats{}
	}
	return s.vectors.Stats()
}

// CompactVectors evicts lazily deleted nodes from the vector graph and
// persists the smaller graph. Interruption through ctx keeps what was
// already evicted; the next run finishes the rest.
func (s *Store) CompactVectors(ctx context.Context) (int, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return 0, errors.New(errors.ErrCodeStoreClosed, "store is closed", nil)
	}

	removed, err := s.vectors.Compact(ctx)
	if removed == 0 {
		return 0, err
	}
	if saveErr := s.vectors.SaveIfDirty(VectorsPath(s.folderPath)); saveErr != nil && err == nil {
		err = saveErr
	}
	s.log.Info("vector graph compacted",
		slog.String("folder", s.folderPath),
		slog.Int("removed", removed),
		slog.Int("remaining", s.vectors.Count()))
	return removed, err
}

// VectorSearch runs ANN top-k over the folder's vectors. Results are keyed
// by chunk rowid, best first.
func (s *Store) VectorSearch(ctx context.Context, query []float32, k int) ([]VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.ErrCodeStoreClosed, "store is closed", nil)
	}
	return s.vectors.Search(query, k)
}

// KeywordSearch runs the keyword index, best match first.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int) ([]KeywordMatch, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.ErrCodeStoreClosed, "store is closed", nil)
	}
	return s.keyword.Search(ctx, query, limit)
}

// conn returns the database handle, or an error when the store is closed.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "store is not open", nil)
	}
	return s.db, nil
}

func (s *Store) acquireLock() error {
	lock := flock.New(lockPath(s.folderPath))
	acquired, err := lock.TryLock()
	if err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "cannot acquire index lock", err).
			WithDetail("path", lock.Path())
	}
	if !acquired {
		return errors.New(errors.ErrCodeStoreLocked,
			fmt.Sprintf("index for %s is already open in another process", s.folderPath), nil).
			WithSuggestion("stop the other foldermcp process or wait for it to finish")
	}
	s.lock = lock
	return nil
}

func (s *Store) releaseLock() {
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("lock release failed", slog.String("error", err.Error()))
		}
		s.lock = nil
	}
}

func lockPath(folderPath string) string {
	return filepath.Join(HiddenDir(folderPath), LockFileName)
}

// openDatabase opens the SQLite file and applies the session pragmas. The
// modernc driver ignores mattn-style DSN parameters, so every pragma is
// executed explicitly.
func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreOpen, "cannot open database", err).
			WithDetail("path", path)
	}

	// One connection: SQLite serializes writers anyway, and a single handle
	// keeps WAL snapshots and in-memory temp state coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.New(errors.ErrCodeStoreOpen,
				fmt.Sprintf("pragma failed: %s", pragma), err).WithDetail("path", path)
		}
	}

	return db, nil
}

// validateIntegrity checks an existing database before the real open. It
// distinguishes structural damage (ErrCodeStoreCorrupted) from everything
// else: a missing or empty file is a fresh start, and open failures caused by
// the environment keep their cause so recovery can classify them.
func validateIntegrity(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "cannot stat database", err).
			WithDetail("path", path)
	}
	if info.Size() == 0 {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "cannot open database read-only", err).
			WithDetail("path", path)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		// "file is not a database" and friends are structural damage.
		if isMalformedError(err) {
			return errors.New(errors.ErrCodeStoreCorrupted, "database file is not readable as SQLite", err).
				WithDetail("path", path)
		}
		return errors.New(errors.ErrCodeStoreOpen, "integrity check failed to run", err).
			WithDetail("path", path)
	}
	if result != "ok" {
		return errors.New(errors.ErrCodeStoreCorrupted,
			fmt.Sprintf("integrity check reported: %s", result), nil).
			WithDetail("path", path)
	}

	// A non-empty database that passed the page-level check must carry our
	// schema marker; tables without it mean the file belongs to something
	// else or lost its first transaction.
	var tables int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables); err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "schema probe failed", err).WithDetail("path", path)
	}
	if tables == 0 {
		return nil
	}
	var hasSchemaInfo int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_info'").Scan(&hasSchemaInfo); err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "schema probe failed", err).WithDetail("path", path)
	}
	if hasSchemaInfo == 0 {
		return errors.New(errors.ErrCodeStoreCorrupted,
			"database has tables but no schema_info marker", nil).
			WithDetail("path", path)
	}

	return nil
}

func isMalformedError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "file is encrypted")
}

// openVectors loads the existing vector index or starts an empty one.
func openVectors(folderPath string, cfg VectorIndexConfig, log *slog.Logger) (*VectorIndex, error) {
	path := VectorsPath(folderPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewVectorIndex(cfg), nil
	}

	idx, err := LoadVectorIndex(path, cfg)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreCorrupted, "vector index failed to load", err).
			WithDetail("path", path)
	}
	log.Debug("vector index loaded",
		slog.String("path", path),
		slog.Int("count", idx.Count()),
		slog.Int("dimensions", idx.Dimensions()))
	return idx, nil
}

// backfillKeywordIndex repopulates an external keyword index that is empty
// while chunks exist. The FTS5 backend cannot drift (triggers keep it in
// step); the bleve backend can, after its directory was cleared on
// corruption.
func (s *Store) backfillKeywordIndex(ctx context.Context) error {
	if s.backend != KeywordBackendBleve {
		return nil
	}

	count, err := s.keyword.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	chunks, err := s.CountChunks(ctx)
	if err != nil {
		return err
	}
	if chunks == 0 {
		return nil
	}

	s.log.Info("rebuilding keyword index",
		slog.String("folder", s.folderPath), slog.Int("chunks", chunks))

	rows, err := s.db.QueryContext(ctx, "SELECT id, content FROM chunks ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	const batchSize = 256
	batch := make([]KeywordEntry, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.keyword.Index(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		var entry KeywordEntry
		if err := rows.Scan(&entry.Rowid, &entry.Content); err != nil {
			return err
		}
		batch = append(batch, entry)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}
