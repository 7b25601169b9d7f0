package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// Keyword index backends.
const (
	// KeywordBackendFTS uses SQLite FTS5 inside the metadata database.
	// Trigger-synchronized, so it cannot drift from the chunk rows.
	KeywordBackendFTS = "fts5"

	// KeywordBackendBleve uses a bleve directory index next to the database.
	KeywordBackendBleve = "bleve"
)

// KeywordIndex is the keyword search half of the hybrid store, keyed by
// chunk rowid like the vector index. The FTS5 implementation is fed by
// database triggers and treats Index and Delete as no-ops; the bleve
// implementation maintains its own files.
type KeywordIndex interface {
	Index(ctx context.Context, entries []KeywordEntry) error
	Delete(ctx context.Context, rowids []int64) error
	Search(ctx context.Context, query string, limit int) ([]KeywordMatch, error)
	Count() (int, error)
	Close() error
}

// NewKeywordIndex builds the keyword index for the configured backend. The
// FTS5 backend shares the metadata database handle; the bleve backend keeps
// its index under dir.
func NewKeywordIndex(backend string, db *sql.DB, dir string) (KeywordIndex, error) {
	switch backend {
	case KeywordBackendFTS, "":
		return NewFTSKeywordIndex(db), nil
	case KeywordBackendBleve:
		return NewBleveKeywordIndex(filepath.Join(dir, KeywordDirName))
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown keyword backend %q (valid: fts5, bleve)", backend), nil)
	}
}
