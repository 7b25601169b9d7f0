package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// CurrentSchemaVersion is the schema this build writes. Databases stamped
// with a higher version refuse to open; downgrading a binary must never
// rewrite data it does not understand.
const CurrentSchemaVersion = 2

type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, name: "initial schema", apply: applyInitialSchema},
	{version: 2, name: "query term frequencies", apply: applyQueryTerms},
}

// migrate brings the database to CurrentSchemaVersion. Each migration runs in
// its own transaction together with its schema_info stamp, so an interrupted
// upgrade resumes at the first unapplied version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_info (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "cannot create schema_info", err)
	}

	var stored int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_info").Scan(&stored); err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "cannot read schema version", err)
	}

	if stored > CurrentSchemaVersion {
		return errors.New(errors.ErrCodeSchemaMismatch,
			fmt.Sprintf("index schema version %d is newer than this build supports (%d)",
				stored, CurrentSchemaVersion), nil).
			WithSuggestion("upgrade foldermcp, or remove the folder and re-add it to rebuild the index")
	}

	for _, m := range migrations {
		if m.version <= stored {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		s.log.Info("schema migration applied",
			slog.Int("version", m.version), slog.String("name", m.name))
	}

	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "cannot begin migration transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.apply(ctx, tx); err != nil {
		return errors.New(errors.ErrCodeStoreOpen,
			fmt.Sprintf("migration %d (%s) failed", m.version, m.name), err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_info (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "cannot stamp migration", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStoreOpen, "cannot commit migration", err)
	}
	return nil
}

// SchemaVersion reports the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_info").Scan(&v); err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "cannot read schema version", err)
	}
	return v, nil
}

func applyInitialSchema(ctx context.Context, tx *sql.Tx) error {
	const schema = `
	CREATE TABLE documents (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		path        TEXT NOT NULL UNIQUE,
		title       TEXT NOT NULL DEFAULT '',
		class       TEXT NOT NULL DEFAULT 'text',
		language    TEXT NOT NULL DEFAULT '',
		size        INTEGER NOT NULL DEFAULT 0,
		mod_time    TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		page_count  INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		indexed_at  TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	-- chunks.id is the rowid keying the vector and keyword indexes.
	-- AUTOINCREMENT keeps rowids monotonic so deleted chunks never donate
	-- their key to a new row while the vector graph still holds the old one.
	CREATE TABLE chunks (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk_id       TEXT NOT NULL,
		document_id    INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		seq            INTEGER NOT NULL,
		content        TEXT NOT NULL,
		context        TEXT NOT NULL DEFAULT '',
		content_type   TEXT NOT NULL DEFAULT 'text',
		language       TEXT NOT NULL DEFAULT '',
		start_line     INTEGER NOT NULL DEFAULT 0,
		end_line       INTEGER NOT NULL DEFAULT 0,
		start_byte     INTEGER NOT NULL DEFAULT 0,
		heading_trail  TEXT NOT NULL DEFAULT '[]',
		page           INTEGER,
		token_estimate INTEGER NOT NULL DEFAULT 0,
		key_phrases    TEXT NOT NULL DEFAULT '[]',
		topics         TEXT NOT NULL DEFAULT '[]',
		readability    REAL NOT NULL DEFAULT 0,
		fts_tokens     TEXT NOT NULL DEFAULT '',
		embedded       INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		UNIQUE (document_id, seq)
	);
	CREATE INDEX idx_chunks_document ON chunks(document_id);
	CREATE INDEX idx_chunks_chunk_id ON chunks(chunk_id);
	CREATE INDEX idx_chunks_embedded ON chunks(embedded);

	CREATE TABLE file_state (
		path            TEXT PRIMARY KEY,
		fingerprint     TEXT NOT NULL DEFAULT '',
		size            INTEGER NOT NULL DEFAULT 0,
		mod_time        TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'pending',
		reason          TEXT NOT NULL DEFAULT '',
		chunk_count     INTEGER NOT NULL DEFAULT 0,
		scan_generation INTEGER NOT NULL DEFAULT 0,
		updated_at      TEXT NOT NULL
	);
	CREATE INDEX idx_file_state_status ON file_state(status);

	CREATE TABLE state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE search_metrics (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		query_type   TEXT NOT NULL,
		latency_ms   INTEGER NOT NULL,
		result_count INTEGER NOT NULL,
		fallback     TEXT NOT NULL DEFAULT '',
		recorded_at  TEXT NOT NULL
	);

	-- External-content FTS index over the pre-tokenized chunk text. The
	-- triggers keep it in step with chunks inside the same transaction, so
	-- the keyword index can never drift from the relational rows.
	CREATE VIRTUAL TABLE chunks_fts USING fts5(
		fts_tokens,
		content='chunks',
		content_rowid='id',
		tokenize='unicode61'
	);

	CREATE TRIGGER chunks_fts_insert AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, fts_tokens) VALUES (new.id, new.fts_tokens);
	END;
	CREATE TRIGGER chunks_fts_delete AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, fts_tokens) VALUES ('delete', old.id, old.fts_tokens);
	END;
	CREATE TRIGGER chunks_fts_update AFTER UPDATE OF fts_tokens ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, fts_tokens) VALUES ('delete', old.id, old.fts_tokens);
		INSERT INTO chunks_fts(rowid, fts_tokens) VALUES (new.id, new.fts_tokens);
	END;
	`
	_, err := tx.ExecContext(ctx, schema)
	return err
}

func applyQueryTerms(ctx context.Context, tx *sql.Tx) error {
	const schema = `
	CREATE TABLE query_terms (
		term      TEXT PRIMARY KEY,
		count     INTEGER NOT NULL DEFAULT 1,
		last_seen TEXT NOT NULL
	);
	CREATE INDEX idx_query_terms_count ON query_terms(count DESC);
	`
	_, err := tx.ExecContext(ctx, schema)
	return err
}
