package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// maxSQLParams keeps IN clauses under SQLite's bound-parameter limit.
const maxSQLParams = 500

// GetDocument returns the document at a folder-relative path, or nil when it
// is not indexed.
func (s *Store) GetDocument(ctx context.Context, path string) (*Document, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, selectDocument+" WHERE path = ?", path)
	return scanDocument(row)
}

// GetDocumentByID returns a document by its id, or nil when absent.
func (s *Store) GetDocumentByID(ctx context.Context, id int64) (*Document, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, selectDocument+" WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns one page of documents ordered by id. The second
// return value is the cursor for the next page, zero when this page is the
// last.
func (s *Store) ListDocuments(ctx context.Context, opts ListDocumentsOptions) ([]*Document, int64, error) {
	db, err := s.conn()
	if err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := selectDocument + " WHERE id > ?"
	args := []any{opts.AfterID}
	if opts.PathPrefix != "" {
		query += " AND path LIKE ? ESCAPE '\\'"
		args = append(args, escapeLike(opts.PathPrefix)+"%")
	}
	if opts.Extension != "" {
		ext := opts.Extension
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		query += " AND path LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(ext))
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.New(errors.ErrCodeStoreUnavailable, "document list failed", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.New(errors.ErrCodeStoreUnavailable, "document list failed", err)
	}

	var next int64
	if len(docs) == limit {
		next = docs[len(docs)-1].ID
	}
	return docs, next, nil
}

// RecentDocuments returns up to limit documents ordered by most recent
// modification time. The substring search fallback scans these when the
// query cannot be embedded.
func (s *Store) RecentDocuments(ctx context.Context, limit int) ([]*Document, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.QueryContext(ctx, selectDocument+" ORDER BY mod_time DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "recent documents query failed", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of indexed documents.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	return s.countRows(ctx, "documents")
}

// CountChunks returns the number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	return s.countRows(ctx, "chunks")
}

func (s *Store) countRows(ctx context.Context, table string) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, table+" count failed", err)
	}
	return n, nil
}

// UpdateDocumentPath handles a rename: the document row and its file state
// move to the new path, chunks and vectors stay untouched.
func (s *Store) UpdateDocumentPath(ctx context.Context, oldPath, newPath string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "cannot begin rename transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := timeToDB(time.Now().UTC())
	res, err := tx.ExecContext(ctx,
		"UPDATE documents SET path = ?, updated_at = ? WHERE path = ?", newPath, now, oldPath)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "document rename failed", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errors.New(errors.ErrCodeFileNotFound,
			fmt.Sprintf("no indexed document at %s", oldPath), nil)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE file_state SET path = ?, updated_at = ? WHERE path = ?", newPath, now, oldPath); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "file state rename failed", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "rename commit failed", err)
	}
	return nil
}

// DeleteDocument removes a document, its chunks, its file state, and its
// vector and keyword entries. Deleting an unknown path is a no-op.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	rowids, err := s.chunkRowidsForPath(ctx, path)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "cannot begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", path); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "document delete failed", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM file_state WHERE path = ?", path); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "file state delete failed", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "delete commit failed", err)
	}

	if len(rowids) > 0 {
		s.vectors.Delete(rowids)
		if err := s.keyword.Delete(ctx, rowids); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) chunkRowidsForPath(ctx context.Context, path string) ([]int64, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT c.id FROM chunks c
		JOIN documents d ON c.document_id = d.id
		WHERE d.path = ?`, path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "chunk rowid lookup failed", err)
	}
	defer rows.Close()

	var rowids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "chunk rowid scan failed", err)
		}
		rowids = append(rowids, id)
	}
	return rowids, rows.Err()
}

// GetChunk returns a chunk by its content-addressed id, or nil when absent.
// When re-indexing left several rows with the same chunk id, the newest wins.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*ChunkRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx,
		selectChunk+" WHERE c.chunk_id = ? ORDER BY c.id DESC LIMIT 1", chunkID)
	return scanChunk(row)
}

// GetChunkByRowid returns a chunk by its rowid, or nil when absent.
func (s *Store) GetChunkByRowid(ctx context.Context, rowid int64) (*ChunkRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, selectChunk+" WHERE c.id = ?", rowid)
	return scanChunk(row)
}

// GetChunksByRowids returns chunks in the order of the given rowids. Rowids
// with no row are skipped.
func (s *Store) GetChunksByRowids(ctx context.Context, rowids []int64) ([]*ChunkRecord, error) {
	if len(rowids) == 0 {
		return nil, nil
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	byRowid := make(map[int64]*ChunkRecord, len(rowids))
	for start := 0; start < len(rowids); start += maxSQLParams {
		end := start + maxSQLParams
		if end > len(rowids) {
			end = len(rowids)
		}
		batch := rowids[start:end]

		query := selectChunk + " WHERE c.id IN (" + placeholders(len(batch)) + ")"
		rows, err := db.QueryContext(ctx, query, int64Args(batch)...)
		if err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "chunk lookup failed", err)
		}
		for rows.Next() {
			chunk, err := scanChunkRows(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			byRowid[chunk.Rowid] = chunk
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "chunk lookup failed", err)
		}
		rows.Close()
	}

	ordered := make([]*ChunkRecord, 0, len(byRowid))
	for _, rowid := range rowids {
		if chunk, ok := byRowid[rowid]; ok {
			ordered = append(ordered, chunk)
		}
	}
	return ordered, nil
}

// GetDocumentChunks returns a document's chunks ordered by sequence.
// fromSeq and toSeq bound the range inclusively; pass toSeq < 0 for an open
// end.
func (s *Store) GetDocumentChunks(ctx context.Context, path string, fromSeq, toSeq int) ([]*ChunkRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := selectChunk + " WHERE d.path = ? AND c.seq >= ?"
	args := []any{path, fromSeq}
	if toSeq >= 0 {
		query += " AND c.seq <= ?"
		args = append(args, toSeq)
	}
	query += " ORDER BY c.seq"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "document chunks query failed", err)
	}
	defer rows.Close()

	var chunks []*ChunkRecord
	for rows.Next() {
		chunk, err := scanChunkRows(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// GetChunkNeighbors returns the chunk at rowid together with up to window
// chunks on each side within the same document, ordered by sequence. Search
// uses this to assemble context around a hit.
func (s *Store) GetChunkNeighbors(ctx context.Context, rowid int64, window int) ([]*ChunkRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if window < 0 {
		window = 0
	}

	rows, err := db.QueryContext(ctx, selectChunk+`
		WHERE c.document_id = (SELECT document_id FROM chunks WHERE id = ?)
		  AND c.seq BETWEEN (SELECT seq FROM chunks WHERE id = ?) - ?
		              AND (SELECT seq FROM chunks WHERE id = ?) + ?
		ORDER BY c.seq`, rowid, rowid, window, rowid, window)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "neighbor query failed", err)
	}
	defer rows.Close()

	var chunks []*ChunkRecord
	for rows.Next() {
		chunk, err := scanChunkRows(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

const selectDocument = `
	SELECT id, path, title, class, language, size, mod_time, fingerprint,
	       page_count, chunk_count, indexed_at, created_at, updated_at
	FROM documents`

const selectChunk = `
	SELECT c.id, c.chunk_id, c.document_id, d.path, c.seq, c.content, c.context,
	       c.content_type, c.language, c.start_line, c.end_line, c.start_byte,
	       c.heading_trail, c.page, c.token_estimate, c.key_phrases, c.topics,
	       c.readability, c.embedded, c.created_at
	FROM chunks c
	JOIN documents d ON c.document_id = d.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row *sql.Row) (*Document, error) {
	doc, err := scanDocumentFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

func scanDocumentRows(rows *sql.Rows) (*Document, error) {
	return scanDocumentFrom(rows)
}

func scanDocumentFrom(row rowScanner) (*Document, error) {
	var doc Document
	var modTime, indexedAt, createdAt, updatedAt string
	err := row.Scan(&doc.ID, &doc.Path, &doc.Title, &doc.Class, &doc.Language,
		&doc.Size, &modTime, &doc.Fingerprint, &doc.PageCount, &doc.ChunkCount,
		&indexedAt, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "document scan failed", err)
	}
	doc.ModTime = timeFromDB(modTime)
	doc.IndexedAt = timeFromDB(indexedAt)
	doc.CreatedAt = timeFromDB(createdAt)
	doc.UpdatedAt = timeFromDB(updatedAt)
	return &doc, nil
}

func scanChunk(row *sql.Row) (*ChunkRecord, error) {
	chunk, err := scanChunkFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return chunk, err
}

func scanChunkRows(rows *sql.Rows) (*ChunkRecord, error) {
	return scanChunkFrom(rows)
}

func scanChunkFrom(row rowScanner) (*ChunkRecord, error) {
	var c ChunkRecord
	var headingTrail, keyPhrases, topics, createdAt string
	var page sql.NullInt64
	var embedded int
	err := row.Scan(&c.Rowid, &c.ChunkID, &c.DocumentID, &c.DocumentPath, &c.Seq,
		&c.Content, &c.Context, &c.ContentType, &c.Language, &c.StartLine,
		&c.EndLine, &c.StartByte, &headingTrail, &page, &c.TokenEstimate,
		&keyPhrases, &topics, &c.Readability, &embedded, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "chunk scan failed", err)
	}

	c.HeadingTrail = jsonFromDB(headingTrail)
	c.KeyPhrases = jsonFromDB(keyPhrases)
	c.Topics = jsonFromDB(topics)
	if page.Valid {
		p := int(page.Int64)
		c.Page = &p
	}
	c.Embedded = embedded != 0
	c.CreatedAt = timeFromDB(createdAt)
	return &c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(values []int64) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func timeToDB(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeFromDB(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func jsonToDB(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func jsonFromDB(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil
	}
	return values
}
