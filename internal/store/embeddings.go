package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// SaveFileResult persists everything produced for one file. The document
// row, the replacement chunks, and the file state land in a single
// transaction; the vector and keyword indexes are updated after commit.
// Files are never batched together, so a crash preserves every fully
// committed file and partial progress survives.
func (s *Store) SaveFileResult(ctx context.Context, res *FileResult) error {
	if res == nil || res.Document.Path == "" {
		return errors.New(errors.ErrCodeInvalidInput, "file result needs a document path", nil)
	}
	if res.Vectors != nil && len(res.Vectors) != len(res.Chunks) {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("chunks and vectors length mismatch: %d vs %d", len(res.Chunks), len(res.Vectors)), nil)
	}
	// Every chunk carries at least one key phrase; the semantic extractor
	// guarantees it and the store refuses rows that would break search
	// metadata downstream.
	for _, chunk := range res.Chunks {
		if len(chunk.KeyPhrases) == 0 {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("chunk %s (seq %d) has no key phrases", chunk.ChunkID, chunk.Seq), nil)
		}
	}

	db, err := s.conn()
	if err != nil {
		return err
	}

	oldRowids, err := s.chunkRowidsForPath(ctx, res.Document.Path)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	nowStr := timeToDB(now)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "cannot begin file transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc := res.Document
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (path, title, class, language, size, mod_time,
			fingerprint, page_count, chunk_count, indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			class = excluded.class,
			language = excluded.language,
			size = excluded.size,
			mod_time = excluded.mod_time,
			fingerprint = excluded.fingerprint,
			page_count = excluded.page_count,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at`,
		doc.Path, doc.Title, doc.Class, doc.Language, doc.Size, timeToDB(doc.ModTime),
		doc.Fingerprint, doc.PageCount, len(res.Chunks), nowStr, nowStr, nowStr); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "document upsert failed", err)
	}

	var docID int64
	if err := tx.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE path = ?", doc.Path).Scan(&docID); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "document id lookup failed", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "chunk replace failed", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, document_id, seq, content, context,
			content_type, language, start_line, end_line, start_byte,
			heading_trail, page, token_estimate, key_phrases, topics,
			readability, fts_tokens, embedded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "chunk insert prepare failed", err)
	}
	defer insert.Close()

	newRowids := make([]int64, 0, len(res.Chunks))
	for i, chunk := range res.Chunks {
		embedded := 0
		if res.Vectors != nil && res.Vectors[i] != nil {
			embedded = 1
		}
		var page any
		if chunk.Page != nil {
			page = *chunk.Page
		}
		result, err := insert.ExecContext(ctx,
			chunk.ChunkID, docID, chunk.Seq, chunk.Content, chunk.Context,
			chunk.ContentType, chunk.Language, chunk.StartLine, chunk.EndLine,
			chunk.StartByte, jsonToDB(chunk.HeadingTrail), page, chunk.TokenEstimate,
			jsonToDB(chunk.KeyPhrases), jsonToDB(chunk.Topics), chunk.Readability,
			FTSTokens(chunk.Content), embedded, nowStr)
		if err != nil {
			return errors.New(errors.ErrCodeStoreUnavailable,
				fmt.Sprintf("chunk insert failed at seq %d", chunk.Seq), err)
		}
		rowid, err := result.LastInsertId()
		if err != nil {
			return errors.New(errors.ErrCodeStoreUnavailable, "chunk rowid unavailable", err)
		}
		chunk.Rowid = rowid
		chunk.DocumentID = docID
		chunk.Embedded = embedded == 1
		newRowids = append(newRowids, rowid)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_state (path, fingerprint, size, mod_time, status,
			reason, chunk_count, scan_generation, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			mod_time = excluded.mod_time,
			status = excluded.status,
			reason = '',
			chunk_count = excluded.chunk_count,
			scan_generation = excluded.scan_generation,
			updated_at = excluded.updated_at`,
		doc.Path, doc.Fingerprint, doc.Size, timeToDB(doc.ModTime),
		FileStatusIndexed, len(res.Chunks), res.ScanGeneration, nowStr); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "file state update failed", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "file commit failed", err)
	}

	// Index maintenance happens after commit. A crash in this window leaves
	// chunks flagged embedded with no vector; Reconcile requeues them on the
	// next open.
	if len(oldRowids) > 0 {
		s.vectors.Delete(oldRowids)
		if err := s.keyword.Delete(ctx, oldRowids); err != nil {
			return err
		}
	}

	if res.Vectors != nil {
		addRowids := make([]int64, 0, len(newRowids))
		addVectors := make([][]float32, 0, len(newRowids))
		for i, vec := range res.Vectors {
			if vec == nil {
				continue
			}
			addRowids = append(addRowids, newRowids[i])
			addVectors = append(addVectors, vec)
		}
		if err := s.vectors.Add(addRowids, addVectors); err != nil {
			return err
		}
	}

	entries := make([]KeywordEntry, len(res.Chunks))
	for i, chunk := range res.Chunks {
		entries[i] = KeywordEntry{Rowid: newRowids[i], Content: chunk.Content}
	}
	if err := s.keyword.Index(ctx, entries); err != nil {
		return err
	}

	return nil
}

// EmbeddingCount answers "how many embedded chunks does this folder have?"
// against the chunks table. The distinction in the error path matters: a
// store that is not open returns an error, never zero, because a zero is
// authoritative and triggers full reprocessing.
func (s *Store) EmbeddingCount(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE embedded = 1").Scan(&n); err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "embedding count failed", err)
	}
	return n, nil
}

// EmbeddingCountWithRetry wraps EmbeddingCount in a short bounded backoff.
// Callers deciding between "resume" and "rebuild from scratch" use this so a
// transient failure cannot masquerade as an empty index.
func (s *Store) EmbeddingCountWithRetry(ctx context.Context) (int, error) {
	cfg := errors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	return errors.RetryWithResult(ctx, cfg, func() (int, error) {
		return s.EmbeddingCount(ctx)
	})
}

// Reconcile repairs the gap between the transactional chunk rows and the
// periodically saved vector graph after a crash. Orphan vectors (graph keys
// with no embedded chunk) are dropped; chunks flagged embedded without a
// vector are cleared and their files requeued.
func (s *Store) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT id FROM chunks WHERE embedded = 1")
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "embedded chunk scan failed", err)
	}
	embedded := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "embedded chunk scan failed", err)
		}
		embedded[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "embedded chunk scan failed", err)
	}
	rows.Close()

	live := s.vectors.Keys()
	liveSet := make(map[int64]struct{}, len(live))
	var orphans []int64
	for _, rowid := range live {
		liveSet[rowid] = struct{}{}
		if _, ok := embedded[rowid]; !ok {
			orphans = append(orphans, rowid)
		}
	}

	var missing []int64
	for rowid := range embedded {
		if _, ok := liveSet[rowid]; !ok {
			missing = append(missing, rowid)
		}
	}

	report := &ReconcileReport{OrphanVectors: len(orphans), MissingVectors: len(missing)}

	if len(orphans) > 0 {
		s.vectors.Delete(orphans)
	}

	if len(missing) > 0 {
		paths, err := s.pathsForChunkRowids(ctx, missing)
		if err != nil {
			return nil, err
		}
		report.RequeuedFiles = len(paths)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "cannot begin reconcile transaction", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := timeToDB(time.Now().UTC())
		for start := 0; start < len(missing); start += maxSQLParams {
			end := start + maxSQLParams
			if end > len(missing) {
				end = len(missing)
			}
			batch := missing[start:end]
			if _, err := tx.ExecContext(ctx,
				"UPDATE chunks SET embedded = 0 WHERE id IN ("+placeholders(len(batch))+")",
				int64Args(batch)...); err != nil {
				return nil, errors.New(errors.ErrCodeStoreUnavailable, "embedded flag clear failed", err)
			}
		}
		for start := 0; start < len(paths); start += maxSQLParams {
			end := start + maxSQLParams
			if end > len(paths) {
				end = len(paths)
			}
			batch := paths[start:end]
			args := make([]any, 0, len(batch)+2)
			args = append(args, FileStatusPending, now)
			for _, p := range batch {
				args = append(args, p)
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE file_state SET status = ?, reason = 'vector missing after restart', updated_at = ? WHERE path IN ("+
					placeholders(len(batch))+")", args...); err != nil {
				return nil, errors.New(errors.ErrCodeStoreUnavailable, "file requeue failed", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "reconcile commit failed", err)
		}
	}

	if report.OrphanVectors > 0 || report.MissingVectors > 0 {
		s.log.Info("index reconciled",
			slog.String("folder", s.folderPath),
			slog.Int("orphan_vectors", report.OrphanVectors),
			slog.Int("missing_vectors", report.MissingVectors),
			slog.Int("requeued_files", report.RequeuedFiles))
	}

	return report, nil
}

func (s *Store) pathsForChunkRowids(ctx context.Context, rowids []int64) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var paths []string
	for start := 0; start < len(rowids); start += maxSQLParams {
		end := start + maxSQLParams
		if end > len(rowids) {
			end = len(rowids)
		}
		batch := rowids[start:end]

		rows, err := db.QueryContext(ctx, `
			SELECT DISTINCT d.path FROM documents d
			JOIN chunks c ON c.document_id = d.id
			WHERE c.id IN (`+placeholders(len(batch))+")", int64Args(batch)...)
		if err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "path lookup failed", err)
		}
		for rows.Next() {
			var path string
			if err := rows.Scan(&path); err != nil {
				rows.Close()
				return nil, errors.New(errors.ErrCodeStoreUnavailable, "path scan failed", err)
			}
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				paths = append(paths, path)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "path lookup failed", err)
		}
		rows.Close()
	}
	return paths, nil
}
