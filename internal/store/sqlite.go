package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	content     TEXT NOT NULL,
	page_number INTEGER,
	chunk_index INTEGER NOT NULL,
	embedding   BLOB
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, chunk_index);
`

// SQLiteStore persists chunks in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for a throwaway database.
func OpenSQLite(path string, logger *zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &SQLiteStore{db: db, log: zerolog.Nop()}
	if logger != nil {
		s.log = logger.With().Str("component", "store").Str("path", path).Logger()
	}
	s.log.Debug().Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Put upserts records in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, recs ...ChunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks(id, document_id, content, page_number, chunk_index, embedding)
VALUES(?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET document_id=excluded.document_id, content=excluded.content,
	page_number=excluded.page_number, chunk_index=excluded.chunk_index, embedding=excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		var page sql.NullInt64
		if r.PageNumber != nil {
			page = sql.NullInt64{Int64: int64(*r.PageNumber), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.DocumentID, r.Content, page, r.ChunkIndex, r.Embedding); err != nil {
			return fmt.Errorf("put chunk %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// SetEmbedding stores the embedding of an existing chunk.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET embedding=? WHERE id=?`, EncodeEmbedding(vec), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %s not found", id)
	}
	return nil
}

// DeleteDocument removes every chunk of a document.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=?`, documentID)
	return err
}

func (s *SQLiteStore) EmbeddedChunks(ctx context.Context, scopeIDs []string) ([]ChunkRecord, error) {
	q := `SELECT id, document_id, content, page_number, chunk_index, embedding FROM chunks WHERE embedding IS NOT NULL AND length(embedding) > 0`
	args := make([]any, 0, len(scopeIDs))
	if len(scopeIDs) > 0 {
		q += ` AND document_id IN (` + placeholders(len(scopeIDs)) + `)`
		for _, id := range scopeIDs {
			args = append(args, id)
		}
	}
	q += ` ORDER BY document_id, chunk_index, id`
	return s.query(ctx, q, args...)
}

func (s *SQLiteStore) ChunksByIDs(ctx context.Context, ids []string) ([]ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	recs, err := s.query(ctx, `SELECT id, document_id, content, page_number, chunk_index, embedding FROM chunks WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	// preserve the caller's order
	byID := make(map[string]ChunkRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]ChunkRecord, 0, len(recs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkRecord
	for rows.Next() {
		var (
			r    ChunkRecord
			page sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Content, &page, &r.ChunkIndex, &r.Embedding); err != nil {
			return nil, err
		}
		if page.Valid {
			n := int(page.Int64)
			r.PageNumber = &n
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
