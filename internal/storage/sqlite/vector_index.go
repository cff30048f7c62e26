// Package sqlite implements storage.VectorIndex on modernc.org/sqlite.
//
// Embeddings are stored as little-endian float32 BLOBs and ranked by a
// brute-force L2 scan in Go. Prior corpora are a few hundred rows, well within
// what a linear scan handles per query.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/charles/internal/storage"
)

// Schema creates the documents table. Safe to run on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	document       TEXT NOT NULL,
	embedding      BLOB NOT NULL,
	dimension      INTEGER NOT NULL,
	prior_category TEXT NOT NULL DEFAULT '',
	prior_type     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(prior_category);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(prior_type);
`

// VectorIndex implements storage.VectorIndex using SQLite.
type VectorIndex struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVectorIndex opens (or creates) the index at dsn, recovering once from
// stale WAL files left by a crashed process.
func NewVectorIndex(dsn string, logger *zap.Logger) (*VectorIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx, err := openVectorIndex(dsn, logger)
	if err == nil {
		return idx, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath, logger)

	idx, retryErr := openVectorIndex(dsn, logger)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	logger.Info("sqlite: recovered from stale WAL files", zap.String("path", dbPath))
	return idx, nil
}

func openVectorIndex(dsn string, logger *zap.Logger) (*VectorIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &VectorIndex{db: db, logger: logger}, nil
}

// Insert adds docs in one transaction. Existing ids are ignored unless they
// were stored at another dimension, in which case the row is replaced.
func (v *VectorIndex) Insert(ctx context.Context, docs []storage.Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("%w: document id is required", storage.ErrInvalidInput)
		}
		if len(d.Embedding) == 0 {
			return fmt.Errorf("%w: document %s has no embedding", storage.ErrInvalidInput, d.ID)
		}
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, document, embedding, dimension, prior_category, prior_type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			prior_category = excluded.prior_category,
			prior_type = excluded.prior_type
		WHERE documents.dimension <> excluded.dimension
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		_, err := stmt.ExecContext(ctx, d.ID, d.Text, encodeEmbedding(d.Embedding), len(d.Embedding),
			d.Metadata.PriorCategory, d.Metadata.PriorType)
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit documents: %w", err)
	}
	return nil
}

// Search scans the rows passing filter and keeps the k closest to query.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int, filter storage.Filter) ([]storage.Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", storage.ErrInvalidInput)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidInput)
	}

	var (
		where []string
		args  []interface{}
	)
	where = append(where, "dimension = ?")
	args = append(args, len(query))
	if filter.Category != "" {
		where = append(where, "prior_category = ?")
		args = append(args, filter.Category)
	}
	if filter.Type != "" {
		where = append(where, "prior_type = ?")
		args = append(args, filter.Type)
	}

	q := `SELECT id, document, embedding, prior_category, prior_type FROM documents WHERE ` +
		strings.Join(where, " AND ")

	rows, err := v.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var matches []storage.Match
	for rows.Next() {
		var (
			m    storage.Match
			blob []byte
		)
		if err := rows.Scan(&m.ID, &m.Text, &blob, &m.Metadata.PriorCategory, &m.Metadata.PriorType); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		emb, err := decodeEmbedding(blob)
		if err != nil {
			v.logger.Warn("skipping document with corrupt embedding", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		m.Embedding = emb
		m.Distance = storage.L2Distance(query, emb)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count returns the number of stored documents.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// CountDimension returns the number of documents stored at dimension.
func (v *VectorIndex) CountDimension(ctx context.Context, dimension int) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE dimension = ?`, dimension).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (v *VectorIndex) Close() error {
	if _, err := v.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		v.logger.Debug("sqlite: wal checkpoint failed", zap.Error(err))
	}
	return v.db.Close()
}

// Compile-time assertion.
var _ storage.VectorIndex = (*VectorIndex)(nil)
