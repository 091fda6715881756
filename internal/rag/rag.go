// Package rag maintains the similarity index used to ground evaluation
// prompts: ground-truth documents (job descriptions, scoring rubrics, case
// briefs) are embedded and stored in a sqlite-vec table, and the worker
// retrieves the nearest snippets per job.
package rag

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/extract"
	"github.com/hireloop/cv-screener/internal/retry"
)

const (
	dbFileName  = "rag.db"
	defaultDims = 768
	defaultTopK = 4
)

var loadOnce sync.Once

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one retrieval hit, nearest first.
type Result struct {
	DocID    string
	Content  string
	Metadata map[string]string
	Distance float64
}

// Index is the vector store. All embedding calls run under the local retry
// policy; an on-disk index that cannot be opened or whose schema no longer
// matches is rebuilt once on open.
type Index struct {
	db       *sql.DB
	embedder Embedder
	policy   retry.Policy
	logger   *zap.Logger
	dims     int
}

// Open opens (or creates) the index under dir. The index is disposable
// cache: when the on-disk schema is unreadable or incompatible (different
// embedding dimensions, older layout), the directory is wiped and recreated
// once before giving up.
func Open(dir string, dims int, embedder Embedder, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dims <= 0 {
		dims = defaultDims
	}

	loadOnce.Do(sqlite_vec.Auto)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	path := filepath.Join(dir, dbFileName)
	db, err := openAndInit(path, dims)
	if err != nil {
		logger.Warn("similarity index unusable, rebuilding", zap.String("path", path), zap.Error(err))

		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, fmt.Errorf("reset index directory: %w", rmErr)
		}
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("recreate index directory: %w", mkErr)
		}

		db, err = openAndInit(path, dims)
		if err != nil {
			return nil, fmt.Errorf("rebuild similarity index: %w", err)
		}
	}

	logger.Debug("similarity index opened", zap.String("path", path), zap.Int("dims", dims))

	return &Index{
		db:       db,
		embedder: embedder,
		policy:   retry.Local(),
		logger:   logger,
		dims:     dims,
	}, nil
}

func openAndInit(path string, dims int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(embedding FLOAT32_BLOB[%d]);
`, dims)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}

	// IF NOT EXISTS keeps a pre-existing table untouched, so the stored
	// declarations must be checked against what this process expects.
	if err := verifySchema(db, dims); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// verifySchema compares the on-disk table declarations with the expected
// layout. A vec0 table built for different embedding dimensions opens fine
// but rejects every insert, so the mismatch has to surface here.
func verifySchema(db *sql.DB, dims int) error {
	var chunksDDL string
	if err := db.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'chunks'`).Scan(&chunksDDL); err != nil {
		return fmt.Errorf("inspect chunks schema: %w", err)
	}
	if !strings.Contains(chunksDDL, "metadata") {
		return errors.New("chunks table has an incompatible layout")
	}

	var vecDDL string
	if err := db.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'vec_chunks'`).Scan(&vecDDL); err != nil {
		return fmt.Errorf("inspect vec_chunks schema: %w", err)
	}
	if !strings.Contains(vecDDL, fmt.Sprintf("FLOAT32_BLOB[%d]", dims)) {
		return fmt.Errorf("embedding column does not store %d dimensions", dims)
	}

	return nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// DocumentID derives a stable document id from a source path and its
// content, so re-ingesting the same file is a no-op and changed content gets
// a fresh entry.
func DocumentID(path, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("file:%s:%x", filepath.Base(path), sum[:6])
}

// IngestText embeds and stores one document under the given id with optional
// metadata. Empty text and already-known ids are silent no-ops.
func (i *Index) IngestText(ctx context.Context, docID, text string, meta map[string]string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if i.HasID(ctx, docID) {
		i.logger.Debug("document already indexed", zap.String("doc_id", docID))
		return nil
	}

	vector, err := retry.Do(ctx, i.logger, i.policy, "embed document",
		func(ctx context.Context) ([]float32, error) {
			return i.embedder.Embed(ctx, text)
		}, nil)
	if err != nil {
		return err
	}
	if len(vector) != i.dims {
		return retry.Errorf(retry.KindValidation, "embedding has %d dimensions, index expects %d", len(vector), i.dims)
	}

	serialized, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}

	if meta == nil {
		meta = map[string]string{}
	}
	encodedMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", docID, err)
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO chunks (doc_id, content, metadata) VALUES (?, ?, ?)`, docID, text, string(encodedMeta))
	if err != nil {
		return fmt.Errorf("store chunk %s: %w", docID, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("chunk rowid: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)`, rowID, serialized); err != nil {
		return fmt.Errorf("store embedding for %s: %w", docID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk %s: %w", docID, err)
	}

	i.logger.Debug("document indexed", zap.String("doc_id", docID), zap.Int("length", len(text)))
	return nil
}

// IngestFile extracts the file's text and ingests it under a derived id,
// tagged with the given document type and title. Extraction is best-effort:
// an unreadable file or one with no text still yields the derived id, with
// nothing ingested.
func (i *Index) IngestFile(ctx context.Context, path, docType, title string) (string, error) {
	text := extract.Text(path, i.logger)
	docID := DocumentID(path, text)

	if strings.TrimSpace(text) == "" {
		i.logger.Warn("no text extracted, nothing ingested", zap.String("path", path))
		return docID, nil
	}

	meta := map[string]string{}
	if docType != "" {
		meta["doc_type"] = docType
	}
	if title != "" {
		meta["title"] = title
	}

	return docID, i.IngestText(ctx, docID, text, meta)
}

// HasID reports whether a document id is already indexed. Lookup errors
// count as absent so ingestion stays best-effort.
func (i *Index) HasID(ctx context.Context, docID string) bool {
	var one int
	err := i.db.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE doc_id = ?`, docID).Scan(&one)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			i.logger.Warn("index lookup failed", zap.String("doc_id", docID), zap.Error(err))
		}
		return false
	}
	return true
}

// Query returns the topK documents nearest to the query text, closest
// first. Empty input matches nothing.
func (i *Index) Query(ctx context.Context, query string, topK int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	vector, err := retry.Do(ctx, i.logger, i.policy, "embed query",
		func(ctx context.Context) ([]float32, error) {
			return i.embedder.Embed(ctx, query)
		}, nil)
	if err != nil {
		return nil, err
	}

	serialized, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := i.db.QueryContext(ctx, `
		SELECT c.doc_id, c.content, c.metadata, vec_distance_L2(v.embedding, ?) AS distance
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.rowid
		ORDER BY distance ASC
		LIMIT ?`, serialized, topK)
	if err != nil {
		return nil, fmt.Errorf("query similarity index: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r       Result
			rawMeta string
		)
		if err := rows.Scan(&r.DocID, &r.Content, &rawMeta, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		if rawMeta != "" && rawMeta != "{}" {
			if err := json.Unmarshal([]byte(rawMeta), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.DocID, err)
			}
		}
		results = append(results, r)
	}

	return results, rows.Err()
}
