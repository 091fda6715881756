package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/evaluation"
	"github.com/hireloop/cv-screener/internal/retry"
)

// CreateDocument records an uploaded file. Documents are immutable after
// creation.
func (s *Store) CreateDocument(ctx context.Context, docType evaluation.DocType, filename, path string) (*evaluation.Document, error) {
	if strings.TrimSpace(filename) == "" || strings.TrimSpace(path) == "" {
		return nil, retry.Errorf(retry.KindInvalidInput, "document filename and path are required")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (doc_type, filename, path, created_at) VALUES (?, ?, ?, ?)`,
		string(docType), filename, path, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("document id: %w", err)
	}

	s.logger.Debug("document created",
		zap.Int64("document_id", id),
		zap.String("doc_type", string(docType)),
		zap.String("filename", filename),
	)

	return &evaluation.Document{
		ID:        id,
		DocType:   docType,
		Filename:  filename,
		Path:      path,
		CreatedAt: now,
	}, nil
}

// GetDocument returns the document with the given id, or a not-found error.
func (s *Store) GetDocument(ctx context.Context, id int64) (*evaluation.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, doc_type, filename, path, created_at FROM documents WHERE id = ?`, id)

	var (
		doc       evaluation.Document
		docType   string
		createdAt string
	)
	err := row.Scan(&doc.ID, &docType, &doc.Filename, &doc.Path, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, retry.Errorf(retry.KindNotFound, "document %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}

	doc.DocType = evaluation.DocType(docType)
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &doc, nil
}
