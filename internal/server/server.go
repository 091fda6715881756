// Package server exposes the HTTP API: document upload, ground-truth
// ingestion, evaluation submission and result polling. Handlers stay thin;
// evaluation work happens in the worker.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/broker"
	"github.com/hireloop/cv-screener/internal/evaluation"
	"github.com/hireloop/cv-screener/internal/extract"
	"github.com/hireloop/cv-screener/internal/retry"
)

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
}

type jobStore interface {
	CreateJob(ctx context.Context, jobTitle string, cvID, reportID int64) (*evaluation.Job, error)
	GetJob(ctx context.Context, id int64) (*evaluation.Job, error)
	UpdateJobStatus(ctx context.Context, id int64, status evaluation.Status, result *evaluation.Result, errorMessage string) error
	CreateDocument(ctx context.Context, docType evaluation.DocType, filename, path string) (*evaluation.Document, error)
	GetDocument(ctx context.Context, id int64) (*evaluation.Document, error)
	Ping(ctx context.Context) error
}

type jobQueue interface {
	SubmitJob(ctx context.Context, msg *broker.Message) error
	Ping(ctx context.Context) error
}

type indexer interface {
	IngestFile(ctx context.Context, path, docType, title string) (string, error)
}

type taskQueue interface {
	Submit(ctx context.Context, name string, run func(context.Context) error) error
	Pending() int
}

// Server wires the handlers to their collaborators.
type Server struct {
	store     jobStore
	queue     jobQueue
	index     indexer
	tasks     taskQueue
	uploadDir string
	logger    *zap.Logger
	engine    *gin.Engine
}

func New(store jobStore, queue jobQueue, index indexer, tasks taskQueue, uploadDir string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		store:     store,
		queue:     queue,
		index:     index,
		tasks:     tasks,
		uploadDir: uploadDir,
		logger:    logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/upload", s.handleUpload)
	engine.POST("/ingest", s.handleIngest)
	engine.POST("/evaluate", s.handleEvaluate)
	engine.GET("/result/:id", s.handleResult)
	engine.GET("/healthz", s.handleHealthz)

	s.engine = engine
	return s
}

// Handler exposes the router for tests and custom http.Server setups.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}

func (s *Server) handleUpload(c *gin.Context) {
	cvDoc, err := s.saveUpload(c, "cv_file", evaluation.DocTypeCV)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reportDoc, err := s.saveUpload(c, "report_file", evaluation.DocTypeReport)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"cv_id":     cvDoc.ID,
		"report_id": reportDoc.ID,
	})
}

// saveUpload stores one multipart file, records it, and queues sidecar text
// extraction in the background.
func (s *Server) saveUpload(c *gin.Context, field string, docType evaluation.DocType) (*evaluation.Document, error) {
	file, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s is required", field)
	}

	filename := filepath.Base(file.Filename)
	if !allowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return nil, fmt.Errorf("%s: unsupported file type %q", field, filepath.Ext(filename))
	}

	path := filepath.Join(s.uploadDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		return nil, fmt.Errorf("save %s: %w", field, err)
	}

	doc, err := s.store.CreateDocument(c.Request.Context(), docType, filename, path)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", field, err)
	}

	if err := s.tasks.Submit(c.Request.Context(), "sidecar "+filename, func(ctx context.Context) error {
		return writeSidecar(path, s.logger)
	}); err != nil {
		// The worker extracts on demand when no sidecar exists.
		s.logger.Warn("sidecar extraction not queued", zap.String("path", path), zap.Error(err))
	}

	return doc, nil
}

func writeSidecar(path string, logger *zap.Logger) error {
	text := extract.Text(path, logger)
	if text == "" {
		return fmt.Errorf("no text extracted from %s", path)
	}
	return os.WriteFile(path+".txt", []byte(text), 0o644)
}

type ingestRequest struct {
	Path    string `json:"path" binding:"required"`
	DocType string `json:"doc_type"`
	Title   string `json:"title"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docType := evaluation.DocType(req.DocType)
	if req.DocType == "" {
		docType = evaluation.DocTypeSystem
	}

	doc, err := s.store.CreateDocument(c.Request.Context(), docType, filepath.Base(req.Path), req.Path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Ingestion is best-effort on the file contents; the derived id comes
	// back even when nothing could be extracted.
	docID, err := s.index.IngestFile(c.Request.Context(), req.Path, string(docType), req.Title)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": doc.ID, "doc_id": docID})
}

type evaluateRequest struct {
	JobTitle string `json:"job_title" binding:"required"`
	CVID     int64  `json:"cv_id" binding:"required"`
	ReportID int64  `json:"report_id" binding:"required"`
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	for _, docID := range []int64{req.CVID, req.ReportID} {
		if _, err := s.store.GetDocument(ctx, docID); err != nil {
			if retry.IsKind(err, retry.KindNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("document %d not found", docID)})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	job, err := s.store.CreateJob(ctx, req.JobTitle, req.CVID, req.ReportID)
	if err != nil {
		status := http.StatusInternalServerError
		if retry.IsKind(err, retry.KindInvalidInput) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	msg := &broker.Message{
		JobID:            job.ID,
		JobTitle:         job.JobTitle,
		CVDocumentID:     job.CVDocumentID,
		ReportDocumentID: job.ReportDocumentID,
		SubmittedAt:      time.Now().UTC(),
	}
	if err := s.queue.SubmitJob(ctx, msg); err != nil {
		// The job exists but no worker will ever see it; fail it now so
		// pollers do not wait forever.
		s.logger.Error("queue submission failed", zap.Int64("job_id", job.ID), zap.Error(err))
		if updateErr := s.store.UpdateJobStatus(ctx, job.ID, evaluation.StatusFailed, nil, fmt.Sprintf("queue submission failed: %s", err)); updateErr != nil {
			s.logger.Error("mark unsubmitted job failed", zap.Int64("job_id", job.ID), zap.Error(updateErr))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"id":     job.ID,
			"status": evaluation.StatusFailed,
			"error":  "evaluation could not be queued",
		})
		return
	}

	s.logger.Info("evaluation queued", zap.Int64("job_id", job.ID), zap.String("job_title", job.JobTitle))

	c.JSON(http.StatusOK, gin.H{"id": job.ID, "status": evaluation.StatusQueued})
}

func (s *Server) handleResult(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job id must be an integer"})
		return
	}

	job, err := s.store.GetJob(c.Request.Context(), id)
	if err != nil {
		if retry.IsKind(err, retry.KindNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job %d not found", id)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"id": job.ID, "status": job.Status}
	switch job.Status {
	case evaluation.StatusCompleted:
		resp["result"] = job.Result
	case evaluation.StatusFailed:
		resp["error"] = job.ErrorMessage
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": err.Error()})
		return
	}
	if err := s.queue.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "broker": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "pending_ingestions": s.tasks.Pending()})
}
