// Package worker runs the evaluation pipeline: it drains the job queue and
// takes each job from processing to a terminal state. One bad job never
// stops the loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/ai"
	"github.com/hireloop/cv-screener/internal/broker"
	"github.com/hireloop/cv-screener/internal/evaluation"
	"github.com/hireloop/cv-screener/internal/extract"
	"github.com/hireloop/cv-screener/internal/rag"
	"github.com/hireloop/cv-screener/internal/retry"
	"github.com/hireloop/cv-screener/internal/utils"
)

// projectQuery is the fixed retrieval query for the project report step: the
// scoring rubric is the same for every submission.
const projectQuery = "project scoring prompt chaining RAG error handling"

const defaultTopK = 4

type jobStore interface {
	GetJob(ctx context.Context, id int64) (*evaluation.Job, error)
	GetDocument(ctx context.Context, id int64) (*evaluation.Document, error)
	UpdateJobStatus(ctx context.Context, id int64, status evaluation.Status, result *evaluation.Result, errorMessage string) error
}

type queue interface {
	Ping(ctx context.Context) error
	Dequeue(ctx context.Context) (*broker.Message, error)
	StoreResult(ctx context.Context, jobID int64, payload any) error
}

type retriever interface {
	Query(ctx context.Context, query string, topK int) ([]rag.Result, error)
}

// resultPayload is the shape mirrored into the broker for client polling.
type resultPayload struct {
	ID     int64              `json:"id"`
	Status evaluation.Status  `json:"status"`
	Result *evaluation.Result `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// wait is swapped out in tests.
var wait = utils.WaitFor

// Loop is one worker. Run it in its own goroutine or process; several loops
// can drain the same queue.
type Loop struct {
	store     jobStore
	queue     queue
	retriever retriever
	evaluator ai.Evaluator
	policy    retry.Policy
	logger    *zap.Logger
	topK      int
}

func New(store jobStore, queue queue, retriever retriever, evaluator ai.Evaluator, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		store:     store,
		queue:     queue,
		retriever: retriever,
		evaluator: evaluator,
		policy:    retry.Local(),
		logger:    logger,
		topK:      defaultTopK,
	}
}

// Run drains the queue until the context ends. Broker outages are ridden out
// with backoff instead of crashing.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker started")

	brokerFailures := 0
	for {
		if ctx.Err() != nil {
			l.logger.Info("worker stopped")
			return ctx.Err()
		}

		if err := l.queue.Ping(ctx); err != nil {
			delay := l.policy.Delay(brokerFailures, retry.KindRetryable)
			brokerFailures++
			l.logger.Warn("broker unreachable, backing off",
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if werr := wait(ctx, delay); werr != nil {
				return werr
			}
			continue
		}
		brokerFailures = 0

		msg, err := l.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			l.logger.Warn("dequeue failed", zap.Error(err))
			if werr := wait(ctx, l.policy.Delay(0, retry.KindRetryable)); werr != nil {
				return werr
			}
			continue
		}
		if msg == nil {
			continue
		}

		l.Process(ctx, msg)
	}
}

// Process takes one job to a terminal state. Errors terminate the job, not
// the worker.
func (l *Loop) Process(ctx context.Context, msg *broker.Message) {
	logger := l.logger.With(zap.Int64("job_id", msg.JobID))
	logger.Info("processing job", zap.String("job_title", msg.JobTitle))

	// Claim the job before doing any work so pollers see it in flight.
	if err := l.store.UpdateJobStatus(ctx, msg.JobID, evaluation.StatusProcessing, nil, ""); err != nil {
		logger.Warn("cannot claim job, skipping", zap.Error(err))
		return
	}

	job, err := l.store.GetJob(ctx, msg.JobID)
	if err != nil {
		l.fail(ctx, msg.JobID, logger, fmt.Sprintf("load job: %s", err))
		return
	}

	cvText, err := l.documentText(ctx, job.CVDocumentID, "cv")
	if err != nil {
		l.fail(ctx, msg.JobID, logger, err.Error())
		return
	}
	reportText, err := l.documentText(ctx, job.ReportDocumentID, "project report")
	if err != nil {
		l.fail(ctx, msg.JobID, logger, err.Error())
		return
	}

	cvContext := l.retrieve(ctx, logger, fmt.Sprintf("%s job description and scoring rubric", job.JobTitle))
	projectContext := l.retrieve(ctx, logger, projectQuery)

	cvResult, err := l.evaluator.EvaluateCV(ctx, ai.CVInput{
		JobTitle: job.JobTitle,
		CVText:   cvText,
		Context:  cvContext,
	})
	if err != nil {
		l.fail(ctx, msg.JobID, logger, fmt.Sprintf("cv evaluation: %s", err))
		return
	}

	projectResult, err := l.evaluator.EvaluateProject(ctx, ai.ProjectInput{
		JobTitle:   job.JobTitle,
		ReportText: reportText,
		Context:    projectContext,
	})
	if err != nil {
		l.fail(ctx, msg.JobID, logger, fmt.Sprintf("project evaluation: %s", err))
		return
	}

	overall, err := l.evaluator.SynthesizeOverall(ctx, job.JobTitle, cvResult, projectResult)
	if err != nil {
		l.fail(ctx, msg.JobID, logger, fmt.Sprintf("overall synthesis: %s", err))
		return
	}

	result := evaluation.Combine(cvResult, projectResult, overall)
	if err := l.store.UpdateJobStatus(ctx, msg.JobID, evaluation.StatusCompleted, result, ""); err != nil {
		logger.Error("persist completed job", zap.Error(err))
		return
	}

	l.mirror(ctx, logger, resultPayload{ID: msg.JobID, Status: evaluation.StatusCompleted, Result: result})

	logger.Info("job completed",
		zap.Float64("cv_match_rate", result.CVMatchRate),
		zap.Float64("project_score", result.ProjectScore),
	)
}

// documentText resolves a document and extracts its text, preferring a
// sidecar <path>.txt when one exists next to the original upload.
func (l *Loop) documentText(ctx context.Context, docID int64, kind string) (string, error) {
	doc, err := l.store.GetDocument(ctx, docID)
	if err != nil {
		return "", fmt.Errorf("%s document %d: %w", kind, docID, err)
	}

	path := doc.Path
	if sidecar := path + ".txt"; fileExists(sidecar) {
		path = sidecar
	}

	text := extract.Text(path, l.logger)
	if text == "" {
		return "", fmt.Errorf("no text could be extracted from %s document %q", kind, doc.Filename)
	}
	return text, nil
}

// retrieve fetches context snippets. Retrieval failure degrades the prompt,
// it does not fail the job.
func (l *Loop) retrieve(ctx context.Context, logger *zap.Logger, query string) []string {
	if l.retriever == nil {
		return nil
	}

	results, err := l.retriever.Query(ctx, query, l.topK)
	if err != nil {
		logger.Warn("context retrieval failed, continuing without it",
			zap.String("query", query),
			zap.Error(err),
		)
		return nil
	}

	snippets := make([]string, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, r.Content)
	}
	return snippets
}

func (l *Loop) fail(ctx context.Context, jobID int64, logger *zap.Logger, message string) {
	logger.Warn("job failed", zap.String("reason", message))

	if err := l.store.UpdateJobStatus(ctx, jobID, evaluation.StatusFailed, nil, message); err != nil {
		logger.Error("persist failed job", zap.Error(err))
		return
	}

	l.mirror(ctx, logger, resultPayload{ID: jobID, Status: evaluation.StatusFailed, Error: message})
}

// mirror pushes the terminal payload to the broker. The record store is
// authoritative, so a mirror failure is only logged.
func (l *Loop) mirror(ctx context.Context, logger *zap.Logger, payload resultPayload) {
	if err := l.queue.StoreResult(ctx, payload.ID, payload); err != nil {
		logger.Warn("mirror result to broker", zap.Error(err))
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
