package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/evaluation"
	"github.com/hireloop/cv-screener/internal/retry"
)

// CreateJob inserts a new job in the queued state and returns it with its
// assigned id.
func (s *Store) CreateJob(ctx context.Context, jobTitle string, cvID, reportID int64) (*evaluation.Job, error) {
	if strings.TrimSpace(jobTitle) == "" {
		return nil, retry.Errorf(retry.KindInvalidInput, "job title cannot be empty")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_title, cv_document_id, report_document_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		jobTitle, cvID, reportID, evaluation.StatusQueued,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}

	s.logger.Debug("job created",
		zap.Int64("job_id", id),
		zap.String("job_title", jobTitle),
		zap.Int64("cv_document_id", cvID),
		zap.Int64("report_document_id", reportID),
	)

	return &evaluation.Job{
		ID:               id,
		JobTitle:         jobTitle,
		CVDocumentID:     cvID,
		ReportDocumentID: reportID,
		Status:           evaluation.StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// GetJob returns the job with the given id, or a not-found error.
func (s *Store) GetJob(ctx context.Context, id int64) (*evaluation.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_title, cv_document_id, report_document_id, status, result, error_message, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)

	var (
		job       evaluation.Job
		status    string
		result    sql.NullString
		errMsg    sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&job.ID, &job.JobTitle, &job.CVDocumentID, &job.ReportDocumentID,
		&status, &result, &errMsg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, retry.Errorf(retry.KindNotFound, "job %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}

	job.Status = evaluation.Status(status)
	job.ErrorMessage = errMsg.String
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if result.Valid && result.String != "" {
		var parsed evaluation.Result
		if err := json.Unmarshal([]byte(result.String), &parsed); err != nil {
			return nil, fmt.Errorf("decode stored result for job %d: %w", id, err)
		}
		job.Result = &parsed
	}

	return &job, nil
}

// UpdateJobStatus is the single mutation surface for job state. It atomically
// sets the status plus exactly one of result/error message plus updated_at,
// and refuses transitions the state machine does not allow. A completed job
// carries a result and no error; a failed job carries an error and no result;
// processing carries neither.
func (s *Store) UpdateJobStatus(ctx context.Context, id int64, status evaluation.Status, result *evaluation.Result, errorMessage string) error {
	switch status {
	case evaluation.StatusProcessing:
		if result != nil || errorMessage != "" {
			return retry.Errorf(retry.KindInvalidInput, "processing carries neither result nor error")
		}
	case evaluation.StatusCompleted:
		if result == nil || errorMessage != "" {
			return retry.Errorf(retry.KindInvalidInput, "completed requires a result and no error")
		}
	case evaluation.StatusFailed:
		if errorMessage == "" || result != nil {
			return retry.Errorf(retry.KindInvalidInput, "failed requires an error message and no result")
		}
	default:
		return retry.Errorf(retry.KindInvalidInput, "cannot transition a job to %q", status)
	}

	var resultJSON sql.NullString
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result for job %d: %w", id, err)
		}
		resultJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	var errText sql.NullString
	if errorMessage != "" {
		errText = sql.NullString{String: errorMessage, Valid: true}
	}

	from := allowedOrigins(status)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		append([]any{string(status), resultJSON, errText, time.Now().UTC().Format(time.RFC3339Nano), id}, from...)...,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	if affected == 0 {
		current, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			return getErr
		}
		return retry.Errorf(retry.KindInvalidInput, "job %d cannot move from %s to %s", id, current.Status, status)
	}

	s.logger.Debug("job status updated", zap.Int64("job_id", id), zap.String("status", string(status)))
	return nil
}

// StuckProcessingJobs returns jobs that have been sitting in processing since
// before the given cutoff. A lost worker leaves exactly this trace.
func (s *Store) StuckProcessingJobs(ctx context.Context, olderThan time.Time) ([]*evaluation.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_title, cv_document_id, report_document_id, status, created_at, updated_at
		 FROM jobs WHERE status = ? AND updated_at < ?`,
		evaluation.StatusProcessing, olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*evaluation.Job
	for rows.Next() {
		var (
			job       evaluation.Job
			status    string
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&job.ID, &job.JobTitle, &job.CVDocumentID, &job.ReportDocumentID,
			&status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		job.Status = evaluation.Status(status)
		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

// allowedOrigins lists the states a job may move to the target status from.
func allowedOrigins(target evaluation.Status) []any {
	var from []any
	for _, candidate := range []evaluation.Status{
		evaluation.StatusQueued,
		evaluation.StatusProcessing,
		evaluation.StatusCompleted,
		evaluation.StatusFailed,
	} {
		if evaluation.CanTransition(candidate, target) {
			from = append(from, string(candidate))
		}
	}
	return from
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
