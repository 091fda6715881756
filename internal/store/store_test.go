package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/evaluation"
	"github.com/hireloop/cv-screener/internal/retry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "screener.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func createTestJob(t *testing.T, s *Store) *evaluation.Job {
	t.Helper()

	ctx := context.Background()
	cv, err := s.CreateDocument(ctx, evaluation.DocTypeCV, "cv.pdf", "/tmp/cv.pdf")
	require.NoError(t, err)
	report, err := s.CreateDocument(ctx, evaluation.DocTypeReport, "report.pdf", "/tmp/report.pdf")
	require.NoError(t, err)

	job, err := s.CreateJob(ctx, "Backend Engineer", cv.ID, report.ID)
	require.NoError(t, err)

	return job
}

func validResult() *evaluation.Result {
	return &evaluation.Result{
		CVMatchRate:         0.82,
		CVFeedback:          "Strong backend background.",
		ProjectScore:        4.5,
		ProjectFeedback:     "Solid error handling.",
		OverallSummary:      "Good fit, worth an interview.",
		FinalRecommendation: "Proceed to interview.",
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := createTestJob(t, s)
	assert.Equal(t, evaluation.StatusQueued, created.Status)
	assert.NotZero(t, created.ID)

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Backend Engineer", got.JobTitle)
	assert.Equal(t, evaluation.StatusQueued, got.Status)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.ErrorMessage)
}

func TestCreateJobEmptyTitle(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateJob(context.Background(), "   ", 1, 2)
	require.Error(t, err)
	assert.True(t, retry.IsKind(err, retry.KindInvalidInput))
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, retry.IsKind(err, retry.KindNotFound))
}

func TestJobLifecycleToCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, evaluation.StatusProcessing, nil, ""))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusProcessing, got.Status)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, evaluation.StatusCompleted, validResult(), ""))

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.InDelta(t, 0.82, got.Result.CVMatchRate, 1e-9)
	assert.Equal(t, "Proceed to interview.", got.Result.FinalRecommendation)
	assert.Empty(t, got.ErrorMessage)
}

func TestJobLifecycleToFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, evaluation.StatusProcessing, nil, ""))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, evaluation.StatusFailed, nil, "model unavailable"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusFailed, got.Status)
	assert.Equal(t, "model unavailable", got.ErrorMessage)
	assert.Nil(t, got.Result)
}

func TestQueuedJobCanFailDirectly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, evaluation.StatusFailed, nil, "queue submission failed"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusFailed, got.Status)
}

func TestInvalidTransitionsRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("queued cannot complete", func(t *testing.T) {
		job := createTestJob(t, s)
		err := s.UpdateJobStatus(ctx, job.ID, evaluation.StatusCompleted, validResult(), "")
		require.Error(t, err)
		assert.True(t, retry.IsKind(err, retry.KindInvalidInput))
	})

	t.Run("terminal jobs stay terminal", func(t *testing.T) {
		job := createTestJob(t, s)
		require.NoError(t, s.UpdateJobStatus(ctx, job.ID, evaluation.StatusProcessing, nil, ""))
		require.NoError(t, s.UpdateJobStatus(ctx, job.ID, evaluation.StatusCompleted, validResult(), ""))

		err := s.UpdateJobStatus(ctx, job.ID, evaluation.StatusProcessing, nil, "")
		require.Error(t, err)
		assert.True(t, retry.IsKind(err, retry.KindInvalidInput))

		err = s.UpdateJobStatus(ctx, job.ID, evaluation.StatusFailed, nil, "late failure")
		require.Error(t, err)

		got, getErr := s.GetJob(ctx, job.ID)
		require.NoError(t, getErr)
		assert.Equal(t, evaluation.StatusCompleted, got.Status)
	})

	t.Run("missing job", func(t *testing.T) {
		err := s.UpdateJobStatus(ctx, 12345, evaluation.StatusProcessing, nil, "")
		require.Error(t, err)
		assert.True(t, retry.IsKind(err, retry.KindNotFound))
	})
}

func TestUpdateJobStatusPayloadRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, s)

	tests := []struct {
		name   string
		status evaluation.Status
		result *evaluation.Result
		errMsg string
	}{
		{"processing with result", evaluation.StatusProcessing, validResult(), ""},
		{"processing with error", evaluation.StatusProcessing, nil, "oops"},
		{"completed without result", evaluation.StatusCompleted, nil, ""},
		{"completed with error", evaluation.StatusCompleted, validResult(), "oops"},
		{"failed without error", evaluation.StatusFailed, nil, ""},
		{"failed with result", evaluation.StatusFailed, validResult(), "oops"},
		{"target queued", evaluation.StatusQueued, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.UpdateJobStatus(ctx, job.ID, tt.status, tt.result, tt.errMsg)
			require.Error(t, err)
			assert.True(t, retry.IsKind(err, retry.KindInvalidInput))
		})
	}
}

func TestStuckProcessingJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stuck := createTestJob(t, s)
	require.NoError(t, s.UpdateJobStatus(ctx, stuck.ID, evaluation.StatusProcessing, nil, ""))

	fresh := createTestJob(t, s)
	require.NoError(t, s.UpdateJobStatus(ctx, fresh.ID, evaluation.StatusProcessing, nil, ""))

	queued := createTestJob(t, s)
	_ = queued

	// Backdate the first job so only it falls behind the cutoff.
	old := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE id = ?`, old, stuck.ID)
	require.NoError(t, err)

	jobs, err := s.StuckProcessingJobs(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stuck.ID, jobs[0].ID)
	assert.Equal(t, evaluation.StatusProcessing, jobs[0].Status)
}

func TestCreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, evaluation.DocTypeCV, "resume.pdf", "/uploads/resume.pdf")
	require.NoError(t, err)
	assert.NotZero(t, doc.ID)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.DocTypeCV, got.DocType)
	assert.Equal(t, "resume.pdf", got.Filename)
	assert.Equal(t, "/uploads/resume.pdf", got.Path)

	_, err = s.CreateDocument(ctx, evaluation.DocTypeCV, "", "/uploads/x.pdf")
	require.Error(t, err)
	assert.True(t, retry.IsKind(err, retry.KindInvalidInput))

	_, err = s.GetDocument(ctx, 4242)
	require.Error(t, err)
	assert.True(t, retry.IsKind(err, retry.KindNotFound))
}
