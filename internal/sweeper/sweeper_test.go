package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/evaluation"
)

type fakeStore struct {
	stuck    []*evaluation.Job
	listErr  error
	failErrs map[int64]error
	failed   []int64
}

func (f *fakeStore) StuckProcessingJobs(context.Context, time.Time) ([]*evaluation.Job, error) {
	return f.stuck, f.listErr
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, id int64, status evaluation.Status, result *evaluation.Result, errMsg string) error {
	if err := f.failErrs[id]; err != nil {
		return err
	}
	if status != evaluation.StatusFailed || result != nil || errMsg == "" {
		return errors.New("unexpected update payload")
	}
	f.failed = append(f.failed, id)
	return nil
}

func TestSweepFailsStalledJobs(t *testing.T) {
	store := &fakeStore{stuck: []*evaluation.Job{
		{ID: 1, Status: evaluation.StatusProcessing},
		{ID: 2, Status: evaluation.StatusProcessing},
	}}
	s := New(store, time.Minute, zap.NewNop())

	swept, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 2 {
		t.Errorf("swept = %d, want 2", swept)
	}
	if len(store.failed) != 2 {
		t.Errorf("failed jobs = %v", store.failed)
	}
}

func TestSweepNothingStuck(t *testing.T) {
	s := New(&fakeStore{}, time.Minute, zap.NewNop())

	swept, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}
}

func TestSweepContinuesPastUpdateFailures(t *testing.T) {
	store := &fakeStore{
		stuck: []*evaluation.Job{
			{ID: 1, Status: evaluation.StatusProcessing},
			{ID: 2, Status: evaluation.StatusProcessing},
		},
		failErrs: map[int64]error{1: errors.New("job 1 cannot move from completed to failed")},
	}
	s := New(store, time.Minute, zap.NewNop())

	swept, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
	if len(store.failed) != 1 || store.failed[0] != 2 {
		t.Errorf("failed jobs = %v", store.failed)
	}
}

func TestSweepListFailure(t *testing.T) {
	s := New(&fakeStore{listErr: errors.New("database is locked")}, time.Minute, zap.NewNop())

	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected an error when the listing fails")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&fakeStore{}, time.Minute, zap.NewNop())

	if err := s.Start(context.Background(), "not a schedule"); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
