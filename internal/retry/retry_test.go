package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

func silenceWait(t *testing.T) *[]time.Duration {
	t.Helper()

	var waits []time.Duration
	original := wait
	wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { wait = original })
	return &waits
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"marked invalid input", Errorf(KindInvalidInput, "cv text cannot be empty"), KindInvalidInput},
		{"marked unavailable", Errorf(KindUnavailable, "gemini api key is not configured"), KindUnavailable},
		{"wrapped mark survives", fmt.Errorf("evaluate cv: %w", Errorf(KindNotFound, "job 12 not found")), KindNotFound},
		{"api error 429", genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}, KindRateLimit},
		{"api error 500", genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}, KindRetryable},
		{"api error 503", genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}, KindRetryable},
		{"api error 400", genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"}, KindInvalidInput},
		{"api error 403", genai.APIError{Code: http.StatusForbidden, Status: "PERMISSION_DENIED"}, KindInvalidInput},
		{"deadline", context.DeadlineExceeded, KindRetryable},
		{"quota message", errors.New("quota exceeded for model"), KindRateLimit},
		{"timeout message", errors.New("dial tcp: i/o timeout"), KindRetryable},
		{"connection reset", errors.New("read: connection reset by peer"), KindRetryable},
		{"overloaded", errors.New("the model is overloaded, try again later"), KindRetryable},
		{"unauthorized", errors.New("unauthorized: bad credentials"), KindInvalidInput},
		{"opaque", errors.New("something odd happened"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoMakesExactlyBudgetPlusOneAttempts(t *testing.T) {
	waits := silenceWait(t)

	attempts := 0
	_, err := Do(context.Background(), zap.NewNop(), Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second},
		"always failing", func(context.Context) (int, error) {
			attempts++
			return 0, errors.New("connection refused")
		}, nil)

	if err == nil {
		t.Fatalf("expected terminal error")
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
	if len(*waits) != 3 {
		t.Fatalf("expected 3 sleeps, got %d", len(*waits))
	}
}

func TestDoAbortsOnNonRetryable(t *testing.T) {
	silenceWait(t)

	attempts := 0
	_, err := Do(context.Background(), zap.NewNop(), Local(), "invalid call",
		func(context.Context) (string, error) {
			attempts++
			return "", Errorf(KindInvalidInput, "job title cannot be empty")
		}, nil)

	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if !IsKind(err, KindInvalidInput) {
		t.Fatalf("expected invalid input kind, got %v", err)
	}
}

func TestDoAbortsOnUnknown(t *testing.T) {
	silenceWait(t)

	attempts := 0
	_, err := Do(context.Background(), zap.NewNop(), Local(), "odd call",
		func(context.Context) (string, error) {
			attempts++
			return "", errors.New("inscrutable condition")
		}, nil)

	if err == nil || attempts != 1 {
		t.Fatalf("expected one attempt and an error, got attempts=%d err=%v", attempts, err)
	}
}

func TestDoValidationRetriedOnceThenTerminal(t *testing.T) {
	silenceWait(t)

	attempts := 0
	_, err := Do(context.Background(), zap.NewNop(), Generation(), "evaluate cv",
		func(context.Context) (float64, error) {
			attempts++
			return 1.7, nil
		},
		func(rate float64) error {
			if rate < 0 || rate > 1 {
				return fmt.Errorf("cv_match_rate %v is outside 0..1", rate)
			}
			return nil
		})

	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts (retried once), got %d", attempts)
	}
	if !IsKind(err, KindValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	silenceWait(t)

	attempts := 0
	got, err := Do(context.Background(), zap.NewNop(), Local(), "flaky op",
		func(context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("connection reset by peer")
			}
			return "ok", nil
		}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Fatalf("unexpected result %q after %d attempts", got, attempts)
	}
}

func TestDelayCapsAndGrows(t *testing.T) {
	t.Parallel()

	p := Policy{
		MaxRetries:    5,
		BaseDelay:     time.Second,
		MaxDelay:      10 * time.Second,
		RateLimitBase: 5 * time.Second,
		RateLimitMax:  120 * time.Second,
	}

	for attempt := 0; attempt < 10; attempt++ {
		d := p.Delay(attempt, KindRetryable)
		if d > p.MaxDelay {
			t.Fatalf("delay %v exceeds cap %v at attempt %d", d, p.MaxDelay, attempt)
		}
		if d < p.BaseDelay {
			t.Fatalf("delay %v below base %v at attempt %d", d, p.BaseDelay, attempt)
		}
	}

	small := p.Delay(0, KindRetryable)
	big := p.Delay(0, KindRateLimit)
	if big <= small {
		t.Fatalf("rate-limit backoff %v should exceed plain backoff %v", big, small)
	}

	if got := p.Delay(3, KindRateLimit); got > p.RateLimitMax {
		t.Fatalf("rate-limit delay %v exceeds its cap %v", got, p.RateLimitMax)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	original := wait
	wait = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { wait = original })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := Do(ctx, zap.NewNop(), Local(), "cancelled op",
		func(context.Context) (int, error) {
			attempts++
			return 0, errors.New("timeout")
		}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", attempts)
	}
}
