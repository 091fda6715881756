// Package retry provides the shared retry/backoff policy used around every
// unreliable collaborator: the structured generation service, the broker and
// the similarity index. Errors are classified into a closed set of kinds,
// mapped from transport status codes where possible and from message patterns
// only for opaque errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hireloop/cv-screener/internal/utils"
)

// Kind is the classification of an error for retry decisions.
type Kind string

const (
	// KindInvalidInput marks caller errors. Never retried.
	KindInvalidInput Kind = "invalid_input"
	// KindUnavailable marks a missing or unconfigured dependency. Never retried.
	KindUnavailable Kind = "service_unavailable"
	// KindRetryable marks transient upstream conditions.
	KindRetryable Kind = "retryable"
	// KindRateLimit is retryable with a more aggressive backoff.
	KindRateLimit Kind = "rate_limited"
	// KindValidation marks a well-formed response with out-of-contract values.
	// Retried once, then terminal.
	KindValidation Kind = "validation_failed"
	// KindNotFound marks an absent job or document. Terminal.
	KindNotFound Kind = "not_found"
	// KindUnknown is anything unclassified. Treated as terminal.
	KindUnknown Kind = "unknown"
)

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Mark wraps err with an explicit kind.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a new classified error.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf classifies an error. Explicit marks win; then transport status codes;
// then message patterns for opaque errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var marked *Error
	if errors.As(err, &marked) {
		return marked.Kind
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return KindRateLimit
		case apiErr.Code >= 500:
			return KindRetryable
		case apiErr.Code == 401 || apiErr.Code == 403:
			return KindInvalidInput
		case apiErr.Code == 400:
			return KindInvalidInput
		case apiErr.Code == 404:
			return KindNotFound
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindRetryable
	}

	return kindFromMessage(err.Error())
}

var rateLimitPatterns = []string{"rate limit", "quota", "429", "resource exhausted", "resource_exhausted", "too many requests"}

var retryablePatterns = []string{
	"timeout", "timed out", "deadline exceeded",
	"unavailable", "overloaded", "internal server error", "bad gateway",
	"500", "502", "503", "504",
	"connection refused", "connection reset", "broken pipe", "i/o error",
	"try again",
}

var terminalPatterns = []string{
	"invalid", "bad request", "400",
	"unauthorized", "forbidden", "permission", "authentication", "api key",
}

func kindFromMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, p := range rateLimitPatterns {
		if strings.Contains(lower, p) {
			return KindRateLimit
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return KindRetryable
		}
	}
	for _, p := range terminalPatterns {
		if strings.Contains(lower, p) {
			return KindInvalidInput
		}
	}
	return KindUnknown
}

// Policy bounds a retry loop. A budget of MaxRetries means MaxRetries+1
// attempts in total.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Rate-limit errors back off harder to avoid hammering a throttled
	// service.
	RateLimitBase time.Duration
	RateLimitMax  time.Duration
}

// Local is the policy for local resource operations such as the similarity
// index.
func Local() Policy {
	return Policy{
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		RateLimitBase: 2 * time.Second,
		RateLimitMax:  15 * time.Second,
	}
}

// Generation is the policy for external generation-service calls.
func Generation() Policy {
	return Policy{
		MaxRetries:    3,
		BaseDelay:     2 * time.Second,
		MaxDelay:      60 * time.Second,
		RateLimitBase: 5 * time.Second,
		RateLimitMax:  120 * time.Second,
	}
}

// Delay returns the backoff before the attempt-th retry (zero based), with
// uniform jitter applied and the policy cap enforced.
func (p Policy) Delay(attempt int, kind Kind) time.Duration {
	base, max := p.BaseDelay, p.MaxDelay
	if kind == KindRateLimit {
		base, max = p.RateLimitBase, p.RateLimitMax
	}
	if base <= 0 {
		return 0
	}

	if attempt > 20 {
		attempt = 20
	}
	delay := base << uint(attempt)
	delay += rand.N(base)
	if delay > max {
		delay = max
	}
	return delay
}

// wait is swapped out in tests.
var wait = utils.WaitFor

// Do runs op under the policy. On success the result is passed through
// validate (when provided); a validation failure counts as a retryable
// failure once, then becomes terminal. Non-retryable errors abort
// immediately. After the budget is exhausted the last underlying error is
// returned.
func Do[T any](ctx context.Context, logger *zap.Logger, p Policy, name string, op func(context.Context) (T, error), validate func(T) error) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	validationFailures := 0

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt-1, KindOf(lastErr))
			logger.Debug("retrying operation",
				zap.String("operation", name),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := wait(ctx, delay); err != nil {
				return zero, fmt.Errorf("%s: %w", name, err)
			}
		}

		result, err := op(ctx)
		if err == nil && validate != nil {
			if verr := validate(result); verr != nil {
				err = Mark(KindValidation, verr)
			}
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch KindOf(err) {
		case KindValidation:
			validationFailures++
			if validationFailures > 1 {
				return zero, fmt.Errorf("%s: %w", name, err)
			}
		case KindRetryable, KindRateLimit:
			// next attempt
		default:
			return zero, fmt.Errorf("%s: %w", name, err)
		}
	}

	return zero, fmt.Errorf("%s: retries exhausted after %d attempts: %w", name, p.MaxRetries+1, lastErr)
}
