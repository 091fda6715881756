// Package broker adapts Redis into the job queue used between the API server
// and the workers. Jobs travel through a single list; terminal results are
// mirrored into expiring keys so clients can poll without touching the record
// store.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/retry"
	"github.com/hireloop/cv-screener/internal/utils"
)

const (
	queueKey        = "evaluation_queue"
	resultKeyPrefix = "job_result:"

	// Workers block on the queue for this long per dequeue call so shutdown
	// stays responsive.
	dequeueTimeout = 5 * time.Second

	resultTTL    = time.Hour
	pollInterval = 2 * time.Second
)

// Message is the unit of work pushed through the queue. It carries everything
// a worker needs to locate the job; document content stays in the record
// store.
type Message struct {
	JobID            int64     `json:"job_id"`
	JobTitle         string    `json:"job_title"`
	CVDocumentID     int64     `json:"cv_document_id"`
	ReportDocumentID int64     `json:"report_document_id"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// commands is the slice of the Redis client the broker uses.
type commands interface {
	Ping(ctx context.Context) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// wait is swapped out in tests.
var wait = utils.WaitFor

// Broker is the queue adapter. Delivery is at-most-once: a popped message
// that is lost before the job completes is recovered by the stuck-job
// sweeper, not by the queue.
type Broker struct {
	rdb    commands
	closer io.Closer
	logger *zap.Logger
}

// Connect parses the Redis URL, opens a client and verifies the connection.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, retry.Errorf(retry.KindInvalidInput, "parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, retry.Mark(retry.KindUnavailable, fmt.Errorf("ping redis: %w", err))
	}

	logger.Info("connected to queue broker", zap.String("addr", opts.Addr))

	return &Broker{rdb: client, closer: client, logger: logger}, nil
}

// Ping verifies the broker connection.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// SubmitJob enqueues a job message. A submit failure leaves nothing on the
// queue; the caller decides the job's fate.
func (b *Broker) SubmitJob(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}

	if err := b.rdb.LPush(ctx, queueKey, payload).Err(); err != nil {
		return retry.Mark(retry.KindUnavailable, fmt.Errorf("enqueue job %d: %w", msg.JobID, err))
	}

	b.logger.Debug("job enqueued", zap.Int64("job_id", msg.JobID))
	return nil
}

// Dequeue blocks for up to the dequeue timeout and returns the next message,
// or nil when the queue stayed empty.
func (b *Broker) Dequeue(ctx context.Context) (*Message, error) {
	vals, err := b.rdb.BLPop(ctx, dequeueTimeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, retry.Mark(retry.KindUnavailable, fmt.Errorf("dequeue: %w", err))
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply of %d elements", len(vals))
	}

	var msg Message
	if err := json.Unmarshal([]byte(vals[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}

	return &msg, nil
}

// StoreResult mirrors a job's terminal payload into an expiring key for
// cheap client polling. The record store stays authoritative.
func (b *Broker) StoreResult(ctx context.Context, jobID int64, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode result for job %d: %w", jobID, err)
	}

	if err := b.rdb.SetEx(ctx, resultKey(jobID), encoded, resultTTL).Err(); err != nil {
		return retry.Mark(retry.KindUnavailable, fmt.Errorf("store result for job %d: %w", jobID, err))
	}

	return nil
}

// GetResult polls for a job's mirrored result until it appears or the
// context ends. The raw JSON payload is returned untouched.
func (b *Broker) GetResult(ctx context.Context, jobID int64) (string, error) {
	for {
		val, err := b.rdb.Get(ctx, resultKey(jobID)).Result()
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", retry.Mark(retry.KindUnavailable, fmt.Errorf("fetch result for job %d: %w", jobID, err))
		}

		if err := wait(ctx, pollInterval); err != nil {
			return "", fmt.Errorf("waiting for job %d result: %w", jobID, err)
		}
	}
}

func resultKey(jobID int64) string {
	return fmt.Sprintf("%s%d", resultKeyPrefix, jobID)
}
