package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ingestQueueCapacity bounds how many pending tasks the queue accepts before
// Submit blocks. Callers feel backpressure instead of the process growing
// without limit.
const ingestQueueCapacity = 100

type ingestTask struct {
	name string
	run  func(context.Context) error
}

// Ingestor is the bounded background queue for upload post-processing and
// similarity-index ingestion, so HTTP handlers return without waiting on
// extraction or embedding.
type Ingestor struct {
	tasks  chan ingestTask
	logger *zap.Logger

	startOnce sync.Once
	done      chan struct{}
}

func NewIngestor(logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		tasks:  make(chan ingestTask, ingestQueueCapacity),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the single drain goroutine. Tasks run one at a time in
// submission order.
func (in *Ingestor) Start(ctx context.Context) {
	in.startOnce.Do(func() {
		go in.drain(ctx)
	})
}

func (in *Ingestor) drain(ctx context.Context) {
	defer close(in.done)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-in.tasks:
			if err := task.run(ctx); err != nil {
				in.logger.Warn("background task failed",
					zap.String("task", task.name),
					zap.Error(err),
				)
			}
		}
	}
}

// Submit queues one task. It blocks when the queue is full until space frees
// up or the context ends.
func (in *Ingestor) Submit(ctx context.Context, name string, run func(context.Context) error) error {
	select {
	case in.tasks <- ingestTask{name: name, run: run}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit task %s: %w", name, ctx.Err())
	}
}

// Pending reports how many tasks are waiting.
func (in *Ingestor) Pending() int {
	return len(in.tasks)
}

// Wait blocks until the drain goroutine has exited.
func (in *Ingestor) Wait() {
	<-in.done
}
