// Package scheduler implements the task queue and its single worker.
//
// Core concepts:
//   - Queue: an unbounded FIFO of submitted tasks; Submit never blocks
//   - Worker: one goroutine that dequeues and processes tasks one at a time
//   - Isolation: errors and panics from processing are logged and the loop
//     moves on to the next task
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

// Processor handles one dequeued task.
type Processor interface {
	Process(ctx context.Context, task *domain.Task) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, task *domain.Task) error

func (f ProcessorFunc) Process(ctx context.Context, task *domain.Task) error { return f(ctx, task) }

// ─── Queued Task ────────────────────────────────────────────────────────────

// QueuedTask wraps a task with queueing metadata.
type QueuedTask struct {
	Task     *domain.Task
	QueuedAt time.Time
}

// ─── Queue ──────────────────────────────────────────────────────────────────

// Queue is an unbounded FIFO drained by a single worker.
type Queue struct {
	mu     sync.Mutex
	items  []QueuedTask
	closed bool
	// signal has capacity one; a pending value means "items may be ready".
	signal chan struct{}
	done   chan struct{}

	log logger.Logger

	// Stats
	totalEnqueued  atomic.Int64
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	busy           atomic.Bool
}

// New creates an empty queue.
func New(log logger.Logger) *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    log.With("component", "scheduler"),
	}
}

// ─── Submit ─────────────────────────────────────────────────────────────────

// Submit appends task to the queue. It fails only after Close.
func (q *Queue) Submit(task *domain.Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}
	q.items = append(q.items, QueuedTask{Task: task, QueuedAt: time.Now()})
	depth := len(q.items)
	q.mu.Unlock()

	q.totalEnqueued.Add(1)
	metrics.TasksSubmitted.Inc()
	metrics.QueueDepth.Set(float64(depth))

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// ─── Dequeue ────────────────────────────────────────────────────────────────

// Dequeue removes and returns the oldest task, or nil if the queue is empty.
func (q *Queue) Dequeue() *QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	qt := q.items[0]
	q.items[0] = QueuedTask{}
	q.items = q.items[1:]
	metrics.QueueDepth.Set(float64(len(q.items)))
	return &qt
}

// Len returns the number of tasks waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting tasks and makes Run return once the task in flight,
// if any, is done. It removes and returns the tasks still waiting, oldest
// first, so the caller can settle them. Later calls return nil.
func (q *Queue) Close() []*domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)

	var dropped []*domain.Task
	for _, qt := range q.items {
		dropped = append(dropped, qt.Task)
	}
	q.items = nil
	metrics.QueueDepth.Set(0)
	return dropped
}

// ─── Worker ─────────────────────────────────────────────────────────────────

// Run is the worker loop. It returns when ctx is cancelled or the queue is
// closed.
func (q *Queue) Run(ctx context.Context, p Processor) {
	q.log.Info("task worker started")
	defer q.log.Info("task worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		default:
		}

		qt := q.Dequeue()
		if qt == nil {
			select {
			case <-q.signal:
				continue
			case <-ctx.Done():
				return
			case <-q.done:
				return
			}
		}
		q.process(ctx, p, qt)
	}
}

func (q *Queue) process(ctx context.Context, p Processor, qt *QueuedTask) {
	log := q.log.With("task_id", qt.Task.ID)
	metrics.TaskWaitLatency.Observe(time.Since(qt.QueuedAt).Seconds())

	q.busy.Store(true)
	defer q.busy.Store(false)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return p.Process(ctx, qt.Task)
	}()

	if err != nil {
		q.totalFailed.Add(1)
		log.Error("task processing error", "error", err)
		return
	}
	q.totalCompleted.Add(1)
	log.Debug("task processed")
}

// ─── Stats & Inspection ─────────────────────────────────────────────────────

// Stats is a point-in-time view of the queue.
type Stats struct {
	QueueDepth     int   `json:"queue_depth"`
	Busy           bool  `json:"busy"`
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalCompleted int64 `json:"total_completed"`
	TotalFailed    int64 `json:"total_failed"`
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	return Stats{
		QueueDepth:     q.Len(),
		Busy:           q.busy.Load(),
		TotalEnqueued:  q.totalEnqueued.Load(),
		TotalCompleted: q.totalCompleted.Load(),
		TotalFailed:    q.totalFailed.Load(),
	}
}
