package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MemoryQueue is a buffered, process-local queue that satisfies both
// Publisher and Consumer. It is meant for single-process runs and tests.
type MemoryQueue struct {
	messages chan Message
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Ensure MemoryQueue implements both sides of the queue
var (
	_ Publisher = (*MemoryQueue)(nil)
	_ Consumer  = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates a queue holding up to size undelivered messages.
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		messages: make(chan Message, size),
		logger:   logger.With(slog.String("component", "memory_queue")),
	}
}

// Publish adds a message to the queue.
// Returns an error if the queue is full or closed.
func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("%w: %w", ErrPublishFailed, ErrQueueClosed)
	}

	select {
	case q.messages <- msg:
		q.logger.Debug("job message enqueued",
			"job_id", msg.ProcessingJobID,
			"queue_len", len(q.messages),
			"queue_cap", cap(q.messages))
		return nil
	default:
		return fmt.Errorf("%w: %w: capacity %d reached", ErrPublishFailed, ErrQueueFull, cap(q.messages))
	}
}

// Consume returns a channel of deliveries. Rejecting with requeue puts the
// message back on the queue; rejecting without requeue drops it.
func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-q.messages:
				if !ok {
					return
				}
				d := NewDelivery(msg,
					func() error { return nil },
					func(requeue bool) error {
						if !requeue {
							q.logger.Debug("job message dropped", "job_id", msg.ProcessingJobID)
							return nil
						}
						return q.Publish(context.Background(), msg)
					})
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Len returns the number of undelivered messages.
func (q *MemoryQueue) Len() int {
	return len(q.messages)
}

// Close stops accepting messages. Consumers drain what is buffered and then stop.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.messages)
		q.logger.Info("job queue closed")
	}
}
