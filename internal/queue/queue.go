// internal/queue/queue.go
package queue

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultLimit is the number of tasks admitted at once when no limit is configured.
const DefaultLimit = 3

// Stats is a snapshot of queue occupancy.
type Stats struct {
	Limit   int
	Active  int
	Waiting int
}

// Queue admits at most Limit tasks at a time and parks the rest in a FIFO
// backlog. A slot freed by a finished task, failed or not, goes to the
// longest-waiting caller.
type Queue struct {
	logger *zap.Logger

	mu      sync.Mutex
	limit   int
	active  int
	backlog *list.List // of chan struct{}, closed on admission

	observe func(active, waiting int)
}

// Option configures a Queue.
type Option func(*Queue)

// WithObserver registers fn to be called with the occupancy after every change.
// fn runs under the queue lock and must not call back into the queue.
func WithObserver(fn func(active, waiting int)) Option {
	return func(q *Queue) { q.observe = fn }
}

// New creates a queue. A limit below one falls back to DefaultLimit.
func New(limit int, logger *zap.Logger, opts ...Option) *Queue {
	if limit < 1 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		logger:  logger.Named("queue"),
		limit:   limit,
		backlog: list.New(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit runs task once a slot is free and returns its result.
func Submit[T any](ctx context.Context, q *Queue, task func(context.Context) (T, error)) (T, error) {
	var result T
	err := q.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = task(ctx)
		return err
	})
	return result, err
}

// Do runs task once a slot is free. If ctx ends while the task is still
// waiting, it leaves the backlog without running. A panic in task is
// returned as an error to this caller only.
func (q *Queue) Do(ctx context.Context, task func(context.Context) error) (err error) {
	if err := q.acquire(ctx); err != nil {
		return fmt.Errorf("queue: waiting for a slot: %w", err)
	}
	defer q.release()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked.", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("queue: task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// SetLimit changes the admission limit. Raising it admits waiting tasks at
// once; lowering it never interrupts running tasks.
func (q *Queue) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger.Info("Concurrency limit changed.", zap.Int("from", q.limit), zap.Int("to", limit))
	q.limit = limit
	q.admitLocked()
	q.notifyLocked()
}

// Limit returns the current admission limit.
func (q *Queue) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Stats returns the current occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Limit: q.limit, Active: q.active, Waiting: q.backlog.Len()}
}

func (q *Queue) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.active < q.limit && q.backlog.Len() == 0 {
		q.active++
		q.notifyLocked()
		q.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := q.backlog.PushBack(ready)
	q.notifyLocked()
	waiting := q.backlog.Len()
	q.mu.Unlock()

	q.logger.Debug("Task queued.", zap.Int("position", waiting))

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	select {
	case <-ready:
		// Admitted while the context ended; the slot must be handed back.
		q.mu.Unlock()
		q.release()
	default:
		q.backlog.Remove(elem)
		q.notifyLocked()
		q.mu.Unlock()
	}
	return ctx.Err()
}

func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	q.admitLocked()
	q.notifyLocked()
}

func (q *Queue) admitLocked() {
	for q.active < q.limit && q.backlog.Len() > 0 {
		front := q.backlog.Front()
		q.backlog.Remove(front)
		q.active++
		close(front.Value.(chan struct{}))
	}
}

func (q *Queue) notifyLocked() {
	if q.observe != nil {
		q.observe(q.active, q.backlog.Len())
	}
}
