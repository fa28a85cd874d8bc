package sideeffect

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is a bounded in-process queue. Delayed tasks wait on timers;
// a task whose timer fires after Close, or while the queue is full, is lost.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  chan Task
	closed bool
	timers map[*time.Timer]struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		tasks:  make(chan Task, capacity),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Push(_ context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) PushDelayed(ctx context.Context, task Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Push(ctx, task)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		_ = q.Push(context.Background(), task)
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (Task, error) {
	select {
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case task, ok := <-q.tasks:
		if !ok {
			return Task{}, ErrClosed
		}
		return task, nil
	}
}

// Len reports ready tasks only.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	close(q.tasks)
	return nil
}
