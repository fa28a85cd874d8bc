// Package sideeffect moves notifications and regenerations off the request
// path. The lifecycle engine hands them to a Dispatcher, which enqueues
// serialisable tasks; a Pool of workers drains the queue with retries.
package sideeffect

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"marketplace/api/internal/lifecycle"
)

type Kind string

const (
	KindNotify     Kind = "notify"
	KindRegenerate Kind = "regenerate"
)

var (
	ErrClosed    = errors.New("sideeffect: queue closed")
	ErrQueueFull = errors.New("sideeffect: queue full")
)

// Task is one unit of outbound work. Attempt starts at 1.
type Task struct {
	ID           string                         `json:"id"`
	Kind         Kind                           `json:"kind"`
	Entity       lifecycle.EntityType           `json:"entity"`
	RecordID     int64                          `json:"record_id"`
	Event        lifecycle.Event                `json:"event,omitempty"`
	Record       *lifecycle.Record              `json:"record,omitempty"`
	Regeneration *lifecycle.RegenerationRequest `json:"regeneration,omitempty"`
	Attempt      int                            `json:"attempt"`
	EnqueuedAt   time.Time                      `json:"enqueued_at"`
}

type Queue interface {
	Push(ctx context.Context, task Task) error
	// PushDelayed makes task visible to Pop after delay.
	PushDelayed(ctx context.Context, task Task, delay time.Duration) error
	// Pop blocks until a task is available or ctx is done.
	Pop(ctx context.Context) (Task, error)
	Close() error
}

// Dispatcher implements lifecycle.Notifier and lifecycle.Regenerator by
// enqueueing tasks. It never performs the work itself.
type Dispatcher struct {
	queue Queue
	now   func() time.Time
}

func NewDispatcher(queue Queue) *Dispatcher {
	return &Dispatcher{queue: queue, now: time.Now}
}

var (
	_ lifecycle.Notifier    = (*Dispatcher)(nil)
	_ lifecycle.Regenerator = (*Dispatcher)(nil)
)

func (d *Dispatcher) Notify(ctx context.Context, record lifecycle.Record, event lifecycle.Event) error {
	snapshot := record
	return d.queue.Push(ctx, Task{
		ID:         uuid.NewString(),
		Kind:       KindNotify,
		Entity:     record.Entity,
		RecordID:   record.ID,
		Event:      event,
		Record:     &snapshot,
		Attempt:    1,
		EnqueuedAt: d.now().UTC(),
	})
}

func (d *Dispatcher) Regenerate(ctx context.Context, req lifecycle.RegenerationRequest) error {
	return d.queue.Push(ctx, Task{
		ID:           uuid.NewString(),
		Kind:         KindRegenerate,
		Entity:       req.Entity,
		RecordID:     req.RecordID,
		Regeneration: &req,
		Attempt:      1,
		EnqueuedAt:   d.now().UTC(),
	})
}
