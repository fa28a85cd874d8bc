package lifecycletest

import (
	"context"
	"sync"

	"marketplace/api/internal/lifecycle"
)

type Notification struct {
	Record lifecycle.Record
	Event  lifecycle.Event
}

// Notifier records notifications. Err or Panic make every call fail.
type Notifier struct {
	mu    sync.Mutex
	calls []Notification
	Err   error
	Panic bool
}

func (n *Notifier) Notify(_ context.Context, record lifecycle.Record, event lifecycle.Event) error {
	n.mu.Lock()
	n.calls = append(n.calls, Notification{Record: record, Event: event})
	n.mu.Unlock()
	if n.Panic {
		panic("notifier exploded")
	}
	return n.Err
}

func (n *Notifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.calls...)
}

// Regenerator records regeneration requests.
type Regenerator struct {
	mu    sync.Mutex
	calls []lifecycle.RegenerationRequest
	Err   error
}

func (r *Regenerator) Regenerate(_ context.Context, req lifecycle.RegenerationRequest) error {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	return r.Err
}

func (r *Regenerator) Calls() []lifecycle.RegenerationRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.RegenerationRequest(nil), r.calls...)
}
