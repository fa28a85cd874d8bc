package sideeffect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"marketplace/api/internal/lifecycle"
)

type Handler interface {
	Handle(ctx context.Context, task Task) error
}

type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) Handle(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// NotifyHandler delivers notify tasks to n.
func NotifyHandler(n lifecycle.Notifier) Handler {
	return HandlerFunc(func(ctx context.Context, task Task) error {
		if task.Record == nil {
			return fmt.Errorf("notify task %s has no record", task.ID)
		}
		return n.Notify(ctx, *task.Record, task.Event)
	})
}

// RegenerateHandler delivers regenerate tasks to r.
func RegenerateHandler(r lifecycle.Regenerator) Handler {
	return HandlerFunc(func(ctx context.Context, task Task) error {
		if task.Regeneration == nil {
			return fmt.Errorf("regenerate task %s has no request", task.ID)
		}
		return r.Regenerate(ctx, *task.Regeneration)
	})
}

// Reporter receives tasks that failed on their last attempt.
type Reporter interface {
	Report(failure *lifecycle.SideEffectFailure)
}

type SentryReporter struct{}

func (SentryReporter) Report(failure *lifecycle.SideEffectFailure) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("effect", failure.Effect)
		scope.SetTag("entity", string(failure.Entity))
		sentry.CaptureException(failure)
	})
}

type PoolOptions struct {
	Workers     int
	Timeout     time.Duration
	MaxAttempts int
	// Backoff returns the delay before the next attempt. Defaults to
	// 2^attempt seconds.
	Backoff  func(attempt int) time.Duration
	Logger   logrus.FieldLogger
	Reporter Reporter
}

// Pool drains a Queue with a fixed number of workers.
type Pool struct {
	queue    Queue
	handlers map[Kind]Handler
	opts     PoolOptions
	log      logrus.FieldLogger
}

func NewPool(queue Queue, handlers map[Kind]Handler, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Pool{
		queue:    queue,
		handlers: handlers,
		opts:     opts,
		log:      opts.Logger.WithField("component", "sideeffect"),
	}
}

func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// Run blocks until ctx is cancelled or the queue is closed. Tasks already
// popped are finished even after cancellation.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		group.Go(func() error {
			p.loop(ctx)
			return nil
		})
	}
	return group.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		task, err := p.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			p.log.WithError(err).Warn("pop task")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.Process(ctx, task)
	}
}

// Process runs one task and schedules a retry or reports it when it fails.
func (p *Pool) Process(ctx context.Context, task Task) {
	if task.Attempt <= 0 {
		task.Attempt = 1
	}
	entry := p.log.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"effect":    task.Kind,
		"entity":    task.Entity,
		"record_id": task.RecordID,
		"attempt":   task.Attempt,
	})

	handler, ok := p.handlers[task.Kind]
	if !ok {
		entry.Error("no handler for task kind, dropping")
		return
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Timeout)
	err := run(runCtx, handler, task)
	cancel()
	if err == nil {
		entry.Debug("task done")
		return
	}

	failure := &lifecycle.SideEffectFailure{
		Effect:   string(task.Kind),
		Entity:   task.Entity,
		RecordID: task.RecordID,
		Attempt:  task.Attempt,
		Err:      err,
	}
	if task.Attempt >= p.opts.MaxAttempts {
		entry.WithError(failure).Error("side effect failed, giving up")
		if p.opts.Reporter != nil {
			p.opts.Reporter.Report(failure)
		}
		return
	}

	delay := p.opts.Backoff(task.Attempt)
	entry.WithError(failure).WithField("retry_in", delay.String()).Warn("side effect failed, retrying")
	next := task
	next.Attempt++
	if err := p.queue.PushDelayed(context.WithoutCancel(ctx), next, delay); err != nil {
		entry.WithError(err).Error("schedule retry")
		if p.opts.Reporter != nil {
			p.opts.Reporter.Report(failure)
		}
	}
}

func run(ctx context.Context, handler Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler.Handle(ctx, task)
}
