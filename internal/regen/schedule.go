package regen

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reindexer rebuilds the whole search index.
type Reindexer interface {
	ReindexAll(ctx context.Context) (int, error)
}

// Schedule runs a full rebuild on a cron spec. Overlapping runs are
// skipped.
type Schedule struct {
	cron    *cron.Cron
	log     logrus.FieldLogger
	timeout time.Duration
}

// NewSchedule registers the full rebuild. index may be nil.
func NewSchedule(spec string, timeout time.Duration, r *Regenerator, index Reindexer, log logrus.FieldLogger) (*Schedule, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "regen")
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log)), cron.SkipIfStillRunning(cron.PrintfLogger(log))))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if index != nil {
			if n, err := index.ReindexAll(ctx); err != nil {
				log.WithError(err).Error("scheduled reindex failed")
			} else if n > 0 {
				log.WithField("listings", n).Debug("scheduled reindex done")
			}
		}
		if _, err := r.Rebuild(ctx, "schedule", "", 0); err != nil {
			log.WithError(err).Error("scheduled regeneration failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return &Schedule{cron: c, log: log, timeout: timeout}, nil
}

// Every adds a maintenance job that shares the schedule's recovery and
// overlap rules.
func (s *Schedule) Every(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.WithError(err).WithField("job", name).Error("scheduled job failed")
		}
	})
	return err
}

func (s *Schedule) Start() {
	s.cron.Start()
	s.log.WithField("entries", len(s.cron.Entries())).Info("regeneration schedule started")
}

// Stop waits for a running rebuild to finish or ctx to end.
func (s *Schedule) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
