// Package regen keeps the public site artifacts in step with the catalog.
// A regeneration syncs the changed record into the search index, rebuilds
// sitemap.xml from every publicly visible record and hands it to the
// configured publishers.
package regen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"marketplace/api/internal/lifecycle"
	"marketplace/api/internal/search"
	"marketplace/api/internal/store"
)

const SitemapFile = "sitemap.xml"

type EntrySource interface {
	PublicEntries(ctx context.Context, cfg lifecycle.EntityConfig) ([]store.PublicEntry, error)
}

type RunRecorder interface {
	StartRegenerationRun(ctx context.Context, trigger, entity string, recordID int64) (int64, error)
	FinishRegenerationRun(ctx context.Context, id int64, sitemapURLs int, commitHash, errText string) error
}

type ListingIndex interface {
	Upsert(ctx context.Context, listing search.Listing) error
	Remove(ctx context.Context, id string) error
}

type Options struct {
	SiteURL    string
	Publishers []Publisher
	Index      ListingIndex
	Runs       RunRecorder
	Logger     logrus.FieldLogger
}

// Result describes one rebuild. Skipped is set when a rebuild that started
// after the request already covered it.
type Result struct {
	URLs    int
	Ref     string
	Skipped bool
}

type Regenerator struct {
	registry *lifecycle.Registry
	entries  EntrySource
	opts     Options
	log      logrus.FieldLogger

	mu        sync.Mutex
	requested atomic.Uint64
	built     uint64
}

var _ lifecycle.Regenerator = (*Regenerator)(nil)

func New(registry *lifecycle.Registry, entries EntrySource, opts Options) *Regenerator {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Regenerator{
		registry: registry,
		entries:  entries,
		opts:     opts,
		log:      opts.Logger.WithField("component", "regen"),
	}
}

// Regenerate handles one committed change: the record's index entry is
// updated, then the site artifacts are rebuilt.
func (r *Regenerator) Regenerate(ctx context.Context, req lifecycle.RegenerationRequest) error {
	indexErr := r.syncIndex(ctx, req)
	_, buildErr := r.Rebuild(ctx, string(req.Action), req.Entity, req.RecordID)
	return errors.Join(indexErr, buildErr)
}

func (r *Regenerator) syncIndex(ctx context.Context, req lifecycle.RegenerationRequest) error {
	if r.opts.Index == nil {
		return nil
	}
	cfg, ok := r.registry.Lookup(req.Entity)
	if !ok {
		return fmt.Errorf("regenerate: unknown entity %q", req.Entity)
	}
	if req.Visible && req.Record != nil {
		if err := r.opts.Index.Upsert(ctx, search.ListingFromRecord(cfg, *req.Record, r.opts.SiteURL)); err != nil {
			return fmt.Errorf("index %s %d: %w", req.Entity, req.RecordID, err)
		}
		return nil
	}
	if err := r.opts.Index.Remove(ctx, search.ListingID(req.Entity, req.RecordID)); err != nil {
		return fmt.Errorf("unindex %s %d: %w", req.Entity, req.RecordID, err)
	}
	return nil
}

// Rebuild regenerates and publishes the sitemap. Concurrent requests are
// coalesced: a caller waiting on the lock returns early when a rebuild that
// began after its request has finished.
func (r *Regenerator) Rebuild(ctx context.Context, trigger string, entity lifecycle.EntityType, recordID int64) (Result, error) {
	ticket := r.requested.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built >= ticket {
		return Result{Skipped: true}, nil
	}
	covers := r.requested.Load()

	log := r.log.WithFields(logrus.Fields{"trigger": trigger, "entity": entity, "record_id": recordID})
	started := time.Now()

	runID, err := r.startRun(ctx, trigger, entity, recordID)
	if err != nil {
		log.WithError(err).Warn("could not record regeneration run")
	}

	result, buildErr := r.build(ctx, trigger)
	if buildErr == nil {
		r.built = covers
	}
	r.finishRun(ctx, runID, result, buildErr, log)

	if buildErr != nil {
		return result, buildErr
	}
	log.WithFields(logrus.Fields{
		"urls":        result.URLs,
		"ref":         result.Ref,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("site regenerated")
	return result, nil
}

func (r *Regenerator) build(ctx context.Context, trigger string) (Result, error) {
	urls, err := r.collectURLs(ctx)
	if err != nil {
		return Result{}, err
	}
	sitemap, err := BuildSitemap(urls)
	if err != nil {
		return Result{}, err
	}
	result := Result{URLs: len(urls)}

	artifacts := []Artifact{{Name: SitemapFile, Data: sitemap, ContentType: "application/xml"}}
	message := fmt.Sprintf("Regenerate sitemap (%s, %d urls)", trigger, len(urls))
	var errs []error
	for _, p := range r.opts.Publishers {
		ref, err := p.Publish(ctx, artifacts, message)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish via %s: %w", p.Name(), err))
			continue
		}
		if result.Ref == "" {
			result.Ref = ref
		}
	}
	return result, errors.Join(errs...)
}

// collectURLs lists the site root, each entity index page and every
// publicly visible record.
func (r *Regenerator) collectURLs(ctx context.Context) ([]URL, error) {
	base := strings.TrimRight(r.opts.SiteURL, "/")
	urls := []URL{{Loc: base + "/", ChangeFreq: "daily", Priority: 1.0}}
	for _, cfg := range r.registry.Configs() {
		if cfg.PublicPath == "" {
			continue
		}
		entries, err := r.entries.PublicEntries(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load %s entries: %w", cfg.Type, err)
		}
		index := URL{Loc: base + cfg.PublicPath, ChangeFreq: "daily", Priority: 0.8}
		for _, entry := range entries {
			if entry.UpdatedAt.After(index.LastMod) {
				index.LastMod = entry.UpdatedAt
			}
		}
		urls = append(urls, index)
		for _, entry := range entries {
			urls = append(urls, URL{
				Loc:        search.PublicURL(base, cfg, entry.ID),
				LastMod:    entry.UpdatedAt,
				ChangeFreq: "weekly",
				Priority:   0.6,
			})
		}
	}
	return urls, nil
}

func (r *Regenerator) startRun(ctx context.Context, trigger string, entity lifecycle.EntityType, recordID int64) (int64, error) {
	if r.opts.Runs == nil {
		return 0, nil
	}
	return r.opts.Runs.StartRegenerationRun(ctx, trigger, string(entity), recordID)
}

func (r *Regenerator) finishRun(ctx context.Context, runID int64, result Result, buildErr error, log logrus.FieldLogger) {
	if r.opts.Runs == nil || runID == 0 {
		return
	}
	errText := ""
	if buildErr != nil {
		errText = buildErr.Error()
	}
	if err := r.opts.Runs.FinishRegenerationRun(ctx, runID, result.URLs, result.Ref, errText); err != nil {
		log.WithError(err).Warn("could not finish regeneration run")
	}
}
