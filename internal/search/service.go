package search

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Service is the facade that tries the primary index first and falls back
// to Postgres.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	loader   listingLoader
	log      logrus.FieldLogger
}

type listingLoader interface {
	LoadListings(ctx context.Context) ([]Listing, error)
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{log: log.WithField("component", "search")}
	if meili != nil {
		s.primary, s.indexer = meili, meili
	}
	if pgfts != nil {
		s.fallback, s.loader = pgfts, pgfts
	}
	return s
}

// Search tries the primary index if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalizeQuery(q)
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.WithError(err).Warn("primary index failed, falling back to postgres")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("postgres search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Enabled reports whether an index is available to write to.
func (s *Service) Enabled() bool {
	return s.indexer != nil && s.primary != nil && s.primary.Healthy()
}

// Upsert indexes a visible listing. It is a no-op without an index.
func (s *Service) Upsert(ctx context.Context, listing Listing) error {
	if !s.Enabled() {
		return nil
	}
	return s.indexer.IndexListings(ctx, []Listing{listing})
}

// Remove drops a listing that is no longer publicly visible.
func (s *Service) Remove(ctx context.Context, id string) error {
	if !s.Enabled() {
		return nil
	}
	return s.indexer.DeleteListing(ctx, id)
}

// ReindexAll pushes every visible listing from Postgres into the index and
// returns how many were sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.Enabled() || s.loader == nil {
		return 0, nil
	}
	listings, err := s.loader.LoadListings(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.indexer.IndexListings(ctx, listings); err != nil {
		return 0, err
	}
	s.log.WithField("listings", len(listings)).Info("reindexed catalog")
	return len(listings), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
