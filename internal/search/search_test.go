package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/api/internal/lifecycle"
)

type fakeSearcher struct {
	healthy bool
	results []Result
	err     error
	calls   int
}

func (f *fakeSearcher) Search(_ context.Context, _ Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), f.err
}

func (f *fakeSearcher) Healthy() bool { return f.healthy }

type fakeIndexer struct {
	indexed []Listing
	deleted []string
}

func (f *fakeIndexer) IndexListings(_ context.Context, listings []Listing) error {
	f.indexed = append(f.indexed, listings...)
	return nil
}

func (f *fakeIndexer) DeleteListing(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeLoader []Listing

func (f fakeLoader) LoadListings(context.Context) ([]Listing, error) { return f, nil }

func agencyConfig(t *testing.T) lifecycle.EntityConfig {
	t.Helper()
	cfg, ok := lifecycle.DefaultRegistry().Lookup(lifecycle.EntityAgency)
	require.True(t, ok)
	return cfg
}

func TestListingFromRecord(t *testing.T) {
	cfg := agencyConfig(t)
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	listing := ListingFromRecord(cfg, lifecycle.Record{
		ID: 12,
		Attributes: map[string]any{
			"agency_name":    "Blue Fox Media",
			"agency_website": "https://bluefox.example",
			"description":    "Boutique PR agency",
			"city":           "Lisbon",
		},
		UpdatedAt: updated,
	}, "https://example.com/")

	assert.Equal(t, "agency-12", listing.ID)
	assert.Equal(t, "agency", listing.Entity)
	assert.Equal(t, "Blue Fox Media", listing.Title)
	assert.Equal(t, "Lisbon · Boutique PR agency", listing.Summary)
	assert.Equal(t, "https://example.com/agencies/12", listing.URL)
	assert.Equal(t, updated.Unix(), listing.UpdatedAt)
}

func TestListingFallsBackToEntityTitle(t *testing.T) {
	listing := ListingFromRecord(agencyConfig(t), lifecycle.Record{ID: 3}, "")
	assert.Equal(t, "agency #3", listing.Title)
	assert.Equal(t, "/agencies/3", listing.URL)
}

func TestSummarizeTruncates(t *testing.T) {
	summary := summarize(map[string]any{"bio": strings.Repeat("a", 400)}, "")
	assert.True(t, strings.HasSuffix(summary, "…"))
	assert.Equal(t, maxSummary+1, len([]rune(summary)))
}

func TestNormalizeQuery(t *testing.T) {
	q := normalizeQuery(Query{Text: "  fox ", Limit: 500, Offset: -3})
	assert.Equal(t, Query{Text: "fox", Limit: 20, Offset: 0}, q)
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	hit := meili.Hit{
		"entity":     json.RawMessage(`"agency"`),
		"recordId":   json.RawMessage(`12`),
		"title":      json.RawMessage(`"Blue Fox Media"`),
		"summary":    json.RawMessage(`"Lisbon"`),
		"url":        json.RawMessage(`"https://example.com/agencies/12"`),
		"_formatted": json.RawMessage(`{"title":"Blue <mark>Fox</mark> Media","recordId":"12"}`),
	}
	r := hitToResult(hit)
	assert.Equal(t, Result{
		Entity:   lifecycle.EntityAgency,
		RecordID: 12,
		Title:    "Blue <mark>Fox</mark> Media",
		Snippet:  "Lisbon",
		URL:      "https://example.com/agencies/12",
	}, r)
	assert.Equal(t, `entity = "agency"`, entityFilter(lifecycle.EntityAgency))
}

func TestServiceFallsBackWhenPrimaryFails(t *testing.T) {
	log, hook := test.NewNullLogger()
	primary := &fakeSearcher{healthy: true, err: errors.New("timeout")}
	fallback := &fakeSearcher{healthy: true, results: []Result{{Entity: lifecycle.EntityAgency, RecordID: 1}}}
	svc := &Service{primary: primary, fallback: fallback, log: log}

	resp := svc.Search(context.Background(), Query{Text: "fox"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "fox", resp.Query)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	require.NotNil(t, hook.LastEntry())
}

func TestServiceSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeSearcher{healthy: false}
	fallback := &fakeSearcher{healthy: true}
	svc := NewService(nil, nil, nil)
	svc.primary, svc.fallback = primary, fallback

	resp := svc.Search(context.Background(), Query{Text: "fox"})
	assert.Equal(t, 0, primary.calls)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestServiceWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil, nil)
	resp := svc.Search(context.Background(), Query{Text: "fox"})
	assert.NotNil(t, resp.Results)
	assert.False(t, svc.Enabled())
	require.NoError(t, svc.Upsert(context.Background(), Listing{ID: "agency-1"}))
	n, err := svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServiceIndexing(t *testing.T) {
	indexer := &fakeIndexer{}
	svc := NewService(nil, nil, nil)
	svc.primary, svc.indexer = &fakeSearcher{healthy: true}, indexer
	svc.loader = fakeLoader{{ID: "agency-1"}, {ID: "theme-2"}}
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, Listing{ID: "agency-9"}))
	require.NoError(t, svc.Remove(ctx, "agency-4"))
	n, err := svc.ReindexAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Len(t, indexer.indexed, 3)
	assert.Equal(t, []string{"agency-4"}, indexer.deleted)
}

func TestPgFTSUnionQueryUsesLiveWords(t *testing.T) {
	p := NewPgFTS(nil, lifecycle.DefaultRegistry(), "")

	sql, args, err := p.unionQuery(normalizeQuery(Query{Text: "launch", Entity: lifecycle.EntityPressRelease}))
	require.NoError(t, err)
	assert.Contains(t, sql, `FROM "press_releases" t`)
	assert.Contains(t, sql, "$2::text AS entity")
	assert.Contains(t, sql, "t.status = $3")
	assert.NotContains(t, sql, "UNION ALL")
	assert.Equal(t, []any{"launch", "press_release", "active"}, args)

	sql, args, err = p.unionQuery(normalizeQuery(Query{Text: "launch"}))
	require.NoError(t, err)
	assert.Equal(t, len(lifecycle.DefaultEntities())-1, strings.Count(sql, "UNION ALL"))
	assert.Len(t, args, 1+2*len(lifecycle.DefaultEntities()))
}

func TestPgFTSBlankQueryDoesNotTouchDatabase(t *testing.T) {
	p := NewPgFTS(nil, lifecycle.DefaultRegistry(), "")
	results, total, err := p.Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, total)
}
