// Package search serves the public catalog: live, active listings of every
// entity, indexed in Meilisearch with a PostgreSQL fallback.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"marketplace/api/internal/lifecycle"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Entity   lifecycle.EntityType `json:"entity"`
	RecordID int64                `json:"recordId"`
	Title    string               `json:"title"`
	Snippet  string               `json:"snippet"`
	URL      string               `json:"url,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Entity lifecycle.EntityType // empty = all entities
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a catalog search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push listings into a search index.
type Indexer interface {
	IndexListings(ctx context.Context, listings []Listing) error
	DeleteListing(ctx context.Context, id string) error
}

// Listing is the data we index for a publicly visible record.
type Listing struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	RecordID  int64  `json:"recordId"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	URL       string `json:"url"`
	UpdatedAt int64  `json:"updatedAt"`
}

const maxSummary = 280

// ListingID is the index key of a record; ids repeat across entities.
func ListingID(entity lifecycle.EntityType, id int64) string {
	return fmt.Sprintf("%s-%d", entity, id)
}

// ListingFromRecord builds the indexed form of record. siteURL may be empty.
func ListingFromRecord(cfg lifecycle.EntityConfig, record lifecycle.Record, siteURL string) Listing {
	title := record.Title(cfg.TitleField)
	if title == "" {
		title = fmt.Sprintf("%s #%d", cfg.Type, record.ID)
	}
	return Listing{
		ID:        ListingID(cfg.Type, record.ID),
		Entity:    string(cfg.Type),
		RecordID:  record.ID,
		Title:     title,
		Summary:   summarize(record.Attributes, cfg.TitleField),
		URL:       PublicURL(siteURL, cfg, record.ID),
		UpdatedAt: record.UpdatedAt.Unix(),
	}
}

// PublicURL returns the public page of a record, or "" when the entity has
// no public page.
func PublicURL(siteURL string, cfg lifecycle.EntityConfig, id int64) string {
	if cfg.PublicPath == "" {
		return ""
	}
	return fmt.Sprintf("%s%s/%d", strings.TrimRight(siteURL, "/"), cfg.PublicPath, id)
}

// summarize joins the text attributes other than the title in key order.
func summarize(attributes map[string]any, titleField string) string {
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		if key != titleField {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value, ok := attributes[key].(string)
		value = strings.TrimSpace(value)
		if !ok || value == "" || strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
			continue
		}
		parts = append(parts, value)
	}
	summary := strings.Join(parts, " · ")
	if runes := []rune(summary); len(runes) > maxSummary {
		summary = strings.TrimSpace(string(runes[:maxSummary])) + "…"
	}
	return summary
}

func normalizeQuery(q Query) Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
