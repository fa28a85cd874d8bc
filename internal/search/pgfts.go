package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"marketplace/api/internal/lifecycle"
)

// PgFTS implements Searcher with PostgreSQL full-text search over the
// string attributes of live, active records.
type PgFTS struct {
	db       *sql.DB
	registry *lifecycle.Registry
	siteURL  string
}

var _ Searcher = (*PgFTS)(nil)

func NewPgFTS(db *sql.DB, registry *lifecycle.Registry, siteURL string) *PgFTS {
	return &PgFTS{db: db, registry: registry, siteURL: siteURL}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = normalizeQuery(q)
	if q.Text == "" {
		return nil, 0, nil
	}
	union, args, err := p.unionQuery(q)
	if err != nil {
		return nil, 0, err
	}
	if union == "" {
		return nil, 0, nil
	}

	var total int
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT entity, id, attributes
		FROM (%s) sub
		ORDER BY rank DESC, id DESC
		LIMIT %d OFFSET %d`, union, q.Limit, q.Offset)
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var (
			entity string
			id     int64
			raw    []byte
		)
		if err := rows.Scan(&entity, &id, &raw); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		cfg, ok := p.registry.Lookup(lifecycle.EntityType(entity))
		if !ok {
			continue
		}
		listing, err := p.listing(cfg, id, raw, time.Time{})
		if err != nil {
			return nil, 0, err
		}
		results = append(results, Result{
			Entity:   cfg.Type,
			RecordID: id,
			Title:    listing.Title,
			Snippet:  listing.Summary,
			URL:      listing.URL,
		})
	}
	return results, total, rows.Err()
}

// unionQuery builds one ranked sub-query per searchable entity. $1 is the
// search text.
func (p *PgFTS) unionQuery(q Query) (string, []any, error) {
	args := []any{q.Text}
	subQueries := make([]string, 0)
	for _, cfg := range p.registry.Configs() {
		if q.Entity != "" && q.Entity != cfg.Type {
			continue
		}
		live, ok := cfg.Vocabulary.Word(lifecycle.StatusLive)
		if !ok {
			return "", nil, fmt.Errorf("entity %s has no live status", cfg.Type)
		}
		args = append(args, string(cfg.Type), live)
		entityArg, statusArg := len(args)-1, len(args)
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT $%d::text AS entity, t.id, t.attributes, ts_rank(doc, query) AS rank
			FROM %s t,
				plainto_tsquery('simple', $1) query,
				jsonb_to_tsvector('simple', t.attributes, '["string"]') doc
			WHERE t.status = $%d AND t.is_active AND doc @@ query`,
			entityArg, pgx.Identifier{cfg.Table}.Sanitize(), statusArg))
	}
	return strings.Join(subQueries, " UNION ALL "), args, nil
}

// LoadListings returns every publicly visible record for a full reindex.
func (p *PgFTS) LoadListings(ctx context.Context) ([]Listing, error) {
	listings := make([]Listing, 0)
	for _, cfg := range p.registry.Configs() {
		live, ok := cfg.Vocabulary.Word(lifecycle.StatusLive)
		if !ok {
			continue
		}
		query := fmt.Sprintf(`SELECT id, attributes, updated_at FROM %s WHERE status = $1 AND is_active`,
			pgx.Identifier{cfg.Table}.Sanitize())
		if err := p.loadEntity(ctx, cfg, query, live, &listings); err != nil {
			return nil, err
		}
	}
	return listings, nil
}

func (p *PgFTS) loadEntity(ctx context.Context, cfg lifecycle.EntityConfig, query, live string, out *[]Listing) error {
	rows, err := p.db.QueryContext(ctx, query, live)
	if err != nil {
		return fmt.Errorf("load %s listings: %w", cfg.Type, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        int64
			raw       []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &raw, &updatedAt); err != nil {
			return fmt.Errorf("scan %s listing: %w", cfg.Type, err)
		}
		listing, err := p.listing(cfg, id, raw, updatedAt)
		if err != nil {
			return err
		}
		*out = append(*out, listing)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s listings: %w", cfg.Type, err)
	}
	return nil
}

func (p *PgFTS) listing(cfg lifecycle.EntityConfig, id int64, raw []byte, updatedAt time.Time) (Listing, error) {
	attributes := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &attributes); err != nil {
			return Listing{}, fmt.Errorf("decode %s %d attributes: %w", cfg.Type, id, err)
		}
	}
	record := lifecycle.Record{ID: id, Entity: cfg.Type, Attributes: attributes, UpdatedAt: updatedAt}
	return ListingFromRecord(cfg, record, p.siteURL), nil
}
