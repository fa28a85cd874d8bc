// Package lifecycletest provides an in-memory lifecycle.Repository for tests.
package lifecycletest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace/api/internal/lifecycle"
)

// Repository keeps records per entity in memory and honours guards the same
// way the SQL store does.
type Repository struct {
	mu      sync.Mutex
	nextID  int64
	records map[lifecycle.EntityType]map[int64]lifecycle.Record
	writes  int
	// Err, when set, is returned by every call.
	Err error
}

func NewRepository() *Repository {
	return &Repository{records: make(map[lifecycle.EntityType]map[int64]lifecycle.Record)}
}

// Writes counts successful mutating statements.
func (r *Repository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Put stores record as-is, assigning an id when it has none.
func (r *Repository) Put(record lifecycle.Record) lifecycle.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == 0 {
		r.nextID++
		record.ID = r.nextID
	} else if record.ID > r.nextID {
		r.nextID = record.ID
	}
	r.table(record.Entity)[record.ID] = clone(record)
	return clone(record)
}

func (r *Repository) Insert(_ context.Context, cfg lifecycle.EntityConfig, record lifecycle.Record) (lifecycle.Record, error) {
	if r.Err != nil {
		return lifecycle.Record{}, r.Err
	}
	if err := checkStatus(cfg, record.Status); err != nil {
		return lifecycle.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	record.ID = r.nextID
	record.Entity = cfg.Type
	if record.StatusHistory == nil {
		record.StatusHistory = []lifecycle.HistoryEntry{}
	}
	r.table(cfg.Type)[record.ID] = clone(record)
	r.writes++
	return clone(record), nil
}

func (r *Repository) Get(_ context.Context, cfg lifecycle.EntityConfig, id int64) (lifecycle.Record, error) {
	if r.Err != nil {
		return lifecycle.Record{}, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.table(cfg.Type)[id]
	if !ok {
		return lifecycle.Record{}, lifecycle.ErrNoRecord
	}
	return clone(record), nil
}

func (r *Repository) UpdateAttributes(_ context.Context, cfg lifecycle.EntityConfig, id int64, guard lifecycle.Guard, changes map[string]any) (lifecycle.Record, bool, error) {
	return r.mutate(cfg, id, guard, func(record *lifecycle.Record) {
		if record.Attributes == nil {
			record.Attributes = map[string]any{}
		}
		for k, v := range changes {
			record.Attributes[k] = v
		}
	})
}

func (r *Repository) ApplyTransition(_ context.Context, cfg lifecycle.EntityConfig, id int64, guard lifecycle.Guard, change lifecycle.StatusChange) (lifecycle.Record, bool, error) {
	if err := checkStatus(cfg, change.To); err != nil {
		return lifecycle.Record{}, false, err
	}
	return r.mutate(cfg, id, guard, func(record *lifecycle.Record) {
		record.Status = change.To
		at := change.At
		by := change.By
		switch change.To {
		case lifecycle.StatusLive:
			record.ApprovedAt, record.ApprovedBy = &at, &by
			record.RejectedAt, record.RejectedBy, record.RejectionReason = nil, nil, nil
		case lifecycle.StatusRejected:
			record.RejectedAt, record.RejectedBy = &at, &by
			record.RejectionReason = change.RejectionReason
			record.ApprovedAt, record.ApprovedBy = nil, nil
		}
		if change.AdminComments != nil {
			record.AdminComments = change.AdminComments
		}
		if change.History != nil {
			record.StatusHistory = append(record.StatusHistory, *change.History)
		}
	})
}

func (r *Repository) SetActive(_ context.Context, cfg lifecycle.EntityConfig, id int64, guard lifecycle.Guard, active bool) (lifecycle.Record, bool, error) {
	return r.mutate(cfg, id, guard, func(record *lifecycle.Record) {
		record.IsActive = active
	})
}

func (r *Repository) Delete(_ context.Context, cfg lifecycle.EntityConfig, id int64) (bool, error) {
	if r.Err != nil {
		return false, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.table(cfg.Type)
	if _, ok := table[id]; !ok {
		return false, nil
	}
	delete(table, id)
	r.writes++
	return true, nil
}

func (r *Repository) List(_ context.Context, cfg lifecycle.EntityConfig, filter lifecycle.ListFilter) ([]lifecycle.Record, int, error) {
	if r.Err != nil {
		return nil, 0, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]lifecycle.Record, 0)
	for _, record := range r.table(cfg.Type) {
		if !matches(record, filter) {
			continue
		}
		matched = append(matched, clone(record))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []lifecycle.Record{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r *Repository) mutate(cfg lifecycle.EntityConfig, id int64, guard lifecycle.Guard, apply func(*lifecycle.Record)) (lifecycle.Record, bool, error) {
	if r.Err != nil {
		return lifecycle.Record{}, false, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.table(cfg.Type)
	record, ok := table[id]
	if !ok || !guardHolds(record, guard) {
		return lifecycle.Record{}, false, nil
	}
	apply(&record)
	record.UpdatedAt = time.Now().UTC()
	table[id] = clone(record)
	r.writes++
	return clone(record), true, nil
}

func (r *Repository) table(entity lifecycle.EntityType) map[int64]lifecycle.Record {
	table, ok := r.records[entity]
	if !ok {
		table = make(map[int64]lifecycle.Record)
		r.records[entity] = table
	}
	return table
}

// checkStatus fails like the SQL store does when a status has no stored word.
func checkStatus(cfg lifecycle.EntityConfig, status lifecycle.Status) error {
	if !cfg.Vocabulary.Supports(status) {
		return fmt.Errorf("%s has no %q status", cfg.Type, status)
	}
	return nil
}

func guardHolds(record lifecycle.Record, guard lifecycle.Guard) bool {
	if guard.Status != "" && record.Status != guard.Status {
		return false
	}
	if guard.OwnerUserID != nil && !record.OwnedByUser(*guard.OwnerUserID) {
		return false
	}
	if guard.RequireActive && !record.IsActive {
		return false
	}
	return true
}

func matches(record lifecycle.Record, filter lifecycle.ListFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			if record.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Active != nil && record.IsActive != *filter.Active {
		return false
	}
	if filter.OwnerUserID != nil && !record.OwnedByUser(*filter.OwnerUserID) {
		return false
	}
	return true
}

// clone deep-copies through JSON so callers never share maps or slices with
// the stored copy.
func clone(record lifecycle.Record) lifecycle.Record {
	raw, err := json.Marshal(record)
	if err != nil {
		panic(err)
	}
	var out lifecycle.Record
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}
