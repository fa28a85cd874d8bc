package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"marketplace/api/internal/rbac"
)

const (
	defaultEffectTimeout = 30 * time.Second
	defaultPageSize      = 20
	maxPageSize          = 100
)

type Options struct {
	Notifier    Notifier
	Regenerator Regenerator
	// EffectTimeout bounds each detached notification or regeneration call.
	EffectTimeout   time.Duration
	BulkConcurrency int
	Logger          logrus.FieldLogger
	Clock           func() time.Time
}

// Engine applies lifecycle transitions. Every write is a single conditional
// statement; side effects run detached after the write has committed.
type Engine struct {
	registry        *Registry
	policy          *Policy
	repo            Repository
	fields          *fieldValidator
	notifier        Notifier
	regenerator     Regenerator
	effectTimeout   time.Duration
	bulkConcurrency int
	log             logrus.FieldLogger
	now             func() time.Time
	inflight        sync.WaitGroup
}

func NewEngine(registry *Registry, repo Repository, opts Options) *Engine {
	e := &Engine{
		registry:        registry,
		policy:          NewPolicy(registry),
		repo:            repo,
		fields:          newFieldValidator(),
		notifier:        opts.Notifier,
		regenerator:     opts.Regenerator,
		effectTimeout:   opts.EffectTimeout,
		bulkConcurrency: opts.BulkConcurrency,
		log:             opts.Logger,
		now:             opts.Clock,
	}
	if e.effectTimeout <= 0 {
		e.effectTimeout = defaultEffectTimeout
	}
	if e.bulkConcurrency <= 0 {
		e.bulkConcurrency = 4
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.log = e.log.WithField("component", "lifecycle")
	return e
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) Policy() *Policy {
	return e.policy
}

// Wait blocks until detached side effects started so far have returned.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// TransitionInput carries the optional free text of a status change.
type TransitionInput struct {
	Reason   string
	Comments string
}

func (e *Engine) Create(ctx context.Context, entity EntityType, payload Payload, actor Actor) (Record, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Record{}, err
	}
	if err := e.policy.Authorize(actor, Record{Entity: entity}, ActionCreate); err != nil {
		return Record{}, err
	}
	payload, err = claimOwner(entity, actor, payload)
	if err != nil {
		return Record{}, err
	}
	attrs, err := e.fields.normalize(cfg, payload, false)
	if err != nil {
		return Record{}, err
	}

	now := e.now().UTC()
	record := Record{
		Entity:     entity,
		IsActive:   true,
		Attributes: attrs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if actor.IsAdmin() {
		record.OwnerAdminID = int64Ptr(actor.ID)
		record.Status = cfg.AdminDefault
		if record.Status == StatusLive && !actor.Has(cfg.ApprovePermission) {
			if !cfg.Vocabulary.Supports(StatusPending) {
				return Record{}, &AccessDeniedError{Entity: entity, Action: ActionCreate}
			}
			record.Status = StatusPending
		}
	} else {
		record.OwnerUserID = int64Ptr(actor.ID)
		record.Status = StatusPending
	}
	if record.Status == StatusLive {
		record.ApprovedAt = timePtr(now)
		record.ApprovedBy = int64Ptr(actor.ID)
	}
	if cfg.TrackHistory {
		record.StatusHistory = []HistoryEntry{{Status: record.Status, ChangedAt: now, ChangedBy: int64Ptr(actor.ID)}}
	}

	created, err := e.repo.Insert(ctx, cfg, record)
	if err != nil {
		return Record{}, &StorageError{Op: "insert " + string(entity), Err: err}
	}
	if created.PubliclyVisible() {
		e.regenerate(ctx, created, ActionCreate, true)
	}
	return created, nil
}

func (e *Engine) Get(ctx context.Context, entity EntityType, id int64, actor Actor) (Record, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Record{}, err
	}
	record, err := e.load(ctx, cfg, id)
	if err != nil {
		return Record{}, err
	}
	if err := e.policy.Authorize(actor, record, ActionRead); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Update applies a partial payload. Only present fields are validated and only
// changed attributes are written; an update that changes nothing returns the
// stored record without touching updated_at.
func (e *Engine) Update(ctx context.Context, entity EntityType, id int64, payload Payload, actor Actor) (Record, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Record{}, err
	}
	record, err := e.load(ctx, cfg, id)
	if err != nil {
		return Record{}, err
	}
	if err := e.policy.Authorize(actor, record, ActionUpdate); err != nil {
		return Record{}, err
	}
	if !record.IsActive {
		return Record{}, invalid(record, ActionUpdate, "record has been deleted")
	}
	payload, err = claimOwner(entity, actor, payload)
	if err != nil {
		return Record{}, err
	}
	attrs, err := e.fields.normalize(cfg, payload, true)
	if err != nil {
		return Record{}, err
	}
	changes := changedAttributes(record.Attributes, attrs)
	if len(changes) == 0 {
		return record, nil
	}

	updated, ok, err := e.repo.UpdateAttributes(ctx, cfg, id, mutationGuard(actor), changes)
	if err != nil {
		return Record{}, &StorageError{Op: "update " + string(entity), Err: err}
	}
	if !ok {
		return Record{}, e.resolveMiss(ctx, cfg, id, ActionUpdate)
	}
	if record.PubliclyVisible() || updated.PubliclyVisible() {
		e.regenerate(ctx, updated, ActionUpdate, updated.PubliclyVisible())
	}
	return updated, nil
}

func (e *Engine) Approve(ctx context.Context, entity EntityType, id int64, actor Actor, in TransitionInput) (Record, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Record{}, err
	}
	record, err := e.load(ctx, cfg, id)
	if err != nil {
		return Record{}, err
	}
	if err := e.policy.Authorize(actor, record, ActionApprove); err != nil {
		return Record{}, err
	}
	if !record.IsActive {
		return Record{}, invalid(record, ActionApprove, "record has been deleted")
	}
	if record.Status == StatusLive {
		return Record{}, invalid(record, ActionApprove, "record is already live")
	}

	now := e.now().UTC()
	updated, err := e.apply(ctx, cfg, record, ActionApprove, StatusChange{
		To:            StatusLive,
		At:            now,
		By:            actor.ID,
		AdminComments: optional(in.Comments),
		History:       history(cfg, StatusLive, now, actor, nil),
	})
	if err != nil {
		return Record{}, err
	}
	e.notify(ctx, updated, EventApproved)
	e.regenerate(ctx, updated, ActionApprove, updated.PubliclyVisible())
	return updated, nil
}

func (e *Engine) Reject(ctx context.Context, entity EntityType, id int64, actor Actor, in TransitionInput) (Record, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Record{}, err
	}
	record, err := e.load(ctx, cfg, id)
	if err != nil {
		return Record{}, err
	}
	if !cfg.Vocabulary.Supports(StatusRejected) {
		return Record{}, invalid(record, ActionReject, string(entity)+" records cannot be rejected")
	}
	if err := e.policy.Authorize(actor, record, ActionReject); err != nil {
		return Record{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return Record{}, invalid(record, ActionReject, "a rejection reason is required")
	}
	if !record.IsActive {
		return Record{}, invalid(record, ActionReject, "record has been deleted")
	}
	if record.Status == StatusRejected {
		return Record{}, invalid(record, ActionReject, "record is already rejected")
	}

	now := e.now().UTC()
	updated, err := e.apply(ctx, cfg, record, ActionReject, StatusChange{
		To:              StatusRejected,
		At:              now,
		By:              actor.ID,
		RejectionReason: stringPtr(reason),
		AdminComments:   optional(in.Comments),
		History:         history(cfg, StatusRejected, now, actor, stringPtr(reason)),
	})
	if err != nil {
		return Record{}, err
	}
	e.notify(ctx, updated, EventRejected)
	if record.PubliclyVisible() {
		e.regenerate(ctx, updated, ActionReject, false)
	}
	return updated, nil
}

// Disable takes a record offline without rejecting it. Only entities whose
// vocabulary has a disabled word support it.
func (e *Engine) Disable(ctx context.Context, entity EntityType, id int64, actor Actor, in TransitionInput) (Record, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Record{}, err
	}
	record, err := e.load(ctx, cfg, id)
	if err != nil {
		return Record{}, err
	}
	if !cfg.Vocabulary.Supports(StatusDisabled) {
		return Record{}, invalid(record, ActionDisable, string(entity)+" records cannot be disabled")
	}
	if err := e.policy.Authorize(actor, record, ActionDisable); err != nil {
		return Record{}, err
	}
	if !record.IsActive {
		return Record{}, invalid(record, ActionDisable, "record has been deleted")
	}
	if record.Status == StatusDisabled {
		return Record{}, invalid(record, ActionDisable, "record is already disabled")
	}

	now := e.now().UTC()
	updated, err := e.apply(ctx, cfg, record, ActionDisable, StatusChange{
		To:            StatusDisabled,
		At:            now,
		By:            actor.ID,
		AdminComments: optional(in.Comments),
		History:       history(cfg, StatusDisabled, now, actor, nil),
	})
	if err != nil {
		return Record{}, err
	}
	if record.PubliclyVisible() {
		e.regenerate(ctx, updated, ActionDisable, false)
	}
	return updated, nil
}

// SoftDelete clears is_active. Status and history are left untouched.
func (e *Engine) SoftDelete(ctx context.Context, entity EntityType, id int64, actor Actor) (Record, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Record{}, err
	}
	record, err := e.load(ctx, cfg, id)
	if err != nil {
		return Record{}, err
	}
	if err := e.policy.Authorize(actor, record, ActionDelete); err != nil {
		return Record{}, err
	}
	if !record.IsActive {
		return Record{}, invalid(record, ActionDelete, "record is already deleted")
	}

	updated, ok, err := e.repo.SetActive(ctx, cfg, id, mutationGuard(actor), false)
	if err != nil {
		return Record{}, &StorageError{Op: "soft delete " + string(entity), Err: err}
	}
	if !ok {
		return Record{}, e.resolveMiss(ctx, cfg, id, ActionDelete)
	}
	if record.PubliclyVisible() {
		e.regenerate(ctx, updated, ActionDelete, false)
	}
	return updated, nil
}

// HardDelete removes the row. It returns the record as it was before removal.
func (e *Engine) HardDelete(ctx context.Context, entity EntityType, id int64, actor Actor) (Record, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Record{}, err
	}
	record, err := e.load(ctx, cfg, id)
	if err != nil {
		return Record{}, err
	}
	if !cfg.HardDelete {
		return Record{}, invalid(record, ActionHardDelete, string(entity)+" records can only be soft deleted")
	}
	if err := e.policy.Authorize(actor, record, ActionHardDelete); err != nil {
		return Record{}, err
	}

	ok, err := e.repo.Delete(ctx, cfg, id)
	if err != nil {
		return Record{}, &StorageError{Op: "delete " + string(entity), Err: err}
	}
	if !ok {
		return Record{}, &NotFoundError{Entity: entity, ID: id}
	}
	e.regenerate(ctx, record, ActionHardDelete, false)
	return record, nil
}

// Transition dispatches a named status action.
func (e *Engine) Transition(ctx context.Context, entity EntityType, id int64, action Action, actor Actor, in TransitionInput) (Record, error) {
	switch action {
	case ActionApprove:
		return e.Approve(ctx, entity, id, actor, in)
	case ActionReject:
		return e.Reject(ctx, entity, id, actor, in)
	case ActionDisable:
		return e.Disable(ctx, entity, id, actor, in)
	case ActionDelete:
		return e.SoftDelete(ctx, entity, id, actor)
	case ActionHardDelete:
		return e.HardDelete(ctx, entity, id, actor)
	default:
		verr := &ValidationError{}
		verr.add("action", "oneof", fmt.Sprintf("unsupported status action %q", action))
		return Record{}, verr
	}
}

type Scope string

const (
	ScopePublic Scope = "public"
	ScopeOwner  Scope = "owner"
	ScopeAdmin  Scope = "admin"
)

type ListQuery struct {
	Scope    Scope
	Statuses []Status
	Active   *bool
	Limit    int
	Offset   int
}

type Page struct {
	Items  []Record `json:"items"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// List returns one page of records visible in the requested scope.
func (e *Engine) List(ctx context.Context, entity EntityType, actor Actor, q ListQuery) (Page, error) {
	cfg, err := e.config(entity)
	if err != nil {
		return Page{}, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	filter := ListFilter{Limit: limit, Offset: offset}

	switch q.Scope {
	case ScopeAdmin:
		if !actor.IsAdmin() || !actor.Has(rbac.PermViewSubmissions) {
			return Page{}, &AccessDeniedError{Entity: entity, Action: ActionRead}
		}
		filter.Statuses = q.Statuses
		filter.Active = q.Active
	case ScopeOwner:
		if !actor.IsUser() {
			return Page{}, &AccessDeniedError{Entity: entity, Action: ActionRead}
		}
		filter.OwnerUserID = int64Ptr(actor.ID)
		filter.Statuses = q.Statuses
		active := true
		filter.Active = &active
	default:
		active := true
		filter.Statuses = []Status{StatusLive}
		filter.Active = &active
	}

	items, total, err := e.repo.List(ctx, cfg, filter)
	if err != nil {
		return Page{}, &StorageError{Op: "list " + string(entity), Err: err}
	}
	if items == nil {
		items = []Record{}
	}
	return Page{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (e *Engine) config(entity EntityType) (EntityConfig, error) {
	cfg, ok := e.registry.Lookup(entity)
	if !ok {
		return EntityConfig{}, &NotFoundError{Entity: entity}
	}
	return cfg, nil
}

func (e *Engine) load(ctx context.Context, cfg EntityConfig, id int64) (Record, error) {
	if id <= 0 {
		return Record{}, &NotFoundError{Entity: cfg.Type, ID: id}
	}
	record, err := e.repo.Get(ctx, cfg, id)
	if errors.Is(err, ErrNoRecord) {
		return Record{}, &NotFoundError{Entity: cfg.Type, ID: id}
	}
	if err != nil {
		return Record{}, &StorageError{Op: "get " + string(cfg.Type), Err: err}
	}
	return record, nil
}

func (e *Engine) apply(ctx context.Context, cfg EntityConfig, record Record, action Action, change StatusChange) (Record, error) {
	guard := Guard{Status: record.Status, RequireActive: true}
	updated, ok, err := e.repo.ApplyTransition(ctx, cfg, record.ID, guard, change)
	if err != nil {
		return Record{}, &StorageError{Op: string(action) + " " + string(cfg.Type), Err: err}
	}
	if !ok {
		return Record{}, e.resolveMiss(ctx, cfg, record.ID, action)
	}
	return updated, nil
}

// resolveMiss explains why a guarded write matched no row.
func (e *Engine) resolveMiss(ctx context.Context, cfg EntityConfig, id int64, action Action) error {
	current, err := e.load(ctx, cfg, id)
	if err != nil {
		return err
	}
	if !current.IsActive {
		return invalid(current, action, "record has been deleted")
	}
	return invalid(current, action, "record changed concurrently")
}

func (e *Engine) notify(ctx context.Context, record Record, event Event) {
	if e.notifier == nil {
		return
	}
	e.detach(ctx, "notify", record.Entity, record.ID, func(ctx context.Context) error {
		return e.notifier.Notify(ctx, record, event)
	})
}

func (e *Engine) regenerate(ctx context.Context, record Record, action Action, visible bool) {
	if e.regenerator == nil {
		return
	}
	snapshot := record
	req := RegenerationRequest{
		Entity:      record.Entity,
		RecordID:    record.ID,
		Action:      action,
		Visible:     visible,
		Record:      &snapshot,
		RequestedAt: e.now().UTC(),
	}
	e.detach(ctx, "regenerate", record.Entity, record.ID, func(ctx context.Context) error {
		return e.regenerator.Regenerate(ctx, req)
	})
}

// detach runs fn after the caller's write has committed. It keeps request
// values but not the request's cancellation, and failures are only logged.
func (e *Engine) detach(parent context.Context, effect string, entity EntityType, id int64, fn func(context.Context) error) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.effectTimeout)
		defer cancel()

		err := safeCall(ctx, fn)
		if err == nil {
			return
		}
		failure := &SideEffectFailure{Effect: effect, Entity: entity, RecordID: id, Attempt: 1, Err: err}
		e.log.WithError(failure).WithFields(logrus.Fields{
			"effect":    effect,
			"entity":    entity,
			"record_id": id,
		}).Error("side effect failed")
	}()
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func mutationGuard(actor Actor) Guard {
	if actor.IsAdmin() {
		return Guard{RequireActive: true}
	}
	return Guard{Status: StatusPending, OwnerUserID: int64Ptr(actor.ID), RequireActive: true}
}

func history(cfg EntityConfig, status Status, at time.Time, actor Actor, reason *string) *HistoryEntry {
	if !cfg.TrackHistory {
		return nil
	}
	return &HistoryEntry{Status: status, ChangedAt: at, ChangedBy: int64Ptr(actor.ID), RejectionReason: reason}
}

func invalid(record Record, action Action, reason string) error {
	return &InvalidTransitionError{Entity: record.Entity, ID: record.ID, From: record.Status, Action: action, Reason: reason}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// claimOwner accepts an explicit owner id in the payload only when it names
// the acting principal, and strips it before validation.
func claimOwner(entity EntityType, actor Actor, payload Payload) (Payload, error) {
	key := "owner_user_id"
	if actor.IsAdmin() {
		key = "owner_admin_id"
	}
	raw, present := payload[key]
	if !present {
		return payload, nil
	}
	id, err := toInt(raw)
	if err != nil || id != actor.ID {
		return nil, &AccessDeniedError{Entity: entity, Action: ActionCreate}
	}
	out := make(Payload, len(payload))
	for k, v := range payload {
		if k != key {
			out[k] = v
		}
	}
	return out, nil
}

// changedAttributes compares through JSON so numbers decoded from storage
// compare equal to freshly validated values.
func changedAttributes(current map[string]any, next map[string]any) map[string]any {
	changes := make(map[string]any)
	for key, value := range next {
		existing, present := current[key]
		if present && jsonEqual(existing, value) {
			continue
		}
		if !present && value == nil {
			continue
		}
		changes[key] = value
	}
	return changes
}

func jsonEqual(a, b any) bool {
	left, errA := json.Marshal(a)
	right, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(left) == string(right)
}
