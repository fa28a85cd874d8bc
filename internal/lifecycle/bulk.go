package lifecycle

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const MaxBulkSize = 500

// BulkInput is the per-id input of a bulk operation.
type BulkInput struct {
	Payload  Payload
	Reason   string
	Comments string
}

type BulkFailure struct {
	ID      int64  `json:"id"`
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// BulkResult separates successes from per-id failures. It is never
// all-or-nothing.
type BulkResult struct {
	Succeeded      []Record      `json:"succeeded"`
	Failed         []BulkFailure `json:"failed"`
	SucceededCount int           `json:"succeeded_count"`
	FailedCount    int           `json:"failed_count"`
}

var bulkActions = map[Action]struct{}{
	ActionUpdate:     {},
	ActionApprove:    {},
	ActionReject:     {},
	ActionDisable:    {},
	ActionDelete:     {},
	ActionHardDelete: {},
}

// RunBulk applies action to every id independently. Duplicate ids are
// processed once and results keep the order of first appearance. The error
// return is reserved for a malformed request; item failures are in the result.
func (e *Engine) RunBulk(ctx context.Context, entity EntityType, ids []int64, action Action, actor Actor, inputFor func(id int64) BulkInput) (BulkResult, error) {
	if _, err := e.config(entity); err != nil {
		return BulkResult{}, err
	}
	verr := &ValidationError{}
	if _, ok := bulkActions[action]; !ok {
		verr.add("action", "oneof", fmt.Sprintf("unsupported bulk action %q", action))
	}
	ids = uniqueIDs(ids)
	switch {
	case len(ids) == 0:
		verr.add("ids", "required", "at least one id is required")
	case len(ids) > MaxBulkSize:
		verr.add("ids", "max", fmt.Sprintf("must be at most %d", MaxBulkSize))
	}
	if err := verr.orNil(); err != nil {
		return BulkResult{}, err
	}
	if inputFor == nil {
		inputFor = func(int64) BulkInput { return BulkInput{} }
	}

	type outcome struct {
		record Record
		err    error
	}
	outcomes := make([]outcome, len(ids))

	var group errgroup.Group
	group.SetLimit(e.bulkConcurrency)
	for i, id := range ids {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = outcome{err: &StorageError{Op: "bulk " + string(action), Err: err}}
				return nil
			}
			record, err := e.runOne(ctx, entity, id, action, actor, inputFor(id))
			outcomes[i] = outcome{record: record, err: err}
			return nil
		})
	}
	_ = group.Wait()

	result := BulkResult{Succeeded: []Record{}, Failed: []BulkFailure{}}
	for i, out := range outcomes {
		if out.err != nil {
			result.Failed = append(result.Failed, BulkFailure{
				ID:      ids[i],
				Kind:    ErrorKind(out.err),
				Message: out.err.Error(),
				Err:     out.err,
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, out.record)
	}
	result.SucceededCount = len(result.Succeeded)
	result.FailedCount = len(result.Failed)

	e.log.WithFields(logrus.Fields{
		"entity":    entity,
		"action":    action,
		"succeeded": result.SucceededCount,
		"failed":    result.FailedCount,
	}).Info("bulk operation finished")
	return result, nil
}

func (e *Engine) runOne(ctx context.Context, entity EntityType, id int64, action Action, actor Actor, in BulkInput) (Record, error) {
	if action == ActionUpdate {
		return e.Update(ctx, entity, id, in.Payload, actor)
	}
	return e.Transition(ctx, entity, id, action, actor, TransitionInput{Reason: in.Reason, Comments: in.Comments})
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// BulkCreateFailure reports an item of a bulk create by its position in the
// request, since it never got an id.
type BulkCreateFailure struct {
	Index   int    `json:"index"`
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

type BulkCreateResult struct {
	Created      []Record            `json:"created"`
	Failed       []BulkCreateFailure `json:"failed"`
	CreatedCount int                 `json:"created_count"`
	FailedCount  int                 `json:"failed_count"`
}

// RunBulkCreate creates every payload independently through Create. Created
// records keep request order; failures carry the index of their payload.
func (e *Engine) RunBulkCreate(ctx context.Context, entity EntityType, payloads []Payload, actor Actor) (BulkCreateResult, error) {
	if _, err := e.config(entity); err != nil {
		return BulkCreateResult{}, err
	}
	verr := &ValidationError{}
	switch {
	case len(payloads) == 0:
		verr.add("items", "required", "at least one item is required")
	case len(payloads) > MaxBulkSize:
		verr.add("items", "max", fmt.Sprintf("must be at most %d", MaxBulkSize))
	}
	if err := verr.orNil(); err != nil {
		return BulkCreateResult{}, err
	}

	records := make([]Record, len(payloads))
	errs := make([]error, len(payloads))

	var group errgroup.Group
	group.SetLimit(e.bulkConcurrency)
	for i, payload := range payloads {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = &StorageError{Op: "bulk create " + string(entity), Err: err}
				return nil
			}
			records[i], errs[i] = e.Create(ctx, entity, payload, actor)
			return nil
		})
	}
	_ = group.Wait()

	result := BulkCreateResult{Created: []Record{}, Failed: []BulkCreateFailure{}}
	for i, err := range errs {
		if err != nil {
			result.Failed = append(result.Failed, BulkCreateFailure{
				Index:   i,
				Kind:    ErrorKind(err),
				Message: err.Error(),
				Err:     err,
			})
			continue
		}
		result.Created = append(result.Created, records[i])
	}
	result.CreatedCount = len(result.Created)
	result.FailedCount = len(result.Failed)

	e.log.WithFields(logrus.Fields{
		"entity":  entity,
		"action":  ActionCreate,
		"created": result.CreatedCount,
		"failed":  result.FailedCount,
	}).Info("bulk create finished")
	return result, nil
}
