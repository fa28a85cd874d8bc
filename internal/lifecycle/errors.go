package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoRecord is returned by repositories when an id does not resolve.
var ErrNoRecord = errors.New("record not found")

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every failing field of a payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, rule, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	sort.SliceStable(e.Fields, func(i, j int) bool { return e.Fields[i].Field < e.Fields[j].Field })
	return e
}

type AccessDeniedError struct {
	Entity EntityType
	ID     int64
	Action Action
}

func (e *AccessDeniedError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("access denied: %s %s", e.Action, e.Entity)
	}
	return fmt.Sprintf("access denied: %s %s %d", e.Action, e.Entity, e.ID)
}

type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

type InvalidTransitionError struct {
	Entity EntityType
	ID     int64
	From   Status
	Action Action
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %d from %s: %s", e.Action, e.Entity, e.ID, e.From, e.Reason)
}

// StorageError wraps a persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SideEffectFailure is logged when a notification or regeneration fails.
// It never reaches the caller of a transition.
type SideEffectFailure struct {
	Effect   string
	Entity   EntityType
	RecordID int64
	Attempt  int
	Err      error
}

func (e *SideEffectFailure) Error() string {
	return fmt.Sprintf("side effect %s for %s %d failed (attempt %d): %v", e.Effect, e.Entity, e.RecordID, e.Attempt, e.Err)
}

func (e *SideEffectFailure) Unwrap() error {
	return e.Err
}

type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindValidation        Kind = "validation"
	KindAccessDenied      Kind = "access_denied"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindStorage           Kind = "storage"
	KindSideEffect        Kind = "side_effect"
)

// ErrorKind classifies err into the lifecycle taxonomy.
func ErrorKind(err error) Kind {
	var (
		validation *ValidationError
		denied     *AccessDeniedError
		notFound   *NotFoundError
		invalid    *InvalidTransitionError
		storage    *StorageError
		effect     *SideEffectFailure
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &denied):
		return KindAccessDenied
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &invalid):
		return KindInvalidTransition
	case errors.As(err, &storage):
		return KindStorage
	case errors.As(err, &effect):
		return KindSideEffect
	default:
		return KindUnknown
	}
}
