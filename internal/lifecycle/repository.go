package lifecycle

import (
	"context"
	"time"
)

// Guard is the optimistic precondition of a conditional write. A write whose
// guard no longer holds affects no row and reports ok=false.
type Guard struct {
	// Status, when set, must equal the stored status.
	Status        Status
	OwnerUserID   *int64
	RequireActive bool
}

// StatusChange is applied by a single conditional statement. Approving sets
// the approval columns and clears the rejection ones; rejecting does the
// reverse. History, when set, is appended to status_history.
type StatusChange struct {
	To              Status
	At              time.Time
	By              int64
	RejectionReason *string
	AdminComments   *string
	History         *HistoryEntry
}

type ListFilter struct {
	Statuses    []Status
	Active      *bool
	OwnerUserID *int64
	// Limit <= 0 means no limit.
	Limit  int
	Offset int
}

// Repository persists records of every entity.
type Repository interface {
	Insert(ctx context.Context, cfg EntityConfig, record Record) (Record, error)
	// Get returns ErrNoRecord when the id does not resolve.
	Get(ctx context.Context, cfg EntityConfig, id int64) (Record, error)
	UpdateAttributes(ctx context.Context, cfg EntityConfig, id int64, guard Guard, changes map[string]any) (Record, bool, error)
	ApplyTransition(ctx context.Context, cfg EntityConfig, id int64, guard Guard, change StatusChange) (Record, bool, error)
	SetActive(ctx context.Context, cfg EntityConfig, id int64, guard Guard, active bool) (Record, bool, error)
	Delete(ctx context.Context, cfg EntityConfig, id int64) (bool, error)
	List(ctx context.Context, cfg EntityConfig, filter ListFilter) ([]Record, int, error)
}

// Notifier emails the submitter about a committed transition.
type Notifier interface {
	Notify(ctx context.Context, record Record, event Event) error
}

// Regenerator refreshes public site artifacts after visible content changed.
type Regenerator interface {
	Regenerate(ctx context.Context, req RegenerationRequest) error
}
