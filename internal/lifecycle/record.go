package lifecycle

import "time"

type Action string

const (
	ActionRead       Action = "read"
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionHardDelete Action = "hard_delete"
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionDisable    Action = "disable"
)

func ParseAction(value string) (Action, bool) {
	switch action := Action(value); action {
	case ActionUpdate, ActionDelete, ActionHardDelete, ActionApprove, ActionReject, ActionDisable:
		return action, true
	default:
		return "", false
	}
}

// Event names the transition a notification is about.
type Event string

const (
	EventApproved Event = "approved"
	EventRejected Event = "rejected"
)

// Payload carries entity attributes as decoded from a request body.
type Payload map[string]any

type HistoryEntry struct {
	Status          Status    `json:"status"`
	ChangedAt       time.Time `json:"changed_at"`
	ChangedBy       *int64    `json:"changed_by"`
	RejectionReason *string   `json:"rejection_reason"`
}

// Record is a moderated submission of any entity type.
type Record struct {
	ID              int64          `json:"id"`
	Entity          EntityType     `json:"entity"`
	Status          Status         `json:"status"`
	IsActive        bool           `json:"is_active"`
	OwnerUserID     *int64         `json:"owner_user_id"`
	OwnerAdminID    *int64         `json:"owner_admin_id"`
	ApprovedAt      *time.Time     `json:"approved_at"`
	ApprovedBy      *int64         `json:"approved_by"`
	RejectedAt      *time.Time     `json:"rejected_at"`
	RejectedBy      *int64         `json:"rejected_by"`
	RejectionReason *string        `json:"rejection_reason"`
	AdminComments   *string        `json:"admin_comments"`
	StatusHistory   []HistoryEntry `json:"status_history"`
	Attributes      map[string]any `json:"attributes"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// PubliclyVisible reports whether anonymous callers may see the record.
func (r Record) PubliclyVisible() bool {
	return r.Status == StatusLive && r.IsActive
}

func (r Record) OwnedByUser(userID int64) bool {
	return userID > 0 && r.OwnerUserID != nil && *r.OwnerUserID == userID
}

// Title returns the configured display attribute, if it is a string.
func (r Record) Title(field string) string {
	if field == "" {
		return ""
	}
	value, _ := r.Attributes[field].(string)
	return value
}

// RegenerationRequest describes why downstream site artifacts are stale.
type RegenerationRequest struct {
	Entity      EntityType `json:"entity"`
	RecordID    int64      `json:"record_id"`
	Action      Action     `json:"action"`
	Visible     bool       `json:"visible"`
	Record      *Record    `json:"record,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
}

func int64Ptr(v int64) *int64 {
	return &v
}

func stringPtr(v string) *string {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}
