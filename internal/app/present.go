package app

import (
	"time"

	"marketplace/api/internal/lifecycle"
)

// recordView is the wire shape of a record. Statuses use the entity's own
// words; moderation details are only shown to admins and owners.
type recordView struct {
	ID              int64          `json:"id"`
	Entity          string         `json:"entity"`
	Status          string         `json:"status"`
	IsActive        bool           `json:"isActive"`
	Attributes      map[string]any `json:"attributes"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	OwnerUserID     *int64         `json:"ownerUserId,omitempty"`
	OwnerAdminID    *int64         `json:"ownerAdminId,omitempty"`
	ApprovedAt      *time.Time     `json:"approvedAt,omitempty"`
	ApprovedBy      *int64         `json:"approvedBy,omitempty"`
	RejectedAt      *time.Time     `json:"rejectedAt,omitempty"`
	RejectedBy      *int64         `json:"rejectedBy,omitempty"`
	RejectionReason *string        `json:"rejectionReason,omitempty"`
	AdminComments   *string        `json:"adminComments,omitempty"`
	StatusHistory   []historyView  `json:"statusHistory,omitempty"`
}

type historyView struct {
	Status          string    `json:"status"`
	ChangedAt       time.Time `json:"changedAt"`
	ChangedBy       *int64    `json:"changedBy"`
	RejectionReason *string   `json:"rejectionReason,omitempty"`
}

func presentRecord(cfg lifecycle.EntityConfig, record lifecycle.Record, actor lifecycle.Actor) recordView {
	view := recordView{
		ID:         record.ID,
		Entity:     string(record.Entity),
		Status:     statusWord(cfg, record.Status),
		IsActive:   record.IsActive,
		Attributes: record.Attributes,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	if view.Attributes == nil {
		view.Attributes = map[string]any{}
	}
	if !actor.IsAdmin() && !record.OwnedByUser(actor.ID) {
		return view
	}

	view.OwnerUserID = record.OwnerUserID
	view.OwnerAdminID = record.OwnerAdminID
	view.ApprovedAt = record.ApprovedAt
	view.ApprovedBy = record.ApprovedBy
	view.RejectedAt = record.RejectedAt
	view.RejectedBy = record.RejectedBy
	view.RejectionReason = record.RejectionReason
	view.AdminComments = record.AdminComments
	view.StatusHistory = make([]historyView, 0, len(record.StatusHistory))
	for _, entry := range record.StatusHistory {
		view.StatusHistory = append(view.StatusHistory, historyView{
			Status:          statusWord(cfg, entry.Status),
			ChangedAt:       entry.ChangedAt,
			ChangedBy:       entry.ChangedBy,
			RejectionReason: entry.RejectionReason,
		})
	}
	return view
}

func presentRecords(cfg lifecycle.EntityConfig, records []lifecycle.Record, actor lifecycle.Actor) []recordView {
	views := make([]recordView, 0, len(records))
	for _, record := range records {
		views = append(views, presentRecord(cfg, record, actor))
	}
	return views
}

func presentBulk(cfg lifecycle.EntityConfig, result lifecycle.BulkResult, actor lifecycle.Actor) map[string]any {
	return map[string]any{
		"succeeded":      presentRecords(cfg, result.Succeeded, actor),
		"failed":         result.Failed,
		"succeededCount": result.SucceededCount,
		"failedCount":    result.FailedCount,
	}
}

func presentBulkCreate(cfg lifecycle.EntityConfig, result lifecycle.BulkCreateResult, actor lifecycle.Actor) map[string]any {
	return map[string]any{
		"created":      presentRecords(cfg, result.Created, actor),
		"failed":       result.Failed,
		"createdCount": result.CreatedCount,
		"failedCount":  result.FailedCount,
	}
}

func statusWord(cfg lifecycle.EntityConfig, status lifecycle.Status) string {
	if word, ok := cfg.Vocabulary.Word(status); ok {
		return word
	}
	return string(status)
}
