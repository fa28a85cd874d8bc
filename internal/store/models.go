package store

import "time"

type User struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

type Admin struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	Role         string
	Permissions  []string
	IsActive     bool
	CreatedAt    time.Time
}

// Subject identifies the account a refresh session belongs to.
type Subject struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

const (
	SubjectUser  = "user"
	SubjectAdmin = "admin"
)

type RegenerationRun struct {
	ID          int64
	Trigger     string
	Entity      string
	RecordID    int64
	Status      string
	SitemapURLs int
	CommitHash  string
	Error       string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// PublicEntry is the slice of a live record the public site needs.
type PublicEntry struct {
	ID        int64
	Title     string
	UpdatedAt time.Time
}
