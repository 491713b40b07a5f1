package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

// JobStatus is the lifecycle state of a scheduled send.
//
// Transitions are monotonic: pending -> sent | failed | canceled.
// Terminal states are never left.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobSent     JobStatus = "sent"
	JobCanceled JobStatus = "canceled"
	JobFailed   JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobSent || s == JobCanceled || s == JobFailed
}

// Job is a message scheduled for future delivery to a group.
type Job struct {
	ID         int64
	GroupID    string
	GroupAlias string
	Text       string
	RunAt      time.Time // UTC
	CreatedBy  string
	CreatedAt  time.Time
	Status     JobStatus
	LastError  string

	// CorrelationKey dedupes identical schedule requests
	// (sha256 over group|text|run_at).
	CorrelationKey string
}

// Group maps a human-chosen alias to a messaging group id.
// Aliases are stored lowercase.
type Group struct {
	Alias     string
	GroupID   string
	Name      string
	CreatedAt time.Time
}

// Correlation is the open reply window for one delivered job.
// ExpiresAt is immutable once set; entries past it never match.
type Correlation struct {
	ID           int64
	JobID        int64
	GroupID      string
	BotMessageID string
	OpenedAt     time.Time
	ExpiresAt    time.Time
	LastSenderID string // empty until a reply arrives
}

// ReplySession routes the owner's next message to a prior group sender.
// One slot per owner; starting a new session replaces the old one.
type ReplySession struct {
	OwnerID        string
	TargetSenderID string
	TargetGroupID  string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// PendingSchedule holds a two-step schedule awaiting its content message.
type PendingSchedule struct {
	OwnerID    string
	GroupAlias string
	RunAt      time.Time
	CreatedAt  time.Time
}
