package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Member is a derived aggregate over checked-in attendance, keyed by
// email. It is rebuildable from the attendees table at any time and is
// never treated as a source of truth.
type Member struct {
	bun.BaseModel `bun:"table:members"`

	Email     string `bun:"email,pk" json:"email"`
	FirstName string `bun:"first_name" json:"first_name"`
	LastName  string `bun:"last_name" json:"last_name"`

	IsActive              bool       `bun:"is_active" json:"is_active"`
	TotalQualifyingEvents int        `bun:"total_qualifying_events" json:"total_qualifying_events"`
	LastQualifyingEvent   *time.Time `bun:"last_qualifying_event,nullzero" json:"last_qualifying_event,omitempty"`
	MembershipExpiresAt   *time.Time `bun:"membership_expires_at,nullzero" json:"membership_expires_at,omitempty"`

	ManuallyAdded   bool       `bun:"manually_added" json:"manually_added"`
	ManualExpiresAt *time.Time `bun:"manual_expires_at,nullzero" json:"manual_expires_at,omitempty"`

	UpdatedAt time.Time `bun:"updated_at" json:"updated_at"`
}

// SyncLog operations and outcomes for the external mirror.
const (
	SyncOpAdd    = "add"
	SyncOpRemove = "remove"

	SyncOutcomeOK     = "ok"
	SyncOutcomeFailed = "failed"
)

// SyncLog records one attempt to mirror a member to the email platform.
// Append-only.
type SyncLog struct {
	bun.BaseModel `bun:"table:sync_logs"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Email     string    `bun:"email" json:"email"`
	Operation string    `bun:"operation" json:"operation"`
	Outcome   string    `bun:"outcome" json:"outcome"`
	Error     string    `bun:"error,nullzero" json:"error,omitempty"`
	CreatedAt time.Time `bun:"created_at" json:"created_at"`
}
