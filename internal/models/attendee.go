package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Attendee struct {
	bun.BaseModel `bun:"table:attendees"`

	ID      string `bun:"id,pk" json:"id"`
	EventID string `bun:"event_id" json:"event_id"`

	Email     string `bun:"email" json:"email"`
	FirstName string `bun:"first_name" json:"first_name"`
	LastName  string `bun:"last_name" json:"last_name"`

	// External platform identifiers. (TicketID, EventID) is the sole
	// duplicate-prevention key.
	TicketID  string    `bun:"ticket_id" json:"ticket_id"`
	OrderID   string    `bun:"order_id" json:"order_id"`
	OrderDate time.Time `bun:"order_date" json:"order_date"`

	// The booker placed the order and may not hold the ticket.
	BookerFirstName string `bun:"booker_first_name,nullzero" json:"booker_first_name,omitempty"`
	BookerLastName  string `bun:"booker_last_name,nullzero" json:"booker_last_name,omitempty"`
	BookerEmail     string `bun:"booker_email,nullzero" json:"booker_email,omitempty"`

	CheckedIn     bool       `bun:"checked_in" json:"checked_in"`
	CheckedInTime *time.Time `bun:"checked_in_time,nullzero" json:"checked_in_time,omitempty"`

	ManuallyAdded   bool `bun:"manually_added" json:"manually_added"`
	LocallyModified bool `bun:"locally_modified" json:"locally_modified"`

	// TicketID was derived from the entry's internal uid because the
	// canonical ticket-id meta key was absent. Kept for auditing.
	TicketIDFromUID bool `bun:"ticket_id_from_uid" json:"ticket_id_from_uid"`

	// Product id the ticket actually came from, preserved through
	// merges so a bad merge can be split apart again.
	SourceProductID int64 `bun:"source_product_id,nullzero" json:"source_product_id,omitempty"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at" json:"updated_at"`
}

// TicketCandidate is a normalized ticket extracted from a raw order
// payload, not yet reconciled against the attendees table.
type TicketCandidate struct {
	ExternalTicketID string
	Email            string
	FirstName        string
	LastName         string
	BookerFirstName  string
	BookerLastName   string
	BookerEmail      string
	OrderID          string
	OrderDate        time.Time
	SourceProductID  int64
	TicketIDFromUID  bool
}
