package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event status values. A merged event is never deleted; it points at
// its survivor through MergedIntoEventID and drops out of all queries
// that filter on StatusActive.
const (
	EventStatusActive = "active"
	EventStatusMerged = "merged"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID                string    `bun:"id,pk" json:"id"`
	Name              string    `bun:"name" json:"name"`
	EventDate         time.Time `bun:"event_date" json:"event_date"`
	ProductID         int64     `bun:"product_id" json:"product_id"`
	MergedProductIDs  []int64   `bun:"merged_product_ids" json:"merged_product_ids,omitempty"`
	MembersOnly       bool      `bun:"members_only" json:"members_only"`
	Status            string    `bun:"status" json:"status"`
	MergedIntoEventID string    `bun:"merged_into_event_id,nullzero" json:"merged_into_event_id,omitempty"`
	CreatedAt         time.Time `bun:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bun:"updated_at" json:"updated_at"`
}

// AllProductIDs returns the primary product id followed by any product
// ids absorbed through merges.
func (e *Event) AllProductIDs() []int64 {
	ids := make([]int64, 0, 1+len(e.MergedProductIDs))
	ids = append(ids, e.ProductID)
	ids = append(ids, e.MergedProductIDs...)
	return ids
}

func (e *Event) IsMerged() bool {
	return e.Status == EventStatusMerged
}
