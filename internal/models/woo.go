package models

import (
	"encoding/json"
	"time"
)

// Raw WooCommerce REST shapes. Only the fields the sync pipeline reads
// are declared; everything else in the payload is ignored.

type WooOrder struct {
	ID          int64         `json:"id"`
	Status      string        `json:"status"`
	DateCreated WooTime       `json:"date_created_gmt"`
	Billing     WooBilling    `json:"billing"`
	LineItems   []WooLineItem `json:"line_items"`
}

type WooBilling struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type WooLineItem struct {
	ID          int64          `json:"id"`
	ProductID   int64          `json:"product_id"`
	VariationID int64          `json:"variation_id"`
	Quantity    int            `json:"quantity"`
	MetaData    []WooMetaEntry `json:"meta_data"`
}

// WooMetaEntry is one key/value pair from a line item's meta_data
// array. Values are arbitrary JSON; callers decode per key.
type WooMetaEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// TicketFieldsMetaKey holds the per-attendee field sets written by the
// ticketing plugin on each ticket line item.
const TicketFieldsMetaKey = "_ticket_fields"

// TicketIDMetaPrefix plus an entry's uid names the companion meta key
// carrying the platform's true ticket id for that entry.
const TicketIDMetaPrefix = "_ticket_id_for_"

// WooTicketEntry is one attendee's field set inside the ticket blob.
// Fields keep the plugin's ordering, which the extractor relies on.
type WooTicketEntry struct {
	UID    string           `json:"uid"`
	Fields []WooTicketField `json:"fields"`
}

type WooTicketField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// WooProduct is the subset of a product listing the event discovery
// pass reads.
type WooProduct struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	EventDate WooTime `json:"event_date"`
}

// WooTime unmarshals WooCommerce's bare "2006-01-02T15:04:05" GMT
// timestamps as well as full RFC3339.
type WooTime struct {
	time.Time
}

func (t *WooTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse("2006-01-02T15:04:05", raw)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

func (t WooTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format("2006-01-02T15:04:05"))
}
