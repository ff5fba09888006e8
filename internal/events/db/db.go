package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-membership/internal/models"
)

type DB struct {
	Bun bun.IDB
}

// GetEventByID returns an event regardless of status.
func (d *DB) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetActiveEventByProductID looks up the non-merged event owning a
// primary product id.
func (d *DB) GetActiveEventByProductID(ctx context.Context, productID int64) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("product_id = ?", productID).
		Where("status = ?", models.EventStatusActive).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ActiveEvents returns all non-merged events in ascending date order.
// Merged events are excluded by status, never by pointer null-checks.
func (d *DB) ActiveEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("status = ?", models.EventStatusActive).
		Order("event_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// UpsertDiscovered inserts a newly discovered event or refreshes the
// name/date of the event already holding that product id. The conflict
// target is the partial unique index on active events' product ids, so
// re-discovery is safe under concurrent runs.
func (d *DB) UpsertDiscovered(ctx context.Context, event *models.Event) error {
	now := time.Now().UTC()
	event.Status = models.EventStatusActive
	event.CreatedAt = now
	event.UpdatedAt = now

	_, err := d.Bun.NewInsert().
		Model(event).
		On("CONFLICT (product_id) WHERE status = 'active' DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("event_date = EXCLUDED.event_date").
		Set("members_only = EXCLUDED.members_only").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// UpdateNameAndDate applies a name/date correction to an event.
func (d *DB) UpdateNameAndDate(ctx context.Context, id, name string, date time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("name = ?", name).
		Set("event_date = ?", date).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// SetPrimaryProduct reassigns the product id an event answers for.
// Disentangle uses this to hand the kept event its largest group's
// product, freeing the old primary for a split event.
func (d *DB) SetPrimaryProduct(ctx context.Context, id string, productID int64) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("product_id = ?", productID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// InsertEvent inserts a fully formed event row (used by disentangle
// when splitting a group out into a fresh event).
func (d *DB) InsertEvent(ctx context.Context, event *models.Event) error {
	_, err := d.Bun.NewInsert().Model(event).Exec(ctx)
	return err
}

// BackfillSourceProduct stamps a source product id onto every attendee
// of an event that doesn't have one yet. Run before any merge so the
// merge stays reversible.
func (d *DB) BackfillSourceProduct(ctx context.Context, eventID string, productID int64) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Attendee)(nil)).
		Set("source_product_id = ?", productID).
		Where("event_id = ?", eventID).
		Where("source_product_id IS NULL OR source_product_id = 0").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RepointAttendees moves all attendees from one event to another.
func (d *DB) RepointAttendees(ctx context.Context, fromEventID, toEventID string) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Attendee)(nil)).
		Set("event_id = ?", toEventID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", fromEventID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RepointAttendeesBySource moves only the attendees whose ticket came
// from a specific product.
func (d *DB) RepointAttendeesBySource(ctx context.Context, fromEventID, toEventID string, sourceProductID int64) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Attendee)(nil)).
		Set("event_id = ?", toEventID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", fromEventID).
		Where("source_product_id = ?", sourceProductID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkMerged redirects an event into its survivor. The row stays.
func (d *DB) MarkMerged(ctx context.Context, eventID, survivorID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("status = ?", models.EventStatusMerged).
		Set("merged_into_event_id = ?", survivorID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", eventID).
		Exec(ctx)
	return err
}

// SetMergedProducts replaces the survivor's merged product id list.
func (d *DB) SetMergedProducts(ctx context.Context, eventID string, productIDs []int64) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("merged_product_ids = ?", productIDs).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", eventID).
		Exec(ctx)
	return err
}

// SourceProductGroups counts an event's attendees per recorded source
// product id. Attendees without source tracking land under key 0.
func (d *DB) SourceProductGroups(ctx context.Context, eventID string) (map[int64]int, error) {
	var rows []struct {
		SourceProductID int64 `bun:"source_product_id"`
		Count           int   `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Attendee)(nil)).
		ColumnExpr("COALESCE(source_product_id, 0) AS source_product_id").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		GroupExpr("COALESCE(source_product_id, 0)").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	groups := make(map[int64]int, len(rows))
	for _, row := range rows {
		groups[row.SourceProductID] = row.Count
	}
	return groups, nil
}

// CountAttendees returns the attendee count for one event.
func (d *DB) CountAttendees(ctx context.Context, eventID string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.Attendee)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count attendees for event %s: %w", eventID, err)
	}
	return count, nil
}

// RunInTx executes fn against a transaction-scoped copy of this layer.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, txDB *DB) error) error {
	idb, ok := d.Bun.(*bun.DB)
	if !ok {
		// Already inside a transaction.
		return fn(ctx, d)
	}
	return idb.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &DB{Bun: tx})
	})
}
