package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-membership/internal/models"
)

type DB struct {
	Bun bun.IDB
}

func (d *DB) GetAttendeeByID(ctx context.Context, id string) (*models.Attendee, error) {
	var attendee models.Attendee
	err := d.Bun.NewSelect().
		Model(&attendee).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &attendee, nil
}

// TicketIDSet fetches every ticket id already stored for an event in
// one query. This set is the reconciler's duplicate-prevention key.
func (d *DB) TicketIDSet(ctx context.Context, eventID string) (map[string]bool, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Attendee)(nil)).
		Column("ticket_id").
		Where("event_id = ?", eventID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (d *DB) GetAttendeesByEvent(ctx context.Context, eventID string) ([]models.Attendee, error) {
	var attendees []models.Attendee
	err := d.Bun.NewSelect().
		Model(&attendees).
		Where("event_id = ?", eventID).
		Order("order_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return attendees, nil
}

func (d *DB) InsertAttendees(ctx context.Context, attendees []models.Attendee) error {
	if len(attendees) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&attendees).Exec(ctx)
	return err
}

func (d *DB) DeleteAttendeesByEvent(ctx context.Context, eventID string) (int64, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.Attendee)(nil)).
		Where("event_id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BackfillBooker fills booker fields on an existing row only where
// they are currently empty. Sync must never overwrite what a human may
// have corrected, so this is strictly set-if-null. Returns the rows
// actually touched so the caller's accounting reflects real backfills,
// not every already-present ticket.
func (d *DB) BackfillBooker(ctx context.Context, eventID, ticketID string, candidate models.TicketCandidate) (int64, error) {
	if candidate.BookerFirstName == "" && candidate.BookerLastName == "" && candidate.BookerEmail == "" {
		return 0, nil
	}
	res, err := d.Bun.NewUpdate().
		Model((*models.Attendee)(nil)).
		Set("booker_first_name = COALESCE(booker_first_name, ?)", nullableString(candidate.BookerFirstName)).
		Set("booker_last_name = COALESCE(booker_last_name, ?)", nullableString(candidate.BookerLastName)).
		Set("booker_email = COALESCE(booker_email, ?)", nullableString(candidate.BookerEmail)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", eventID).
		Where("ticket_id = ?", ticketID).
		Where("booker_first_name IS NULL OR booker_last_name IS NULL OR booker_email IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BackfillSourceProduct records the originating product id where it is
// missing, without touching rows that already carry one.
func (d *DB) BackfillSourceProduct(ctx context.Context, eventID, ticketID string, productID int64) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Attendee)(nil)).
		Set("source_product_id = ?", productID).
		Where("event_id = ?", eventID).
		Where("ticket_id = ?", ticketID).
		Where("source_product_id IS NULL OR source_product_id = 0").
		Exec(ctx)
	return err
}

// SetCheckedIn toggles an attendee's check-in state.
func (d *DB) SetCheckedIn(ctx context.Context, id string, checkedIn bool, at time.Time) error {
	query := d.Bun.NewUpdate().
		Model((*models.Attendee)(nil)).
		Set("checked_in = ?", checkedIn).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if checkedIn {
		query = query.Set("checked_in_time = ?", at)
	} else {
		query = query.Set("checked_in_time = NULL")
	}
	_, err := query.Exec(ctx)
	return err
}

// UpdateNameEmail applies a manual correction and marks the row
// locally modified so later sync passes leave it alone.
func (d *DB) UpdateNameEmail(ctx context.Context, id, email, firstName, lastName string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Attendee)(nil)).
		Set("email = ?", email).
		Set("first_name = ?", firstName).
		Set("last_name = ?", lastName).
		Set("locally_modified = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// BulkCheckInPastEvent checks in every attendee of an event dated in
// the past that hasn't been checked in yet.
func (d *DB) BulkCheckInEvent(ctx context.Context, eventID string, at time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Attendee)(nil)).
		Set("checked_in = ?", true).
		Set("checked_in_time = ?", at).
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", eventID).
		Where("checked_in = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RunInTx executes fn against a transaction-scoped copy of this layer.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, txDB *DB) error) error {
	idb, ok := d.Bun.(*bun.DB)
	if !ok {
		return fn(ctx, d)
	}
	return idb.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &DB{Bun: tx})
	})
}

// IsNotFound reports whether err is the driver's empty-result error.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
