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

func (d *DB) GetMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	var member models.Member
	err := d.Bun.NewSelect().
		Model(&member).
		Where("email = ?", email).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (d *DB) AllMembers(ctx context.Context) ([]models.Member, error) {
	var members []models.Member
	err := d.Bun.NewSelect().
		Model(&members).
		Order("email ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return members, nil
}

// UpsertMember writes the derived member row, keyed on email.
func (d *DB) UpsertMember(ctx context.Context, member *models.Member) error {
	member.UpdatedAt = time.Now().UTC()
	_, err := d.Bun.NewInsert().
		Model(member).
		On("CONFLICT (email) DO UPDATE").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("is_active = EXCLUDED.is_active").
		Set("total_qualifying_events = EXCLUDED.total_qualifying_events").
		Set("last_qualifying_event = EXCLUDED.last_qualifying_event").
		Set("membership_expires_at = EXCLUDED.membership_expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// TruncateDerived removes every member row that was not manually
// added. Manual rows survive a rebuild; everything else is rederived
// from attendance.
func (d *DB) TruncateDerived(ctx context.Context) (int64, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.Member)(nil)).
		Where("manually_added = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DistinctCheckedInEmails lists every email with at least one
// checked-in attendance, the input set for a full rebuild.
func (d *DB) DistinctCheckedInEmails(ctx context.Context) ([]string, error) {
	var emails []string
	err := d.Bun.NewSelect().
		Model((*models.Attendee)(nil)).
		ColumnExpr("DISTINCT email").
		Where("checked_in = ?", true).
		Where("email != ''").
		Scan(ctx, &emails)
	if err != nil {
		return nil, err
	}
	return emails, nil
}

// historyRow joins one checked-in attendance to its event.
type historyRow struct {
	FirstName string    `bun:"first_name"`
	LastName  string    `bun:"last_name"`
	EventName string    `bun:"event_name"`
	EventDate time.Time `bun:"event_date"`
}

// History is a person's full checked-in attendance joined to events.
type History struct {
	Email     string
	FirstName string
	LastName  string
	Events    []struct {
		Name string
		Date time.Time
	}
}

// CheckedInHistory loads one person's checked-in attendance history.
// Only events reachable through current attendee rows count; merged
// events were re-pointed at merge time, so the join needs no status
// filter.
func (d *DB) CheckedInHistory(ctx context.Context, email string) (*History, error) {
	var rows []historyRow
	err := d.Bun.NewSelect().
		Model((*models.Attendee)(nil)).
		ColumnExpr("attendee.first_name").
		ColumnExpr("attendee.last_name").
		ColumnExpr("event.name AS event_name").
		ColumnExpr("event.event_date AS event_date").
		Join("JOIN events AS event ON event.id = attendee.event_id").
		Where("attendee.email = ?", email).
		Where("attendee.checked_in = ?", true).
		Order("event.event_date ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	history := &History{Email: email}
	for _, row := range rows {
		// Latest attendance wins the display name.
		if row.FirstName != "" {
			history.FirstName = row.FirstName
		}
		if row.LastName != "" {
			history.LastName = row.LastName
		}
		history.Events = append(history.Events, struct {
			Name string
			Date time.Time
		}{Name: row.EventName, Date: row.EventDate})
	}
	return history, nil
}

// InsertSyncLog appends one mirror-sync attempt. Rows are never
// updated or deleted.
func (d *DB) InsertSyncLog(ctx context.Context, entry *models.SyncLog) error {
	entry.CreatedAt = time.Now().UTC()
	_, err := d.Bun.NewInsert().Model(entry).Exec(ctx)
	return err
}

func (d *DB) SyncLogsByEmail(ctx context.Context, email string, limit int) ([]models.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []models.SyncLog
	err := d.Bun.NewSelect().
		Model(&logs).
		Where("email = ?", email).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return logs, nil
}
