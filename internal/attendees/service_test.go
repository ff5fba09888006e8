package attendees

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-membership/internal/attendees/db"
	"ms-membership/internal/logger"
	"ms-membership/internal/membership"
	"ms-membership/internal/models"
)

type recordingPublisher struct {
	published []models.Attendee
}

func (r *recordingPublisher) PublishCheckedIn(attendee models.Attendee) error {
	r.published = append(r.published, attendee)
	return nil
}

type recordingRecalculator struct {
	emails [][]string
}

func (r *recordingRecalculator) RecalculateEmails(ctx context.Context, emails []string) (*membership.Summary, error) {
	r.emails = append(r.emails, emails)
	return &membership.Summary{Recalculated: len(emails)}, nil
}

func seedAttendee(t *testing.T, database *db.DB, attendee models.Attendee) {
	t.Helper()
	require.NoError(t, database.InsertAttendees(context.Background(), []models.Attendee{attendee}))
}

func TestCheckInIsIdempotentAndRecalculates(t *testing.T) {
	database := setupTestDB(t)
	publisher := &recordingPublisher{}
	recalc := &recordingRecalculator{}
	svc := NewService(database, publisher, recalc, logger.NewLogger())
	ctx := context.Background()

	seedAttendee(t, database, models.Attendee{
		ID:       "att-1",
		EventID:  "event-1",
		Email:    "ana@example.com",
		TicketID: "T-1",
	})

	attendee, err := svc.CheckIn(ctx, "att-1")
	require.NoError(t, err)
	assert.True(t, attendee.CheckedIn)
	require.NotNil(t, attendee.CheckedInTime)

	// Scanning the same ticket twice must not publish twice.
	_, err = svc.CheckIn(ctx, "att-1")
	require.NoError(t, err)
	assert.Len(t, publisher.published, 1)
	assert.Len(t, recalc.emails, 1)
	assert.Equal(t, []string{"ana@example.com"}, recalc.emails[0])

	stored, err := database.GetAttendeeByID(ctx, "att-1")
	require.NoError(t, err)
	assert.True(t, stored.CheckedIn)
}

func TestUndoCheckIn(t *testing.T) {
	database := setupTestDB(t)
	recalc := &recordingRecalculator{}
	svc := NewService(database, &recordingPublisher{}, recalc, logger.NewLogger())
	ctx := context.Background()

	seedAttendee(t, database, models.Attendee{
		ID:       "att-1",
		EventID:  "event-1",
		Email:    "ana@example.com",
		TicketID: "T-1",
	})

	_, err := svc.CheckIn(ctx, "att-1")
	require.NoError(t, err)

	attendee, err := svc.UndoCheckIn(ctx, "att-1")
	require.NoError(t, err)
	assert.False(t, attendee.CheckedIn)
	assert.Nil(t, attendee.CheckedInTime)

	stored, err := database.GetAttendeeByID(ctx, "att-1")
	require.NoError(t, err)
	assert.False(t, stored.CheckedIn)
	assert.Nil(t, stored.CheckedInTime)

	// Check-in and undo each trigger a recalculation.
	assert.Len(t, recalc.emails, 2)
}

func TestCheckInUnknownAttendee(t *testing.T) {
	database := setupTestDB(t)
	svc := NewService(database, &recordingPublisher{}, &recordingRecalculator{}, logger.NewLogger())

	_, err := svc.CheckIn(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCorrectMarksLocallyModified(t *testing.T) {
	database := setupTestDB(t)
	svc := NewService(database, &recordingPublisher{}, &recordingRecalculator{}, logger.NewLogger())
	ctx := context.Background()

	seedAttendee(t, database, models.Attendee{
		ID:        "att-1",
		EventID:   "event-1",
		Email:     "typo@example.com",
		FirstName: "An",
		TicketID:  "T-1",
	})

	// Empty fields keep their current value.
	attendee, err := svc.Correct(ctx, "att-1", "fixed@example.com", "", "Petrova")
	require.NoError(t, err)
	assert.Equal(t, "fixed@example.com", attendee.Email)
	assert.Equal(t, "An", attendee.FirstName)
	assert.Equal(t, "Petrova", attendee.LastName)
	assert.True(t, attendee.LocallyModified)

	stored, err := database.GetAttendeeByID(ctx, "att-1")
	require.NoError(t, err)
	assert.True(t, stored.LocallyModified)
	assert.Equal(t, "fixed@example.com", stored.Email)
}

func TestBulkCheckInPastEventOnly(t *testing.T) {
	database := setupTestDB(t)
	recalc := &recordingRecalculator{}
	svc := NewService(database, &recordingPublisher{}, recalc, logger.NewLogger())
	ctx := context.Background()

	futureEvent := &models.Event{ID: "event-future", EventDate: time.Now().UTC().Add(24 * time.Hour)}
	_, err := svc.BulkCheckIn(ctx, futureEvent)
	assert.Error(t, err)

	pastEvent := &models.Event{ID: "event-past", EventDate: time.Now().UTC().Add(-24 * time.Hour)}
	seedAttendee(t, database, models.Attendee{ID: "att-1", EventID: "event-past", Email: "a@example.com", TicketID: "T-1"})
	seedAttendee(t, database, models.Attendee{ID: "att-2", EventID: "event-past", Email: "b@example.com", TicketID: "T-2"})
	seedAttendee(t, database, models.Attendee{ID: "att-3", EventID: "event-past", Email: "a@example.com", TicketID: "T-3"})

	count, err := svc.BulkCheckIn(ctx, pastEvent)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Distinct emails only.
	require.Len(t, recalc.emails, 1)
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, recalc.emails[0])

	// Already-checked-in rows are untouched by a second pass.
	count, err = svc.BulkCheckIn(ctx, pastEvent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
