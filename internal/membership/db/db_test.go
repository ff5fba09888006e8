package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-membership/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Member)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Attendee)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Event)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.SyncLog)(nil)))

	return &DB{Bun: bunDB}
}

func TestUpsertMemberPreservesManualFields(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	manualExpiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := &models.Member{
		Email:           "ana@example.com",
		ManuallyAdded:   true,
		ManualExpiresAt: &manualExpiry,
	}
	require.NoError(t, database.UpsertMember(ctx, seed))

	// A derived recalculation never writes the manual columns.
	derived := &models.Member{
		Email:                 "ana@example.com",
		FirstName:             "Ana",
		IsActive:              true,
		TotalQualifyingEvents: 4,
	}
	require.NoError(t, database.UpsertMember(ctx, derived))

	stored, err := database.GetMemberByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsActive)
	assert.Equal(t, "Ana", stored.FirstName)
	assert.True(t, stored.ManuallyAdded)
	require.NotNil(t, stored.ManualExpiresAt)
	assert.Equal(t, manualExpiry.Unix(), stored.ManualExpiresAt.Unix())
}

func TestGetMemberByEmailMissingIsNil(t *testing.T) {
	database := setupTestDB(t)

	member, err := database.GetMemberByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, member)
}

func TestTruncateDerivedKeepsManualRows(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.UpsertMember(ctx, &models.Member{Email: "derived@example.com"}))
	require.NoError(t, database.UpsertMember(ctx, &models.Member{Email: "manual@example.com", ManuallyAdded: true}))

	dropped, err := database.TruncateDerived(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dropped)

	remaining, err := database.AllMembers(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "manual@example.com", remaining[0].Email)
}

func TestCheckedInHistoryJoinsEvents(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	events := []models.Event{
		{ID: "ev-1", Name: "Talk One", EventDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), ProductID: 1, Status: models.EventStatusActive},
		{ID: "ev-2", Name: "Talk Two", EventDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), ProductID: 2, Status: models.EventStatusActive},
	}
	_, err := database.Bun.NewInsert().Model(&events).Exec(ctx)
	require.NoError(t, err)

	attendees := []models.Attendee{
		{ID: "a1", EventID: "ev-1", Email: "ana@example.com", TicketID: "T-1", CheckedIn: true, FirstName: "Ana"},
		{ID: "a2", EventID: "ev-2", Email: "ana@example.com", TicketID: "T-2", CheckedIn: true, LastName: "Petrova"},
		// A booked-but-absent row contributes nothing to history.
		{ID: "a3", EventID: "ev-2", Email: "ana@example.com", TicketID: "T-3", CheckedIn: false},
	}
	_, err = database.Bun.NewInsert().Model(&attendees).Exec(ctx)
	require.NoError(t, err)

	history, err := database.CheckedInHistory(ctx, "ana@example.com")
	require.NoError(t, err)
	require.Len(t, history.Events, 2)
	assert.Equal(t, "Talk One", history.Events[0].Name)
	assert.Equal(t, "Talk Two", history.Events[1].Name)
	assert.Equal(t, "Ana", history.FirstName)
	assert.Equal(t, "Petrova", history.LastName)

	emails, err := database.DistinctCheckedInEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com"}, emails)
}

func TestSyncLogAppendAndQuery(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.InsertSyncLog(ctx, &models.SyncLog{
		Email:     "ana@example.com",
		Operation: models.SyncOpAdd,
		Outcome:   models.SyncOutcomeOK,
	}))
	require.NoError(t, database.InsertSyncLog(ctx, &models.SyncLog{
		Email:     "ana@example.com",
		Operation: models.SyncOpRemove,
		Outcome:   models.SyncOutcomeFailed,
		Error:     "mirror down",
	}))

	logs, err := database.SyncLogsByEmail(ctx, "ana@example.com", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	logs, err = database.SyncLogsByEmail(ctx, "other@example.com", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
