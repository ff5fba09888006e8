package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-membership/internal/attendees"
	attendeedb "ms-membership/internal/attendees/db"
	"ms-membership/internal/config"
	"ms-membership/internal/events"
	eventdb "ms-membership/internal/events/db"
	"ms-membership/internal/logger"
	"ms-membership/internal/membership"
	memberdb "ms-membership/internal/membership/db"
	"ms-membership/internal/models"
	"ms-membership/internal/qr"
	"ms-membership/internal/utils"
)

func setupHandler(t *testing.T) (*Handler, *chi.Mux, bun.IDB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Event)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Attendee)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Member)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.SyncLog)(nil)))

	log := logger.NewLogger()
	eventStore := &eventdb.DB{Bun: bunDB}
	attendeeStore := &attendeedb.DB{Bun: bunDB}
	memberStore := &memberdb.DB{Bun: bunDB}

	membershipSvc := membership.NewService(memberStore, nil, nil, membership.DefaultRules(), log)
	attendeeSvc := attendees.NewService(attendeeStore, nil, membershipSvc, log)
	eventSvc := events.NewService(eventStore, nil, config.MergeConfig{}, log)

	handler := &Handler{
		Events:      eventSvc,
		EventDB:     eventStore,
		Attendees:   attendeeSvc,
		AttendeeDB:  attendeeStore,
		Membership:  membershipSvc,
		MemberDB:    memberStore,
		QRGenerator: qr.NewGenerator("test-secret"),
		CheckInURL:  "https://example.org",
		Logger:      log,
	}

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return handler, router, bunDB
}

func seedEventWithAttendee(t *testing.T, bunDB bun.IDB) {
	t.Helper()
	ctx := context.Background()

	event := &models.Event{
		ID:        "ev-1",
		Name:      "Monthly Talk",
		EventDate: time.Date(2024, 5, 10, 19, 0, 0, 0, time.UTC),
		ProductID: 100,
		Status:    models.EventStatusActive,
	}
	_, err := bunDB.NewInsert().Model(event).Exec(ctx)
	require.NoError(t, err)

	attendee := &models.Attendee{
		ID:       "att-1",
		EventID:  "ev-1",
		Email:    "ana@example.com",
		TicketID: "T-1",
	}
	_, err = bunDB.NewInsert().Model(attendee).Exec(ctx)
	require.NoError(t, err)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) utils.APIResponse {
	t.Helper()
	var resp utils.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCheckInEndpoint(t *testing.T) {
	_, router, bunDB := setupHandler(t)
	seedEventWithAttendee(t, bunDB)

	req := httptest.NewRequest(http.MethodPost, "/events/ev-1/attendees/att-1/checkin", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	req = httptest.NewRequest(http.MethodPost, "/events/ev-1/attendees/missing/checkin", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorrectEndpoint(t *testing.T) {
	_, router, bunDB := setupHandler(t)
	seedEventWithAttendee(t, bunDB)

	body, _ := json.Marshal(map[string]string{"email": "fixed@example.com"})
	req := httptest.NewRequest(http.MethodPatch, "/events/ev-1/attendees/att-1/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stored models.Attendee
	err := bunDB.NewSelect().Model(&stored).Where("id = ?", "att-1").Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed@example.com", stored.Email)
	assert.True(t, stored.LocallyModified)
}

func TestMergeEndpointValidation(t *testing.T) {
	_, router, _ := setupHandler(t)

	body, _ := json.Marshal(map[string]interface{}{"survivor_id": "", "absorbed_ids": []string{}})
	req := httptest.NewRequest(http.MethodPost, "/events/merge", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
}

func TestQREndpointReturnsPNG(t *testing.T) {
	_, router, bunDB := setupHandler(t)
	seedEventWithAttendee(t, bunDB)

	req := httptest.NewRequest(http.MethodGet, "/events/ev-1/qr", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, byte(0x89), rec.Body.Bytes()[0])
}

func TestListAttendeesEndpoint(t *testing.T) {
	_, router, bunDB := setupHandler(t)
	seedEventWithAttendee(t, bunDB)

	req := httptest.NewRequest(http.MethodGet, "/events/ev-1/attendees", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
}

func TestSyncLogEndpointEmpty(t *testing.T) {
	_, router, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/members/ana@example.com/synclog", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
