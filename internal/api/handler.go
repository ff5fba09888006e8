package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-membership/internal/attendees"
	attendeedb "ms-membership/internal/attendees/db"
	"ms-membership/internal/events"
	eventdb "ms-membership/internal/events/db"
	"ms-membership/internal/jobs"
	"ms-membership/internal/logger"
	"ms-membership/internal/membership"
	memberdb "ms-membership/internal/membership/db"
	"ms-membership/internal/qr"
	"ms-membership/internal/syncer"
	"ms-membership/internal/utils"
)

// Handler is the thin admin HTTP surface over the sync/merge/membership
// services. All writing routes sit behind the staff JWT middleware.
type Handler struct {
	Events      *events.Service
	EventDB     *eventdb.DB
	Attendees   *attendees.Service
	AttendeeDB  *attendeedb.DB
	Membership  *membership.Service
	MemberDB    *memberdb.DB
	Syncer      *syncer.Syncer
	SyncOptions attendees.Options
	QRGenerator *qr.Generator
	RunLock     *jobs.RunLock
	CheckInURL  string
	Logger      *logger.Logger
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// CheckInAttendee handles POST /events/{eventID}/attendees/{attendeeID}/checkin
func (h *Handler) CheckInAttendee(w http.ResponseWriter, r *http.Request) {
	attendeeID := chi.URLParam(r, "attendeeID")

	attendee, err := h.Attendees.CheckIn(r.Context(), attendeeID)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("check-in failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("attendee checked in", attendee))
}

// UndoCheckIn handles DELETE /events/{eventID}/attendees/{attendeeID}/checkin
func (h *Handler) UndoCheckIn(w http.ResponseWriter, r *http.Request) {
	attendeeID := chi.URLParam(r, "attendeeID")

	attendee, err := h.Attendees.UndoCheckIn(r.Context(), attendeeID)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("undo check-in failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("check-in undone", attendee))
}

// CorrectAttendee handles PATCH /events/{eventID}/attendees/{attendeeID}
// The correction is marked locally modified so sync never reverts it.
func (h *Handler) CorrectAttendee(w http.ResponseWriter, r *http.Request) {
	attendeeID := chi.URLParam(r, "attendeeID")

	var body struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}

	attendee, err := h.Attendees.Correct(r.Context(), attendeeID, body.Email, body.FirstName, body.LastName)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("correction failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("attendee corrected", attendee))
}

// ListAttendees handles GET /events/{eventID}/attendees
func (h *Handler) ListAttendees(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	list, err := h.AttendeeDB.GetAttendeesByEvent(r.Context(), eventID)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("failed to list attendees", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("attendees", list))
}

// BulkCheckIn handles POST /events/{eventID}/checkin-all
func (h *Handler) BulkCheckIn(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	event, err := h.EventDB.GetEventByID(r.Context(), eventID)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("event not found", err.Error()))
		return
	}

	count, err := h.Attendees.BulkCheckIn(r.Context(), event)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("bulk check-in failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("bulk check-in complete", map[string]int64{"checked_in": count}))
}

// CheckInQR handles GET /events/{eventID}/qr and returns the PNG
// poster for the event's check-in page.
func (h *Handler) CheckInQR(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	if _, err := h.EventDB.GetEventByID(r.Context(), eventID); err != nil {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("event not found", err.Error()))
		return
	}

	png, err := h.QRGenerator.GenerateCheckInQR(h.CheckInURL, eventID)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("QR generation failed", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// SyncEvent handles POST /events/{eventID}/sync and runs one
// fetch-extract-reconcile pass for the event on demand.
func (h *Handler) SyncEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	event, err := h.EventDB.GetEventByID(r.Context(), eventID)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("event not found", err.Error()))
		return
	}

	report, err := h.Syncer.SyncEvent(r.Context(), event, h.SyncOptions)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("sync failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("event synced", report))
}

// MergeCandidates handles GET /events/merge-candidates
func (h *Handler) MergeCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.Events.FindMergeCandidates(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("candidate detection failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("merge candidates", candidates))
}

// MergeEvents handles POST /events/merge
func (h *Handler) MergeEvents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SurvivorID  string   `json:"survivor_id"`
		AbsorbedIDs []string `json:"absorbed_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	if body.SurvivorID == "" || len(body.AbsorbedIDs) == 0 {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("survivor_id and absorbed_ids are required", ""))
		return
	}

	report, err := h.Events.MergeEvents(r.Context(), body.SurvivorID, body.AbsorbedIDs)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, events.ErrNotMergeable) {
			status = http.StatusConflict
		}
		h.writeJSON(w, status, utils.ErrorResponse("merge failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("events merged", report))
}

// Disentangle handles POST /events/{eventID}/disentangle
func (h *Handler) Disentangle(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	report, err := h.Events.Disentangle(r.Context(), eventID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, events.ErrNoSourceTracking) {
			status = http.StatusConflict
		}
		h.writeJSON(w, status, utils.ErrorResponse("disentangle failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("event disentangled", report))
}

// SuspectMerges handles GET /events/suspect-merges
func (h *Handler) SuspectMerges(w http.ResponseWriter, r *http.Request) {
	suspects, err := h.Events.FindSuspectMerges(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("detection failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("suspect merges", suspects))
}

// RecalculateMembers handles POST /members/recalculate
func (h *Handler) RecalculateMembers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emails []string `json:"emails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}
	if len(body.Emails) == 0 {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("emails are required", ""))
		return
	}

	summary, err := h.Membership.RecalculateEmails(r.Context(), body.Emails)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("recalculation failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("members recalculated", summary))
}

// RebuildMembers handles POST /members/rebuild
func (h *Handler) RebuildMembers(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Membership.RebuildAll(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("rebuild failed", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("members rebuilt", summary))
}

// MemberSyncLog handles GET /members/{email}/synclog
func (h *Handler) MemberSyncLog(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	logs, err := h.MemberDB.SyncLogsByEmail(r.Context(), email, limit)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("failed to load sync log", err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("sync log", logs))
}

// JobStatus handles GET /jobs/status and serves the latest cached run
// summary without doing any work.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobName := r.URL.Query().Get("job")
	if jobName == "" {
		jobName = "backfill"
	}

	data, err := h.RunLock.LatestSummary(r.Context(), jobName)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("failed to load job summary", err.Error()))
		return
	}
	if data == nil {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("no summary recorded for job "+jobName, ""))
		return
	}

	var summary json.RawMessage = data
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("job summary", summary))
}
