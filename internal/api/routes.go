package api

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the admin API. Auth middleware is applied by
// the caller so tests can mount the routes bare.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Get("/merge-candidates", h.MergeCandidates)
		r.Get("/suspect-merges", h.SuspectMerges)
		r.Post("/merge", h.MergeEvents)

		r.Route("/{eventID}", func(r chi.Router) {
			r.Post("/sync", h.SyncEvent)
			r.Post("/disentangle", h.Disentangle)
			r.Post("/checkin-all", h.BulkCheckIn)
			r.Get("/qr", h.CheckInQR)
			r.Get("/attendees", h.ListAttendees)

			r.Route("/attendees/{attendeeID}", func(r chi.Router) {
				r.Patch("/", h.CorrectAttendee)
				r.Post("/checkin", h.CheckInAttendee)
				r.Delete("/checkin", h.UndoCheckIn)
			})
		})
	})

	r.Route("/members", func(r chi.Router) {
		r.Post("/recalculate", h.RecalculateMembers)
		r.Post("/rebuild", h.RebuildMembers)
		r.Get("/{email}/synclog", h.MemberSyncLog)
	})

	r.Get("/jobs/status", h.JobStatus)
}
