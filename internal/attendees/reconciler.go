package attendees

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"ms-membership/internal/attendees/db"
	"ms-membership/internal/logger"
	"ms-membership/internal/models"
)

// Options controls one reconciliation pass.
type Options struct {
	// Clean deletes the event's existing attendees first (after
	// snapshotting them to a backup file) and inserts the full fresh
	// set. Exists to heal ticket-id corruption that additive mode
	// cannot self-correct.
	Clean bool
	// DryRun computes the result without writing anything.
	DryRun bool
	// Events dated strictly before this instant get their new
	// attendees auto-checked-in.
	CheckInCutoff time.Time
	// Where Clean-mode backups are written.
	BackupDir string
}

// Result is the per-event reconciliation accounting.
type Result struct {
	EventID          string `json:"event_id"`
	Incoming         int    `json:"incoming"`
	Inserted         int    `json:"inserted"`
	AlreadyPresent   int    `json:"already_present"`
	BookerBackfilled int    `json:"booker_backfilled"`
	AutoCheckedIn    int    `json:"auto_checked_in"`
	Deleted          int64  `json:"deleted,omitempty"`
	BackupFile       string `json:"backup_file,omitempty"`
	DuplicatesInFeed int    `json:"duplicates_in_feed"`
}

// Reconciler makes the attendees table reflect the extracted ticket
// set for an event without duplicating rows or regressing local edits.
type Reconciler struct {
	DB     *db.DB
	Logger *logger.Logger
}

func NewReconciler(database *db.DB, log *logger.Logger) *Reconciler {
	return &Reconciler{DB: database, Logger: log}
}

// Reconcile runs one event's reconciliation inside a single
// transaction: either every change for the event lands or none do.
func (r *Reconciler) Reconcile(ctx context.Context, event *models.Event, candidates []models.TicketCandidate, opts Options) (*Result, error) {
	result := &Result{EventID: event.ID}

	deduped := dedupeByTicketID(candidates)
	result.Incoming = len(deduped)
	result.DuplicatesInFeed = len(candidates) - len(deduped)
	if result.DuplicatesInFeed > 0 {
		r.Logger.Warn("SYNC", fmt.Sprintf("Event %s: %d duplicate ticket ids in incoming feed", event.ID, result.DuplicatesInFeed))
	}

	autoCheckIn := event.EventDate.Before(opts.CheckInCutoff)

	if opts.DryRun {
		existing, err := r.DB.TicketIDSet(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("load existing ticket ids: %w", err)
		}
		for _, candidate := range deduped {
			if opts.Clean || !existing[candidate.ExternalTicketID] {
				result.Inserted++
				if autoCheckIn {
					result.AutoCheckedIn++
				}
			} else {
				result.AlreadyPresent++
			}
		}
		return result, nil
	}

	err := r.DB.RunInTx(ctx, func(ctx context.Context, tx *db.DB) error {
		if opts.Clean {
			existing, err := tx.GetAttendeesByEvent(ctx, event.ID)
			if err != nil {
				return fmt.Errorf("snapshot existing attendees: %w", err)
			}
			if len(existing) > 0 {
				backupFile, err := writeBackup(opts.BackupDir, event.ID, existing)
				if err != nil {
					return fmt.Errorf("write attendee backup: %w", err)
				}
				result.BackupFile = backupFile

				deleted, err := tx.DeleteAttendeesByEvent(ctx, event.ID)
				if err != nil {
					return fmt.Errorf("delete existing attendees: %w", err)
				}
				result.Deleted = deleted
			}
		}

		existing, err := tx.TicketIDSet(ctx, event.ID)
		if err != nil {
			return fmt.Errorf("load existing ticket ids: %w", err)
		}

		var toInsert []models.Attendee
		now := time.Now().UTC()
		for _, candidate := range deduped {
			if existing[candidate.ExternalTicketID] {
				result.AlreadyPresent++
				// Names and emails may carry manual corrections and are
				// never touched by sync. Booker info is safe to fill in
				// where it is still empty.
				backfilled, err := tx.BackfillBooker(ctx, event.ID, candidate.ExternalTicketID, candidate)
				if err != nil {
					return fmt.Errorf("backfill booker for ticket %s: %w", candidate.ExternalTicketID, err)
				}
				result.BookerBackfilled += int(backfilled)
				if err := tx.BackfillSourceProduct(ctx, event.ID, candidate.ExternalTicketID, candidate.SourceProductID); err != nil {
					return fmt.Errorf("backfill source product for ticket %s: %w", candidate.ExternalTicketID, err)
				}
				continue
			}

			attendee := models.Attendee{
				ID:              uuid.New().String(),
				EventID:         event.ID,
				Email:           candidate.Email,
				FirstName:       candidate.FirstName,
				LastName:        candidate.LastName,
				TicketID:        candidate.ExternalTicketID,
				OrderID:         candidate.OrderID,
				OrderDate:       candidate.OrderDate,
				BookerFirstName: candidate.BookerFirstName,
				BookerLastName:  candidate.BookerLastName,
				BookerEmail:     candidate.BookerEmail,
				TicketIDFromUID: candidate.TicketIDFromUID,
				SourceProductID: candidate.SourceProductID,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if autoCheckIn {
				checkedInAt := event.EventDate
				attendee.CheckedIn = true
				attendee.CheckedInTime = &checkedInAt
				result.AutoCheckedIn++
			}
			toInsert = append(toInsert, attendee)
			existing[candidate.ExternalTicketID] = true
		}

		if err := tx.InsertAttendees(ctx, toInsert); err != nil {
			return fmt.Errorf("insert attendees: %w", err)
		}
		result.Inserted = len(toInsert)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.Logger.LogSync("RECONCILE", event.ID, fmt.Sprintf("%d incoming, %d inserted, %d existing, %d auto-checked-in", result.Incoming, result.Inserted, result.AlreadyPresent, result.AutoCheckedIn))
	return result, nil
}

// dedupeByTicketID keeps the first candidate per ticket id. Repeats in
// one feed happen when the same order shows up on multiple pages.
func dedupeByTicketID(candidates []models.TicketCandidate) []models.TicketCandidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]models.TicketCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		if seen[candidate.ExternalTicketID] {
			continue
		}
		seen[candidate.ExternalTicketID] = true
		out = append(out, candidate)
	}
	return out
}

// writeBackup snapshots rows about to be deleted in Clean mode so a
// bad rebuild can be recovered by hand.
func writeBackup(dir, eventID string, attendees []models.Attendee) (string, error) {
	if dir == "" {
		dir = "backups"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("attendees-%s-%s.json", eventID, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(attendees, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
