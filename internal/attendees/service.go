package attendees

import (
	"context"
	"fmt"
	"time"

	"ms-membership/internal/attendees/db"
	"ms-membership/internal/logger"
	"ms-membership/internal/membership"
	"ms-membership/internal/models"
)

// CheckInPublisher streams check-in events to downstream consumers.
type CheckInPublisher interface {
	PublishCheckedIn(attendee models.Attendee) error
}

// Recalculator triggers incremental membership recalculation for the
// emails affected by a check-in.
type Recalculator interface {
	RecalculateEmails(ctx context.Context, emails []string) (*membership.Summary, error)
}

// Service handles staff-facing attendee operations: check-in/out,
// manual corrections and bulk check-in for past events.
type Service struct {
	DB         *db.DB
	Publisher  CheckInPublisher
	Membership Recalculator
	Logger     *logger.Logger
}

func NewService(database *db.DB, publisher CheckInPublisher, membership Recalculator, log *logger.Logger) *Service {
	return &Service{DB: database, Publisher: publisher, Membership: membership, Logger: log}
}

// CheckIn marks one attendee checked-in and kicks off the incremental
// membership recalculation for their email.
func (s *Service) CheckIn(ctx context.Context, attendeeID string) (*models.Attendee, error) {
	attendee, err := s.DB.GetAttendeeByID(ctx, attendeeID)
	if err != nil {
		return nil, fmt.Errorf("attendee %s not found: %w", attendeeID, err)
	}
	if attendee.CheckedIn {
		return attendee, nil
	}

	now := time.Now().UTC()
	if err := s.DB.SetCheckedIn(ctx, attendeeID, true, now); err != nil {
		return nil, fmt.Errorf("failed to check in attendee %s: %w", attendeeID, err)
	}
	attendee.CheckedIn = true
	attendee.CheckedInTime = &now

	if s.Publisher != nil {
		if err := s.Publisher.PublishCheckedIn(*attendee); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Publish check-in for %s failed: %v", attendeeID, err))
		}
	}

	if s.Membership != nil {
		if _, err := s.Membership.RecalculateEmails(ctx, []string{attendee.Email}); err != nil {
			s.Logger.Error("MEMBERSHIP", fmt.Sprintf("Recalculate after check-in of %s failed: %v", attendee.Email, err))
		}
	}

	s.Logger.LogSync("CHECKIN", attendee.EventID, fmt.Sprintf("%s checked in", attendee.Email))
	return attendee, nil
}

// UndoCheckIn clears an accidental check-in and recalculates the
// affected member.
func (s *Service) UndoCheckIn(ctx context.Context, attendeeID string) (*models.Attendee, error) {
	attendee, err := s.DB.GetAttendeeByID(ctx, attendeeID)
	if err != nil {
		return nil, fmt.Errorf("attendee %s not found: %w", attendeeID, err)
	}
	if !attendee.CheckedIn {
		return attendee, nil
	}

	if err := s.DB.SetCheckedIn(ctx, attendeeID, false, time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to undo check-in for %s: %w", attendeeID, err)
	}
	attendee.CheckedIn = false
	attendee.CheckedInTime = nil

	if s.Membership != nil {
		if _, err := s.Membership.RecalculateEmails(ctx, []string{attendee.Email}); err != nil {
			s.Logger.Error("MEMBERSHIP", fmt.Sprintf("Recalculate after undo for %s failed: %v", attendee.Email, err))
		}
	}
	return attendee, nil
}

// Correct applies a manual name/email fix. The row is marked locally
// modified so sync passes never claw the correction back.
func (s *Service) Correct(ctx context.Context, attendeeID, email, firstName, lastName string) (*models.Attendee, error) {
	attendee, err := s.DB.GetAttendeeByID(ctx, attendeeID)
	if err != nil {
		return nil, fmt.Errorf("attendee %s not found: %w", attendeeID, err)
	}

	if email == "" {
		email = attendee.Email
	}
	if firstName == "" {
		firstName = attendee.FirstName
	}
	if lastName == "" {
		lastName = attendee.LastName
	}

	if err := s.DB.UpdateNameEmail(ctx, attendeeID, email, firstName, lastName); err != nil {
		return nil, fmt.Errorf("failed to update attendee %s: %w", attendeeID, err)
	}

	attendee.Email = email
	attendee.FirstName = firstName
	attendee.LastName = lastName
	attendee.LocallyModified = true
	return attendee, nil
}

// BulkCheckIn checks in everyone still unchecked for a past event and
// recalculates all affected members.
func (s *Service) BulkCheckIn(ctx context.Context, event *models.Event) (int64, error) {
	if !event.EventDate.Before(time.Now().UTC()) {
		return 0, fmt.Errorf("event %s has not happened yet", event.ID)
	}

	count, err := s.DB.BulkCheckInEvent(ctx, event.ID, event.EventDate)
	if err != nil {
		return 0, fmt.Errorf("bulk check-in for event %s: %w", event.ID, err)
	}

	if s.Membership != nil && count > 0 {
		all, err := s.DB.GetAttendeesByEvent(ctx, event.ID)
		if err != nil {
			return count, fmt.Errorf("load attendees after bulk check-in: %w", err)
		}
		seen := make(map[string]bool, len(all))
		var emails []string
		for _, attendee := range all {
			if attendee.CheckedIn && !seen[attendee.Email] {
				seen[attendee.Email] = true
				emails = append(emails, attendee.Email)
			}
		}
		if _, err := s.Membership.RecalculateEmails(ctx, emails); err != nil {
			s.Logger.Error("MEMBERSHIP", fmt.Sprintf("Recalculate after bulk check-in of %s failed: %v", event.ID, err))
		}
	}

	s.Logger.LogSync("BULK_CHECKIN", event.ID, fmt.Sprintf("%d attendees checked in", count))
	return count, nil
}
