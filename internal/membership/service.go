package membership

import (
	"context"
	"fmt"
	"time"

	"ms-membership/internal/logger"
	"ms-membership/internal/membership/db"
	"ms-membership/internal/models"
)

// Store is the persistence surface the service needs. Implemented by
// membership/db, mocked in tests.
type Store interface {
	GetMemberByEmail(ctx context.Context, email string) (*models.Member, error)
	AllMembers(ctx context.Context) ([]models.Member, error)
	UpsertMember(ctx context.Context, member *models.Member) error
	TruncateDerived(ctx context.Context) (int64, error)
	DistinctCheckedInEmails(ctx context.Context) ([]string, error)
	CheckedInHistory(ctx context.Context, email string) (*db.History, error)
	InsertSyncLog(ctx context.Context, entry *models.SyncLog) error
}

// Mirror pushes list membership to the external email platform.
type Mirror interface {
	AddToActiveList(ctx context.Context, email, firstName, lastName string) error
	RemoveFromActiveList(ctx context.Context, email string) error
}

// StatusPublisher streams activation/deactivation events.
type StatusPublisher interface {
	PublishStatusChanged(email string, active bool) error
}

// Summary of one recalculation run.
type Summary struct {
	Recalculated int `json:"recalculated"`
	Activated    int `json:"activated"`
	Deactivated  int `json:"deactivated"`
	SyncFailures int `json:"sync_failures"`
}

// Service recomputes member rows from attendance and mirrors status
// transitions outward.
type Service struct {
	Store     Store
	Mirror    Mirror
	Publisher StatusPublisher
	Rules     Rules
	Logger    *logger.Logger

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewService(store Store, mirror Mirror, publisher StatusPublisher, rules Rules, log *logger.Logger) *Service {
	return &Service{
		Store:     store,
		Mirror:    mirror,
		Publisher: publisher,
		Rules:     rules,
		Logger:    log,
		Now:       time.Now,
	}
}

// RecalculateEmails recomputes membership for specific emails, used
// after a check-in or an event ending. A mirror sync fires only on a
// status transition.
func (s *Service) RecalculateEmails(ctx context.Context, emails []string) (*Summary, error) {
	summary := &Summary{}
	for _, email := range emails {
		if err := s.recalculateOne(ctx, email, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// RebuildAll drops every derived member row and recomputes from the
// full attendance table. Prior statuses are captured first so mirror
// syncs still fire only for genuine transitions.
func (s *Service) RebuildAll(ctx context.Context) (*Summary, error) {
	prior, err := s.Store.AllMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load prior members: %w", err)
	}
	priorActive := make(map[string]bool, len(prior))
	for _, member := range prior {
		priorActive[member.Email] = member.IsActive
	}

	dropped, err := s.Store.TruncateDerived(ctx)
	if err != nil {
		return nil, fmt.Errorf("truncate derived members: %w", err)
	}
	s.Logger.LogMembership("REBUILD", "-", fmt.Sprintf("dropped %d derived rows", dropped))

	emails, err := s.Store.DistinctCheckedInEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checked-in emails: %w", err)
	}

	summary := &Summary{}
	for _, email := range emails {
		if err := s.recalculateWithPrior(ctx, email, priorActive[email], summary); err != nil {
			return summary, err
		}
	}

	s.Logger.LogMembership("REBUILD", "-", fmt.Sprintf("recalculated %d members (%d activated, %d deactivated)", summary.Recalculated, summary.Activated, summary.Deactivated))
	return summary, nil
}

// Sweep recomputes every existing member. This is the backstop that
// catches members whose activity window lapsed with no new event
// triggering a recalculation.
func (s *Service) Sweep(ctx context.Context) (*Summary, error) {
	members, err := s.Store.AllMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load members for sweep: %w", err)
	}

	summary := &Summary{}
	for _, member := range members {
		if err := s.recalculateOne(ctx, member.Email, summary); err != nil {
			return summary, err
		}
	}

	s.Logger.LogMembership("SWEEP", "-", fmt.Sprintf("%d members swept, %d deactivated", summary.Recalculated, summary.Deactivated))
	return summary, nil
}

func (s *Service) recalculateOne(ctx context.Context, email string, summary *Summary) error {
	existing, err := s.Store.GetMemberByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load member %s: %w", email, err)
	}
	wasActive := existing != nil && existing.IsActive
	return s.recalcAndPersist(ctx, email, existing, wasActive, summary)
}

func (s *Service) recalculateWithPrior(ctx context.Context, email string, wasActive bool, summary *Summary) error {
	existing, err := s.Store.GetMemberByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load member %s: %w", email, err)
	}
	return s.recalcAndPersist(ctx, email, existing, wasActive, summary)
}

func (s *Service) recalcAndPersist(ctx context.Context, email string, existing *models.Member, wasActive bool, summary *Summary) error {
	history, err := s.Store.CheckedInHistory(ctx, email)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", email, err)
	}

	attendance := make([]EventAttendance, 0, len(history.Events))
	for _, event := range history.Events {
		attendance = append(attendance, EventAttendance{EventName: event.Name, EventDate: event.Date})
	}

	var override *ManualOverride
	if existing != nil && existing.ManuallyAdded && existing.ManualExpiresAt != nil {
		override = &ManualOverride{ExpiresAt: *existing.ManualExpiresAt}
	}

	result := s.Rules.Calculate(attendance, s.Now().UTC(), override)

	member := &models.Member{
		Email:                 email,
		FirstName:             history.FirstName,
		LastName:              history.LastName,
		IsActive:              result.IsActive,
		TotalQualifyingEvents: result.TotalQualifyingEvents,
		LastQualifyingEvent:   result.LastQualifyingEvent,
		MembershipExpiresAt:   result.MembershipExpiresAt,
	}
	if existing != nil {
		member.ManuallyAdded = existing.ManuallyAdded
		member.ManualExpiresAt = existing.ManualExpiresAt
		if member.FirstName == "" {
			member.FirstName = existing.FirstName
		}
		if member.LastName == "" {
			member.LastName = existing.LastName
		}
	}

	if err := s.Store.UpsertMember(ctx, member); err != nil {
		return fmt.Errorf("upsert member %s: %w", email, err)
	}
	summary.Recalculated++

	if result.IsActive == wasActive {
		return nil
	}

	if result.IsActive {
		summary.Activated++
	} else {
		summary.Deactivated++
	}
	s.syncMirror(ctx, member, summary)

	if s.Publisher != nil {
		if err := s.Publisher.PublishStatusChanged(email, result.IsActive); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Publish status change for %s failed: %v", email, err))
		}
	}
	return nil
}

// syncMirror performs the external list update and records the attempt
// in the sync log. Mirror failures are data, not run failures.
func (s *Service) syncMirror(ctx context.Context, member *models.Member, summary *Summary) {
	if s.Mirror == nil {
		return
	}

	entry := &models.SyncLog{Email: member.Email, Outcome: models.SyncOutcomeOK}
	var err error
	if member.IsActive {
		entry.Operation = models.SyncOpAdd
		err = s.Mirror.AddToActiveList(ctx, member.Email, member.FirstName, member.LastName)
	} else {
		entry.Operation = models.SyncOpRemove
		err = s.Mirror.RemoveFromActiveList(ctx, member.Email)
	}
	if err != nil {
		entry.Outcome = models.SyncOutcomeFailed
		entry.Error = err.Error()
		summary.SyncFailures++
		s.Logger.Error("LOOPS", fmt.Sprintf("Mirror %s for %s failed: %v", entry.Operation, member.Email, err))
	} else {
		s.Logger.LogMembership("MIRROR", member.Email, fmt.Sprintf("%s ok", entry.Operation))
	}

	if logErr := s.Store.InsertSyncLog(ctx, entry); logErr != nil {
		s.Logger.Error("DATABASE", fmt.Sprintf("Append sync log for %s failed: %v", member.Email, logErr))
	}
}
