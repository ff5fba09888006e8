package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-membership/internal/config"
	"ms-membership/internal/events/db"
	"ms-membership/internal/logger"
	"ms-membership/internal/models"
)

var (
	// ErrNoSourceTracking means an event's attendees don't carry at
	// least two distinct source product ids, so a split would be a
	// guess. The operation declines instead.
	ErrNoSourceTracking = errors.New("attendees have no usable source product tracking")

	ErrNotMergeable = errors.New("events cannot be merged")
)

// ProductFetcher supplies current product listings, used to recover
// clean names when splitting a bad merge.
type ProductFetcher interface {
	FetchProduct(ctx context.Context, productID int64) (*models.WooProduct, error)
}

// Service owns the Event table: discovery, merging and disentangling.
type Service struct {
	DB       *db.DB
	Products ProductFetcher
	Config   config.MergeConfig
	Logger   *logger.Logger
}

func NewService(database *db.DB, products ProductFetcher, cfg config.MergeConfig, log *logger.Logger) *Service {
	return &Service{DB: database, Products: products, Config: cfg, Logger: log}
}

// ---------------- DISCOVERY ----------------

// DiscoverEvents creates one event per qualifying product not yet
// mapped, and refreshes name/date for products already mapped. With
// dryRun the qualifying products are counted but nothing is written.
func (s *Service) DiscoverEvents(ctx context.Context, products []models.WooProduct, dryRun bool) (int, error) {
	discovered := 0
	for _, product := range products {
		if product.Status != "publish" || product.EventDate.IsZero() {
			continue
		}
		if dryRun {
			discovered++
			continue
		}
		event := &models.Event{
			ID:          uuid.New().String(),
			Name:        product.Name,
			EventDate:   product.EventDate.Time,
			ProductID:   product.ID,
			MembersOnly: s.matchesAny(product.Name, s.Config.MembersOnlyPatterns),
		}
		if err := s.DB.UpsertDiscovered(ctx, event); err != nil {
			return discovered, fmt.Errorf("discover product %d: %w", product.ID, err)
		}
		discovered++
	}
	s.Logger.LogMerge("DISCOVER", "-", fmt.Sprintf("%d products mapped to events", discovered))
	return discovered, nil
}

// ---------------- MERGE DETECTION ----------------

// MergeCandidate is a group of non-merged events sharing a date and a
// normalized name prefix, believed to be one real-world occurrence.
type MergeCandidate struct {
	Date            time.Time      `json:"date"`
	Events          []models.Event `json:"events"`
	MembersOnlyPair bool           `json:"members_only_pair"`
}

// FindMergeCandidates groups active events by (day, name prefix) and
// returns groups with more than one member, skipping groups whose name
// matches the never-merge allow-list of recurring series.
func (s *Service) FindMergeCandidates(ctx context.Context) ([]MergeCandidate, error) {
	active, err := s.DB.ActiveEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active events: %w", err)
	}

	type groupKey struct {
		day    string
		prefix string
	}
	groups := make(map[groupKey][]models.Event)
	for _, event := range active {
		key := groupKey{
			day:    event.EventDate.UTC().Format("2006-01-02"),
			prefix: s.normalizedPrefix(event.Name),
		}
		groups[key] = append(groups[key], event)
	}

	var candidates []MergeCandidate
	for key, group := range groups {
		if len(group) < 2 {
			continue
		}
		if s.isNeverMerge(group) {
			s.Logger.LogMerge("SKIP", key.prefix, "matches never-merge series pattern")
			continue
		}

		membersPair := false
		for _, event := range group {
			if event.MembersOnly {
				membersPair = true
			}
		}

		day, _ := time.Parse("2006-01-02", key.day)
		candidates = append(candidates, MergeCandidate{
			Date:            day,
			Events:          group,
			MembersOnlyPair: membersPair,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Date.Before(candidates[j].Date)
	})
	return candidates, nil
}

// isNeverMerge reports whether any event in the group names a
// recurring series whose occurrences are legitimately similar.
func (s *Service) isNeverMerge(group []models.Event) bool {
	for _, event := range group {
		if s.matchesAny(event.Name, s.Config.NeverMergePatterns) {
			return true
		}
	}
	return false
}

func (s *Service) matchesAny(name string, patterns []string) bool {
	lowered := strings.ToLower(name)
	for _, pattern := range patterns {
		if strings.Contains(lowered, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// normalizedPrefix folds a name down to a comparable prefix:
// lowercase, members-only markers stripped, non-alphanumerics dropped.
func (s *Service) normalizedPrefix(name string) string {
	lowered := strings.ToLower(name)
	for _, pattern := range s.Config.MembersOnlyPatterns {
		lowered = strings.ReplaceAll(lowered, strings.ToLower(pattern), "")
	}

	var b strings.Builder
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	folded := b.String()

	limit := s.Config.NamePrefixLength
	if limit <= 0 {
		limit = 12
	}
	if len(folded) > limit {
		return folded[:limit]
	}
	return folded
}

// ---------------- MERGE EXECUTION ----------------

// MergeReport is the before/after accounting for one merge, enough to
// verify the operation by hand.
type MergeReport struct {
	SurvivorID        string         `json:"survivor_id"`
	AbsorbedIDs       []string       `json:"absorbed_ids"`
	AttendeesBefore   map[string]int `json:"attendees_before"`
	AttendeesRepointd int64          `json:"attendees_repointed"`
	SurvivorAfter     int            `json:"survivor_attendees_after"`
	MergedProductIDs  []int64        `json:"merged_product_ids"`
}

// ChooseSurvivor picks the surviving event for a candidate group:
// non-members-only first, then most attendees, then lowest product id
// so the choice is deterministic.
func (s *Service) ChooseSurvivor(ctx context.Context, group []models.Event) (models.Event, []models.Event, error) {
	if len(group) < 2 {
		return models.Event{}, nil, ErrNotMergeable
	}

	counts := make(map[string]int, len(group))
	for _, event := range group {
		count, err := s.DB.CountAttendees(ctx, event.ID)
		if err != nil {
			return models.Event{}, nil, err
		}
		counts[event.ID] = count
	}

	sorted := make([]models.Event, len(group))
	copy(sorted, group)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.MembersOnly != b.MembersOnly {
			return !a.MembersOnly
		}
		if counts[a.ID] != counts[b.ID] {
			return counts[a.ID] > counts[b.ID]
		}
		return a.ProductID < b.ProductID
	})

	return sorted[0], sorted[1:], nil
}

// MergeEvents absorbs the given events into the survivor in one
// transaction: source product ids are backfilled first so the merge
// stays reversible, attendees are re-pointed, the absorbed product ids
// are recorded on the survivor, and the absorbed rows are redirected
// rather than deleted.
func (s *Service) MergeEvents(ctx context.Context, survivorID string, absorbedIDs []string) (*MergeReport, error) {
	report := &MergeReport{
		SurvivorID:      survivorID,
		AbsorbedIDs:     absorbedIDs,
		AttendeesBefore: make(map[string]int),
	}

	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx *db.DB) error {
		survivor, err := tx.GetEventByID(ctx, survivorID)
		if err != nil {
			return fmt.Errorf("load survivor %s: %w", survivorID, err)
		}
		if survivor.IsMerged() {
			return fmt.Errorf("%w: survivor %s is already merged", ErrNotMergeable, survivorID)
		}

		before, err := tx.CountAttendees(ctx, survivorID)
		if err != nil {
			return err
		}
		report.AttendeesBefore[survivorID] = before

		if _, err := tx.BackfillSourceProduct(ctx, survivorID, survivor.ProductID); err != nil {
			return fmt.Errorf("backfill survivor source products: %w", err)
		}

		mergedProducts := append([]int64{}, survivor.MergedProductIDs...)
		seen := make(map[int64]bool, len(mergedProducts))
		for _, id := range mergedProducts {
			seen[id] = true
		}

		for _, absorbedID := range absorbedIDs {
			if absorbedID == survivorID {
				return fmt.Errorf("%w: event cannot absorb itself", ErrNotMergeable)
			}
			absorbed, err := tx.GetEventByID(ctx, absorbedID)
			if err != nil {
				return fmt.Errorf("load absorbed %s: %w", absorbedID, err)
			}
			if absorbed.IsMerged() {
				return fmt.Errorf("%w: %s is already merged into %s", ErrNotMergeable, absorbedID, absorbed.MergedIntoEventID)
			}

			count, err := tx.CountAttendees(ctx, absorbedID)
			if err != nil {
				return err
			}
			report.AttendeesBefore[absorbedID] = count

			if _, err := tx.BackfillSourceProduct(ctx, absorbedID, absorbed.ProductID); err != nil {
				return fmt.Errorf("backfill absorbed source products: %w", err)
			}

			moved, err := tx.RepointAttendees(ctx, absorbedID, survivorID)
			if err != nil {
				return fmt.Errorf("repoint attendees of %s: %w", absorbedID, err)
			}
			report.AttendeesRepointd += moved

			if !seen[absorbed.ProductID] {
				mergedProducts = append(mergedProducts, absorbed.ProductID)
				seen[absorbed.ProductID] = true
			}
			for _, id := range absorbed.MergedProductIDs {
				if !seen[id] {
					mergedProducts = append(mergedProducts, id)
					seen[id] = true
				}
			}

			if err := tx.MarkMerged(ctx, absorbedID, survivorID); err != nil {
				return fmt.Errorf("mark %s merged: %w", absorbedID, err)
			}
		}

		if err := tx.SetMergedProducts(ctx, survivorID, mergedProducts); err != nil {
			return fmt.Errorf("record merged products on survivor: %w", err)
		}
		report.MergedProductIDs = mergedProducts

		after, err := tx.CountAttendees(ctx, survivorID)
		if err != nil {
			return err
		}
		report.SurvivorAfter = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogMerge("MERGE", survivorID, fmt.Sprintf("absorbed %d events, repointed %d attendees", len(absorbedIDs), report.AttendeesRepointd))
	return report, nil
}

// ---------------- DISENTANGLEMENT ----------------

// SplitGroup describes one event produced by a disentanglement.
type SplitGroup struct {
	EventID   string `json:"event_id"`
	Name      string `json:"name"`
	ProductID int64  `json:"product_id"`
	Attendees int    `json:"attendees"`
	Kept      bool   `json:"kept"`
}

type SplitReport struct {
	EventID         string       `json:"event_id"`
	AttendeesBefore int          `json:"attendees_before"`
	Groups          []SplitGroup `json:"groups"`
	Untracked       int          `json:"untracked_attendees"`
}

// Disentangle reverses a bad merge: attendees are partitioned by their
// recorded source product id, the largest group keeps the original
// event, and each remaining group is split into a new event named from
// the platform's current product listing. A per-product name lookup
// failure keeps the best available name and proceeds.
func (s *Service) Disentangle(ctx context.Context, eventID string) (*SplitReport, error) {
	event, err := s.DB.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}

	groups, err := s.DB.SourceProductGroups(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("group attendees by source: %w", err)
	}

	untracked := groups[0]
	delete(groups, 0)
	if len(groups) < 2 {
		return nil, fmt.Errorf("event %s: %w (%d tracked groups, %d untracked attendees)", eventID, ErrNoSourceTracking, len(groups), untracked)
	}

	// Largest group keeps the original event id; ties break on lowest
	// product id so repeated runs agree.
	productIDs := make([]int64, 0, len(groups))
	for id := range groups {
		productIDs = append(productIDs, id)
	}
	sort.Slice(productIDs, func(i, j int) bool {
		if groups[productIDs[i]] != groups[productIDs[j]] {
			return groups[productIDs[i]] > groups[productIDs[j]]
		}
		return productIDs[i] < productIDs[j]
	})
	keepProduct := productIDs[0]

	report := &SplitReport{EventID: eventID, Untracked: untracked}
	for _, count := range groups {
		report.AttendeesBefore += count
	}
	report.AttendeesBefore += untracked

	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx *db.DB) error {
		keepName := s.cleanName(ctx, keepProduct, event.Name)
		if err := tx.UpdateNameAndDate(ctx, eventID, keepName, event.EventDate); err != nil {
			return fmt.Errorf("correct kept event name: %w", err)
		}
		// The kept event answers for its largest group's product from
		// now on. Reassigning before the split loop frees the old
		// primary id for the split event that takes its attendees.
		if err := tx.SetPrimaryProduct(ctx, eventID, keepProduct); err != nil {
			return fmt.Errorf("reassign kept event product: %w", err)
		}
		if err := tx.SetMergedProducts(ctx, eventID, nil); err != nil {
			return fmt.Errorf("clear merged products on kept event: %w", err)
		}
		report.Groups = append(report.Groups, SplitGroup{
			EventID:   eventID,
			Name:      keepName,
			ProductID: keepProduct,
			Attendees: groups[keepProduct] + untracked,
			Kept:      true,
		})

		for _, productID := range productIDs[1:] {
			name := s.cleanName(ctx, productID, fmt.Sprintf("%s (split %d)", event.Name, productID))
			split := &models.Event{
				ID:        uuid.New().String(),
				Name:      name,
				EventDate: event.EventDate,
				ProductID: productID,
				Status:    models.EventStatusActive,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			if err := tx.InsertEvent(ctx, split); err != nil {
				return fmt.Errorf("create split event for product %d: %w", productID, err)
			}

			moved, err := tx.RepointAttendeesBySource(ctx, eventID, split.ID, productID)
			if err != nil {
				return fmt.Errorf("repoint group %d: %w", productID, err)
			}
			report.Groups = append(report.Groups, SplitGroup{
				EventID:   split.ID,
				Name:      name,
				ProductID: productID,
				Attendees: int(moved),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogMerge("SPLIT", eventID, fmt.Sprintf("split into %d events (%d untracked attendees kept)", len(report.Groups), untracked))
	return report, nil
}

// cleanName fetches the product's current name, falling back to the
// given name when the lookup fails.
func (s *Service) cleanName(ctx context.Context, productID int64, fallback string) string {
	if s.Products == nil {
		return fallback
	}
	product, err := s.Products.FetchProduct(ctx, productID)
	if err != nil || product == nil || product.Name == "" {
		s.Logger.Warn("MERGE", fmt.Sprintf("Could not fetch clean name for product %d, keeping %q: %v", productID, fallback, err))
		return fallback
	}
	return product.Name
}

// ---------------- BAD-MERGE DETECTION ----------------

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// LooksLikeBadMerge flags event names showing merge corruption:
// repeated weekday tokens, "(Copy)" fragments, or an "X and Y"
// two-subject shape. Titles that merely contain "and" are not flagged.
func LooksLikeBadMerge(name string) bool {
	lowered := strings.ToLower(name)

	if strings.Contains(lowered, "(copy)") {
		return true
	}

	tokens := strings.Fields(lowered)
	dayCounts := make(map[string]int)
	for _, token := range tokens {
		trimmed := strings.Trim(token, ".,:;!?()")
		for _, day := range weekdays {
			if trimmed == day {
				dayCounts[day]++
			}
		}
	}
	for _, count := range dayCounts {
		if count > 1 {
			return true
		}
	}

	return looksLikeTwoSubjects(lowered)
}

// looksLikeTwoSubjects detects "X and Y" names where both halves read
// like independent titles: multiple words each, no shared vocabulary.
func looksLikeTwoSubjects(lowered string) bool {
	parts := strings.Split(lowered, " and ")
	if len(parts) != 2 {
		return false
	}

	left := strings.Fields(parts[0])
	right := strings.Fields(parts[1])
	if len(left) < 2 || len(right) < 2 {
		return false
	}

	shared := make(map[string]bool, len(left))
	for _, word := range left {
		shared[word] = true
	}
	for _, word := range right {
		if shared[word] {
			return false
		}
	}
	return true
}

// FindSuspectMerges returns active events whose names look like merge
// corruption, for review before a disentangle is run.
func (s *Service) FindSuspectMerges(ctx context.Context) ([]models.Event, error) {
	active, err := s.DB.ActiveEvents(ctx)
	if err != nil {
		return nil, err
	}
	var suspects []models.Event
	for _, event := range active {
		if LooksLikeBadMerge(event.Name) {
			suspects = append(suspects, event)
		}
	}
	return suspects, nil
}
