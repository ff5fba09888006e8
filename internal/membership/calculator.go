package membership

import (
	"strings"
	"time"
)

// EventAttendance is one checked-in event in a person's history.
type EventAttendance struct {
	EventName string
	EventDate time.Time
}

// ManualOverride carries a manually granted expiry. It can extend an
// earned expiry but never shorten it.
type ManualOverride struct {
	ExpiresAt time.Time
}

// Result of one membership calculation.
type Result struct {
	TotalQualifyingEvents int
	LastQualifyingEvent   *time.Time
	IsActive              bool
	MembershipExpiresAt   *time.Time
}

// Rules holds the membership policy knobs. The zero value is unusable;
// construct with DefaultRules or from config.
type Rules struct {
	// Checked-in qualifying events needed for active status.
	ActiveThreshold int
	// Trailing activity window and expiry horizon, in months.
	WindowMonths int
	// Keywords marking an event social (non-qualifying), matched as
	// whole words.
	SocialKeywords []string
	// A season word together with "celebration" also marks an event
	// social ("Summer Celebration").
	SeasonWords []string
}

func DefaultRules() Rules {
	return Rules{
		ActiveThreshold: 3,
		WindowMonths:    9,
		SocialKeywords:  []string{"walk", "party", "drinks", "social"},
		SeasonWords:     []string{"summer", "winter", "spring", "autumn"},
	}
}

// IsSocialEvent is the single canonical social-event predicate; every
// membership computation goes through it.
func (r Rules) IsSocialEvent(name string) bool {
	tokens := tokenize(name)

	for _, keyword := range r.SocialKeywords {
		if tokens[strings.ToLower(keyword)] {
			return true
		}
	}

	if tokens["celebration"] {
		for _, season := range r.SeasonWords {
			if tokens[strings.ToLower(season)] {
				return true
			}
		}
	}
	return false
}

// Calculate derives a person's membership from their full checked-in
// attendance history. Pure: given the same history, now and override it
// always returns the same result, with no database involved.
func (r Rules) Calculate(history []EventAttendance, now time.Time, override *ManualOverride) Result {
	var result Result
	var last time.Time

	for _, attendance := range history {
		if r.IsSocialEvent(attendance.EventName) {
			continue
		}
		result.TotalQualifyingEvents++
		if attendance.EventDate.After(last) {
			last = attendance.EventDate
		}
	}

	if result.TotalQualifyingEvents > 0 {
		lastCopy := last
		result.LastQualifyingEvent = &lastCopy

		expiry := last.AddDate(0, r.WindowMonths, 0)
		result.MembershipExpiresAt = &expiry

		windowStart := now.AddDate(0, -r.WindowMonths, 0)
		result.IsActive = result.TotalQualifyingEvents >= r.ActiveThreshold &&
			!last.Before(windowStart)
	}

	if override != nil && !override.ExpiresAt.IsZero() {
		if result.MembershipExpiresAt == nil || override.ExpiresAt.After(*result.MembershipExpiresAt) {
			expiry := override.ExpiresAt
			result.MembershipExpiresAt = &expiry
		}
		// A manual grant keeps a member active until it lapses, even
		// with no earned attendance.
		if !result.IsActive && result.MembershipExpiresAt.After(now) && override.ExpiresAt.After(now) {
			result.IsActive = true
		}
	}

	return result
}

func tokenize(name string) map[string]bool {
	tokens := make(map[string]bool)
	var current strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			tokens[current.String()] = true
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens[current.String()] = true
	}
	return tokens
}
