package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"ms-membership/internal/logger"
	"ms-membership/internal/models"
)

// Stats summarizes one extraction pass. Skips are expected data-quality
// events, not errors, but they must stay visible in telemetry.
type Stats struct {
	Extracted        int `json:"extracted"`
	SkippedNoEmail   int `json:"skipped_no_email"`
	UIDFallbacks     int `json:"uid_fallbacks"`
	UnrecognizedMeta int `json:"unrecognized_meta"`
	DiscardedEmails  int `json:"discarded_emails"`
}

func (s *Stats) Add(other Stats) {
	s.Extracted += other.Extracted
	s.SkippedNoEmail += other.SkippedNoEmail
	s.UIDFallbacks += other.UIDFallbacks
	s.UnrecognizedMeta += other.UnrecognizedMeta
	s.DiscardedEmails += other.DiscardedEmails
}

// FieldResult is the tagged outcome of scanning one attendee field set.
// An entry with no resolvable email is Unrecognized: it cannot be
// attributed to a person and is skipped rather than guessed at.
type FieldResult struct {
	Recognized bool
	Email      string
	FirstName  string
	LastName   string
	// Additional "@" values beyond the first, dropped by policy.
	ExtraEmails int
	// Why the entry was not recognized.
	Reason string
}

type Extractor struct {
	Logger *logger.Logger
}

func New(log *logger.Logger) *Extractor {
	return &Extractor{Logger: log}
}

// ParseAttendeeFields scans an entry's ordered field list: the first
// value containing "@" becomes the email (case-folded), the first other
// non-empty value the first name, the second the last name.
func ParseAttendeeFields(fields []models.WooTicketField) FieldResult {
	var result FieldResult
	for _, field := range fields {
		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}
		if strings.Contains(value, "@") {
			if result.Email == "" {
				result.Email = strings.ToLower(value)
			} else {
				result.ExtraEmails++
			}
			continue
		}
		if result.FirstName == "" {
			result.FirstName = value
		} else if result.LastName == "" {
			result.LastName = value
		}
	}

	if result.Email == "" {
		result.Reason = "no email value in field set"
		return result
	}
	result.Recognized = true
	return result
}

// ExtractTickets turns one raw order into normalized ticket candidates
// for the line items matching productIDs (variations included).
func (x *Extractor) ExtractTickets(order models.WooOrder, productIDs map[int64]bool) ([]models.TicketCandidate, Stats) {
	var candidates []models.TicketCandidate
	var stats Stats

	orderID := strconv.FormatInt(order.ID, 10)

	for _, item := range order.LineItems {
		if !productIDs[item.ProductID] && !productIDs[item.VariationID] {
			continue
		}

		entries, ticketIDs, ok := decodeTicketMeta(item.MetaData)
		if !ok {
			stats.UnrecognizedMeta++
			x.Logger.Warn("EXTRACT", fmt.Sprintf("Order %s line item %d (product %d) has no recognized ticket metadata", orderID, item.ID, item.ProductID))
			continue
		}

		for _, entry := range entries {
			parsed := ParseAttendeeFields(entry.Fields)
			stats.DiscardedEmails += parsed.ExtraEmails
			if !parsed.Recognized {
				stats.SkippedNoEmail++
				x.Logger.Warn("EXTRACT", fmt.Sprintf("Order %s entry %s skipped: %s", orderID, entry.UID, parsed.Reason))
				continue
			}

			ticketID, fromUID := resolveTicketID(entry.UID, ticketIDs)
			if fromUID {
				stats.UIDFallbacks++
				// uid and ticket id live in different identifier spaces;
				// a fallback row is a latent false-duplicate risk.
				x.Logger.Warn("EXTRACT", fmt.Sprintf("Order %s entry %s: no canonical ticket id, falling back to uid", orderID, entry.UID))
			}

			candidates = append(candidates, models.TicketCandidate{
				ExternalTicketID: ticketID,
				Email:            parsed.Email,
				FirstName:        parsed.FirstName,
				LastName:         parsed.LastName,
				BookerFirstName:  order.Billing.FirstName,
				BookerLastName:   order.Billing.LastName,
				BookerEmail:      strings.ToLower(order.Billing.Email),
				OrderID:          orderID,
				OrderDate:        order.DateCreated.Time,
				SourceProductID:  item.ProductID,
				TicketIDFromUID:  fromUID,
			})
			stats.Extracted++
		}
	}

	return candidates, stats
}

// decodeTicketMeta pulls the per-attendee field sets and the companion
// uid -> ticket-id map out of a line item's meta_data array.
func decodeTicketMeta(meta []models.WooMetaEntry) ([]models.WooTicketEntry, map[string]string, bool) {
	var entries []models.WooTicketEntry
	found := false
	ticketIDs := make(map[string]string)

	for _, m := range meta {
		if m.Key == models.TicketFieldsMetaKey {
			if err := json.Unmarshal(m.Value, &entries); err == nil {
				found = true
			}
			continue
		}
		if uid, ok := strings.CutPrefix(m.Key, models.TicketIDMetaPrefix); ok {
			if id := decodeScalar(m.Value); id != "" {
				ticketIDs[uid] = id
			}
		}
	}

	if !found || len(entries) == 0 {
		return nil, nil, false
	}
	return entries, ticketIDs, true
}

// decodeScalar accepts the ticket id as either a JSON string or number.
func decodeScalar(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}

func resolveTicketID(uid string, ticketIDs map[string]string) (string, bool) {
	if id, ok := ticketIDs[uid]; ok && id != "" {
		return id, false
	}
	return uid, true
}
