package extractor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-membership/internal/logger"
	"ms-membership/internal/models"
)

func fields(values ...string) []models.WooTicketField {
	out := make([]models.WooTicketField, 0, len(values))
	for _, v := range values {
		out = append(out, models.WooTicketField{Value: v})
	}
	return out
}

func TestParseAttendeeFields(t *testing.T) {
	result := ParseAttendeeFields(fields("Ana.Petrova@Example.COM", "Ana", "Petrova"))

	assert.True(t, result.Recognized)
	assert.Equal(t, "ana.petrova@example.com", result.Email)
	assert.Equal(t, "Ana", result.FirstName)
	assert.Equal(t, "Petrova", result.LastName)
	assert.Equal(t, 0, result.ExtraEmails)
}

func TestParseAttendeeFieldsOrderIndependent(t *testing.T) {
	// The email can appear anywhere in the field list; names are the
	// first two remaining non-empty values.
	result := ParseAttendeeFields(fields("", "Jo", "jo@example.com", "Marsh"))

	assert.True(t, result.Recognized)
	assert.Equal(t, "jo@example.com", result.Email)
	assert.Equal(t, "Jo", result.FirstName)
	assert.Equal(t, "Marsh", result.LastName)
}

func TestParseAttendeeFieldsFirstEmailWins(t *testing.T) {
	result := ParseAttendeeFields(fields("first@example.com", "second@example.com", "Sam"))

	assert.Equal(t, "first@example.com", result.Email)
	assert.Equal(t, 1, result.ExtraEmails)
	assert.Equal(t, "Sam", result.FirstName)
}

func TestParseAttendeeFieldsNoEmail(t *testing.T) {
	result := ParseAttendeeFields(fields("Sam", "Jones"))

	assert.False(t, result.Recognized)
	assert.NotEmpty(t, result.Reason)
}

func ticketFieldsMeta(t *testing.T, entries []models.WooTicketEntry) models.WooMetaEntry {
	t.Helper()
	raw, err := json.Marshal(entries)
	require.NoError(t, err)
	return models.WooMetaEntry{Key: models.TicketFieldsMetaKey, Value: raw}
}

func testOrder(meta ...models.WooMetaEntry) models.WooOrder {
	return models.WooOrder{
		ID: 9001,
		Billing: models.WooBilling{
			FirstName: "Booker",
			LastName:  "Person",
			Email:     "Booker@Example.com",
		},
		LineItems: []models.WooLineItem{
			{ID: 1, ProductID: 555, Quantity: 2, MetaData: meta},
		},
	}
}

func TestExtractTickets(t *testing.T) {
	x := New(logger.NewLogger())

	order := testOrder(
		ticketFieldsMeta(t, []models.WooTicketEntry{
			{UID: "uid-a", Fields: fields("ana@example.com", "Ana", "Petrova")},
			{UID: "uid-b", Fields: fields("ben@example.com", "Ben")},
		}),
		models.WooMetaEntry{Key: models.TicketIDMetaPrefix + "uid-a", Value: json.RawMessage(`"T-100"`)},
		models.WooMetaEntry{Key: models.TicketIDMetaPrefix + "uid-b", Value: json.RawMessage(`101`)},
	)

	candidates, stats := x.ExtractTickets(order, map[int64]bool{555: true})

	require.Len(t, candidates, 2)
	assert.Equal(t, 2, stats.Extracted)
	assert.Equal(t, 0, stats.UIDFallbacks)

	assert.Equal(t, "T-100", candidates[0].ExternalTicketID)
	assert.Equal(t, "ana@example.com", candidates[0].Email)
	assert.False(t, candidates[0].TicketIDFromUID)
	assert.Equal(t, "booker@example.com", candidates[0].BookerEmail)
	assert.Equal(t, "Booker", candidates[0].BookerFirstName)
	assert.Equal(t, int64(555), candidates[0].SourceProductID)
	assert.Equal(t, "9001", candidates[0].OrderID)

	// Numeric ticket id decodes the same as a string one.
	assert.Equal(t, "101", candidates[1].ExternalTicketID)
}

func TestExtractTicketsUIDFallback(t *testing.T) {
	x := New(logger.NewLogger())

	order := testOrder(
		ticketFieldsMeta(t, []models.WooTicketEntry{
			{UID: "uid-only", Fields: fields("solo@example.com", "Solo")},
		}),
	)

	candidates, stats := x.ExtractTickets(order, map[int64]bool{555: true})

	require.Len(t, candidates, 1)
	assert.Equal(t, "uid-only", candidates[0].ExternalTicketID)
	assert.True(t, candidates[0].TicketIDFromUID)
	assert.Equal(t, 1, stats.UIDFallbacks)
}

func TestExtractTicketsSkipsEntriesWithoutEmail(t *testing.T) {
	x := New(logger.NewLogger())

	order := testOrder(
		ticketFieldsMeta(t, []models.WooTicketEntry{
			{UID: "uid-a", Fields: fields("Nameless", "Person")},
			{UID: "uid-b", Fields: fields("ok@example.com", "Ok")},
		}),
	)

	candidates, stats := x.ExtractTickets(order, map[int64]bool{555: true})

	require.Len(t, candidates, 1)
	assert.Equal(t, "ok@example.com", candidates[0].Email)
	assert.Equal(t, 1, stats.SkippedNoEmail)
}

func TestExtractTicketsUnrecognizedMeta(t *testing.T) {
	x := New(logger.NewLogger())

	order := testOrder(models.WooMetaEntry{Key: "_unrelated", Value: json.RawMessage(`"x"`)})

	candidates, stats := x.ExtractTickets(order, map[int64]bool{555: true})

	assert.Empty(t, candidates)
	assert.Equal(t, 1, stats.UnrecognizedMeta)
}

func TestExtractTicketsIgnoresOtherProducts(t *testing.T) {
	x := New(logger.NewLogger())

	order := testOrder(
		ticketFieldsMeta(t, []models.WooTicketEntry{
			{UID: "uid-a", Fields: fields("ana@example.com", "Ana")},
		}),
	)

	candidates, stats := x.ExtractTickets(order, map[int64]bool{777: true})

	assert.Empty(t, candidates)
	assert.Equal(t, Stats{}, stats)
}

func TestExtractTicketsMatchesVariationID(t *testing.T) {
	x := New(logger.NewLogger())

	order := models.WooOrder{
		ID: 42,
		LineItems: []models.WooLineItem{
			{
				ID:          1,
				ProductID:   555,
				VariationID: 556,
				MetaData: []models.WooMetaEntry{
					ticketFieldsMeta(t, []models.WooTicketEntry{
						{UID: "uid-v", Fields: fields("v@example.com")},
					}),
				},
			},
		},
	}

	candidates, _ := x.ExtractTickets(order, map[int64]bool{556: true})
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(555), candidates[0].SourceProductID)
}
