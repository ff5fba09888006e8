package syncer

import (
	"context"
	"fmt"

	"ms-membership/internal/attendees"
	"ms-membership/internal/extractor"
	"ms-membership/internal/logger"
	"ms-membership/internal/models"
)

// OrderSource is the pull-based order/product API the syncer reads
// from. The WooCommerce client implements it; tests stub it.
type OrderSource interface {
	FetchOrdersByProduct(ctx context.Context, productID int64) ([]models.WooOrder, error)
	FetchProducts(ctx context.Context) ([]models.WooProduct, error)
}

// EventDiscoverer maps product listings to events.
type EventDiscoverer interface {
	DiscoverEvents(ctx context.Context, products []models.WooProduct, dryRun bool) (int, error)
}

// Report is the accounting for one event's sync.
type Report struct {
	EventID     string            `json:"event_id"`
	Orders      int               `json:"orders"`
	Extraction  extractor.Stats   `json:"extraction"`
	Reconciled  attendees.Result  `json:"reconciled"`
}

// Syncer pulls an event's full order history, extracts tickets and
// reconciles them into the attendees table.
type Syncer struct {
	Orders     OrderSource
	Extractor  *extractor.Extractor
	Reconciler *attendees.Reconciler
	Logger     *logger.Logger
}

func New(orders OrderSource, ext *extractor.Extractor, rec *attendees.Reconciler, log *logger.Logger) *Syncer {
	return &Syncer{Orders: orders, Extractor: ext, Reconciler: rec, Logger: log}
}

// SyncEvent fetches orders for every product id the event owns
// (primary plus merged), extracts tickets and reconciles them. The
// database work happens in one transaction inside the reconciler.
func (s *Syncer) SyncEvent(ctx context.Context, event *models.Event, opts attendees.Options) (*Report, error) {
	report := &Report{EventID: event.ID}

	productIDs := make(map[int64]bool)
	for _, id := range event.AllProductIDs() {
		productIDs[id] = true
	}

	var candidates []models.TicketCandidate
	for productID := range productIDs {
		orders, err := s.Orders.FetchOrdersByProduct(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("fetch orders for event %s product %d: %w", event.ID, productID, err)
		}
		report.Orders += len(orders)

		for _, order := range orders {
			extracted, stats := s.Extractor.ExtractTickets(order, productIDs)
			candidates = append(candidates, extracted...)
			report.Extraction.Add(stats)
		}
	}

	result, err := s.Reconciler.Reconcile(ctx, event, candidates, opts)
	if err != nil {
		return nil, fmt.Errorf("reconcile event %s: %w", event.ID, err)
	}
	report.Reconciled = *result

	s.Logger.LogSync("EVENT", event.ID, fmt.Sprintf("%d orders, %d tickets extracted, %d inserted", report.Orders, report.Extraction.Extracted, result.Inserted))
	return report, nil
}

// Discover refreshes the event catalog from the product listing. With
// dryRun the catalog is left untouched and only the qualifying product
// count is reported.
func (s *Syncer) Discover(ctx context.Context, discoverer EventDiscoverer, dryRun bool) (int, error) {
	products, err := s.Orders.FetchProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch products: %w", err)
	}
	return discoverer.DiscoverEvents(ctx, products, dryRun)
}
