package orchestrator

import (
	"context"
	"fmt"

	"github.com/JakeFAU/vehicle-scraper/internal/clock/system"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// Summary returns dashboard statistics. "Today" is the current UTC day.
func (o *Orchestrator) Summary(ctx context.Context) (scraper.Summary, error) {
	last, err := o.store.LastSuccessfulJobAt(ctx)
	if err != nil {
		return scraper.Summary{}, fmt.Errorf("last successful job: %w", err)
	}
	vehicles, err := o.store.CountVehicles(ctx)
	if err != nil {
		return scraper.Summary{}, fmt.Errorf("count vehicles: %w", err)
	}
	pending, err := o.store.CountByStatus(ctx, scraper.ListingPending)
	if err != nil {
		return scraper.Summary{}, fmt.Errorf("count pending: %w", err)
	}
	imported, err := o.store.CountImportedSince(ctx, system.StartOfDay(o.clock.Now()))
	if err != nil {
		return scraper.Summary{}, fmt.Errorf("count imported: %w", err)
	}
	return scraper.Summary{
		LastSuccessfulJobAt:    last,
		TotalCanonicalVehicles: vehicles,
		PendingReview:          pending,
		ImportedToday:          imported,
	}, nil
}
