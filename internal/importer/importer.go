// Package importer merges reviewed listings into the canonical vehicle catalog.
package importer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/metrics"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

const (
	// unknownClassification is used until someone classifies a new entry.
	unknownClassification = "Unknown"
	// priceDriftPercent is how far a listing price may sit from the stored
	// band minimum before the band is replaced.
	priceDriftPercent = 5
)

type outcome string

const (
	outcomeImported outcome = "imported"
	outcomeUpdated  outcome = "updated"
	outcomeSkipped  outcome = "skipped"
)

// Merger reconciles a job's reviewed listings with the catalog.
type Merger struct {
	store  scraper.Store
	clock  scraper.Clock
	ids    scraper.IDGenerator
	logger *zap.Logger

	// jobLocks serializes imports of the same job within this process.
	jobLocks sync.Map
}

// New constructs a Merger.
func New(store scraper.Store, clock scraper.Clock, ids scraper.IDGenerator, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{store: store, clock: clock, ids: ids, logger: logger.Named("importer")}
}

// ImportApproved merges the job's approved listings, plus its duplicates when
// opts.OverwritePrices is set. Per-listing failures are logged and counted as
// skipped. Merged listings become imported, so a re-run does not repeat them.
func (m *Merger) ImportApproved(ctx context.Context, jobID string, opts scraper.ImportOptions) (scraper.ImportResult, error) {
	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.GetJob(ctx, jobID); err != nil {
		return scraper.ImportResult{}, err
	}
	listings, err := m.store.ListListings(ctx, jobID, scraper.ListingFilter{})
	if err != nil {
		return scraper.ImportResult{}, fmt.Errorf("list listings: %w", err)
	}

	logger := m.logger.With(zap.String("job_id", jobID), zap.Bool("overwrite_prices", opts.OverwritePrices))
	var result scraper.ImportResult
	for _, listing := range listings {
		if !eligible(listing, opts) {
			continue
		}
		got, err := m.merge(ctx, listing, opts)
		if err != nil {
			logger.Warn("import listing failed",
				zap.String("listing_id", listing.ID),
				zap.String("make", listing.Make),
				zap.String("model", listing.Model),
				zap.Error(err),
			)
			result.Skipped++
			continue
		}
		switch got {
		case outcomeImported:
			result.Imported++
		case outcomeUpdated:
			result.Updated++
		default:
			result.Skipped++
			continue
		}
		if err := m.store.MarkImported(ctx, listing.ID, m.clock.Now()); err != nil {
			logger.Error("mark listing imported", zap.String("listing_id", listing.ID), zap.Error(err))
		}
	}

	metrics.ObserveImport(string(outcomeImported), result.Imported)
	metrics.ObserveImport(string(outcomeUpdated), result.Updated)
	metrics.ObserveImport(string(outcomeSkipped), result.Skipped)
	logger.Info("import finished",
		zap.Int("imported", result.Imported),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
	)

	if err := m.store.SetVehiclesUpdated(ctx, jobID, result.Updated); err != nil {
		return result, fmt.Errorf("record vehicles updated: %w", err)
	}
	return result, nil
}

func (m *Merger) lockFor(jobID string) *sync.Mutex {
	lock, _ := m.jobLocks.LoadOrStore(jobID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func eligible(listing scraper.Listing, opts scraper.ImportOptions) bool {
	switch listing.Status {
	case scraper.ListingApproved:
		return true
	case scraper.ListingDuplicate:
		return opts.OverwritePrices
	default:
		return false
	}
}

func (m *Merger) merge(ctx context.Context, listing scraper.Listing, opts scraper.ImportOptions) (outcome, error) {
	if listing.MatchedVehicleID != nil && *listing.MatchedVehicleID != "" {
		return m.update(ctx, *listing.MatchedVehicleID, listing, opts)
	}
	return m.create(ctx, listing)
}

// update replaces the matched entry's band for the listing year when the
// price drifted or overwrite is requested. The read-compare-write runs under
// the catalog's per-entry serialization.
func (m *Merger) update(ctx context.Context, vehicleID string, listing scraper.Listing, opts scraper.ImportOptions) (outcome, error) {
	if listing.Year <= 0 {
		return "", errors.New("listing has no year")
	}
	if listing.Price <= 0 {
		return "", errors.New("listing has no price")
	}
	result := outcomeSkipped
	err := m.store.MutateVehicle(ctx, vehicleID, func(v *scraper.CanonicalVehicle) (bool, error) {
		band, ok := v.PriceFor(listing.Year)
		if ok && !opts.OverwritePrices && !drifted(band.Min, listing.Price) {
			return false, nil
		}
		if v.UsedCarPrices == nil {
			v.UsedCarPrices = make(map[int]scraper.PriceBand)
		}
		v.UsedCarPrices[listing.Year] = scraper.PriceBand{Min: listing.Price, Max: listing.Price}
		if !v.HasYear(listing.Year) {
			v.ProductionYears = append(v.ProductionYears, listing.Year)
			slices.Sort(v.ProductionYears)
		}
		v.UpdatedAt = m.clock.Now()
		result = outcomeUpdated
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("update vehicle %s: %w", vehicleID, err)
	}
	return result, nil
}

func (m *Merger) create(ctx context.Context, listing scraper.Listing) (outcome, error) {
	vehicleMake := strings.TrimSpace(listing.Make)
	model := strings.TrimSpace(listing.Model)
	if vehicleMake == "" || model == "" {
		return "", errors.New("listing has no make or model")
	}
	id, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate vehicle id: %w", err)
	}
	now := m.clock.Now()
	vehicle := scraper.CanonicalVehicle{
		ID:              id,
		Make:            vehicleMake,
		Model:           model,
		Category:        unknownClassification,
		BodyType:        unknownClassification,
		Variants:        []string{},
		ProductionYears: []int{},
		UsedCarPrices:   map[int]scraper.PriceBand{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if bodyType := strings.TrimSpace(listing.BodyType); bodyType != "" {
		vehicle.BodyType = bodyType
	}
	if variant := strings.TrimSpace(listing.Variant); variant != "" {
		vehicle.Variants = append(vehicle.Variants, variant)
	}
	if listing.Year > 0 {
		vehicle.ProductionYears = append(vehicle.ProductionYears, listing.Year)
		if listing.Price > 0 {
			vehicle.UsedCarPrices[listing.Year] = scraper.PriceBand{Min: listing.Price, Max: listing.Price}
		}
	}
	if err := m.store.CreateVehicle(ctx, vehicle); err != nil {
		return "", fmt.Errorf("create vehicle: %w", err)
	}
	return outcomeImported, nil
}

// drifted reports |min - price| > 5% of min.
func drifted(bandMin, price int64) bool {
	diff := bandMin - price
	if diff < 0 {
		diff = -diff
	}
	return diff*100 > bandMin*priceDriftPercent
}
