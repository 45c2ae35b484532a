// Package review implements the human approve/reject workflow over staged listings.
package review

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/metrics"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// Service applies review decisions.
type Service struct {
	listings scraper.ListingStore
	clock    scraper.Clock
	logger   *zap.Logger
}

// New constructs a review Service.
func New(listings scraper.ListingStore, clock scraper.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{listings: listings, clock: clock, logger: logger.Named("review")}
}

// Approve marks a listing approved for import.
func (s *Service) Approve(ctx context.Context, listingID, reviewerID string) (scraper.Listing, error) {
	return s.decide(ctx, listingID, reviewerID, scraper.ListingApproved)
}

// Reject marks a listing rejected.
func (s *Service) Reject(ctx context.Context, listingID, reviewerID string) (scraper.Listing, error) {
	return s.decide(ctx, listingID, reviewerID, scraper.ListingRejected)
}

// decide overwrites any earlier decision. Imported listings are final.
func (s *Service) decide(
	ctx context.Context,
	listingID, reviewerID string,
	status scraper.ListingStatus,
) (scraper.Listing, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return scraper.Listing{}, fmt.Errorf("reviewer_id is required: %w", scraper.ErrInvalidArgument)
	}
	current, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return scraper.Listing{}, err
	}
	if current.Status == scraper.ListingImported {
		return scraper.Listing{}, fmt.Errorf("listing %s already imported: %w", listingID, scraper.ErrInvalidArgument)
	}
	if err := s.listings.ReviewListing(ctx, listingID, status, reviewerID, s.clock.Now()); err != nil {
		return scraper.Listing{}, err
	}
	metrics.ObserveReview(string(status))
	s.logger.Info("listing reviewed",
		zap.String("listing_id", listingID),
		zap.String("job_id", current.JobID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
		zap.String("reviewer", reviewerID),
	)
	return s.listings.GetListing(ctx, listingID)
}

// ListResults returns a job's listings, optionally narrowed by status and a
// case-insensitive make substring.
func (s *Service) ListResults(ctx context.Context, jobID string, filter scraper.ListingFilter) ([]scraper.Listing, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", filter.Status, scraper.ErrInvalidArgument)
	}
	filter.Make = strings.TrimSpace(filter.Make)
	return s.listings.ListListings(ctx, jobID, filter)
}
