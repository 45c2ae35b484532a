package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// CreateListing stages a listing under its job.
func (s *Store) CreateListing(_ context.Context, listing scraper.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[listing.JobID]; !ok {
		return fmt.Errorf("job %s: %w", listing.JobID, scraper.ErrNotFound)
	}
	if _, exists := s.listings[listing.ID]; exists {
		return errors.New("listing already exists")
	}
	s.listings[listing.ID] = copyListing(listing)
	s.listingOrder[listing.JobID] = append(s.listingOrder[listing.JobID], listing.ID)
	return nil
}

// GetListing fetches a listing by ID.
func (s *Store) GetListing(_ context.Context, listingID string) (scraper.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listing, ok := s.listings[listingID]
	if !ok {
		return scraper.Listing{}, fmt.Errorf("listing %s: %w", listingID, scraper.ErrNotFound)
	}
	return copyListing(listing), nil
}

// ListListings returns a job's listings in creation order.
func (s *Store) ListListings(_ context.Context, jobID string, filter scraper.ListingFilter) ([]scraper.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	out := []scraper.Listing{}
	for _, id := range s.listingOrder[jobID] {
		listing := s.listings[id]
		if filter.Matches(listing) {
			out = append(out, copyListing(listing))
		}
	}
	return out, nil
}

// RecentListings returns up to limit of a job's newest listings, newest first.
func (s *Store) RecentListings(_ context.Context, jobID string, limit int) ([]scraper.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.listingOrder[jobID]
	out := []scraper.Listing{}
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyListing(s.listings[ids[i]]))
	}
	return out, nil
}

// ReviewListing stamps a human review decision.
func (s *Store) ReviewListing(
	_ context.Context,
	listingID string,
	status scraper.ListingStatus,
	reviewer string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[listingID]
	if !ok {
		return fmt.Errorf("listing %s: %w", listingID, scraper.ErrNotFound)
	}
	listing.Status = status
	listing.ReviewedAt = &at
	listing.ReviewedBy = &reviewer
	s.listings[listingID] = listing
	return nil
}

// MarkImported transitions a listing to imported.
func (s *Store) MarkImported(_ context.Context, listingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[listingID]
	if !ok {
		return fmt.Errorf("listing %s: %w", listingID, scraper.ErrNotFound)
	}
	listing.Status = scraper.ListingImported
	listing.ImportedAt = &at
	s.listings[listingID] = listing
	return nil
}

// CountByStatus counts listings across all jobs.
func (s *Store) CountByStatus(_ context.Context, status scraper.ListingStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, listing := range s.listings {
		if listing.Status == status {
			n++
		}
	}
	return n, nil
}

// CountImportedSince counts imported listings with importedAt >= since.
func (s *Store) CountImportedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, listing := range s.listings {
		if listing.Status == scraper.ListingImported && listing.ImportedAt != nil && !listing.ImportedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func copyListing(l scraper.Listing) scraper.Listing {
	l.Features = slices.Clone(l.Features)
	if l.MatchedVehicleID != nil {
		id := *l.MatchedVehicleID
		l.MatchedVehicleID = &id
	}
	if l.ReviewedAt != nil {
		ts := *l.ReviewedAt
		l.ReviewedAt = &ts
	}
	if l.ReviewedBy != nil {
		by := *l.ReviewedBy
		l.ReviewedBy = &by
	}
	if l.ImportedAt != nil {
		ts := *l.ImportedAt
		l.ImportedAt = &ts
	}
	return l
}
