package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

const listingColumns = `id, job_id, status, source, make, model, year, price, price_display, location, url,
	variant, transmission, fuel_type, body_type, features, description,
	matched_vehicle_id, confidence, created_at, reviewed_at, reviewed_by, imported_at`

// CreateListing stages one listing.
func (s *Store) CreateListing(ctx context.Context, listing scraper.Listing) error {
	features, err := marshalStrings(listing.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO scraped_listings (
	id, job_id, status, source, make, model, year, price, price_display, location, url,
	variant, transmission, fuel_type, body_type, features, description,
	matched_vehicle_id, confidence, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)`,
		listing.ID,
		listing.JobID,
		string(listing.Status),
		string(listing.Source),
		listing.Make,
		listing.Model,
		listing.Year,
		listing.Price,
		listing.PriceDisplay,
		listing.Location,
		listing.URL,
		listing.Variant,
		listing.Transmission,
		listing.FuelType,
		listing.BodyType,
		features,
		listing.Description,
		listing.MatchedVehicleID,
		listing.Confidence,
		listing.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// GetListing fetches a listing by ID.
func (s *Store) GetListing(ctx context.Context, listingID string) (scraper.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM scraped_listings WHERE id = $1`, listingID)
	listing, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Listing{}, fmt.Errorf("listing %s: %w", listingID, scraper.ErrNotFound)
	}
	if err != nil {
		return scraper.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return listing, nil
}

// ListListings returns a job's listings in creation order.
func (s *Store) ListListings(ctx context.Context, jobID string, filter scraper.ListingFilter) ([]scraper.Listing, error) {
	if err := s.requireJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.queryListings(ctx, `SELECT `+listingColumns+`
FROM scraped_listings
WHERE job_id = $1
	AND ($2::text = '' OR status = $2::text)
	AND ($3::text = '' OR strpos(lower(make), lower($3::text)) > 0)
ORDER BY seq`, jobID, string(filter.Status), filter.Make)
}

// RecentListings returns a job's newest listings first.
func (s *Store) RecentListings(ctx context.Context, jobID string, limit int) ([]scraper.Listing, error) {
	return s.queryListings(ctx, `SELECT `+listingColumns+`
FROM scraped_listings WHERE job_id = $1 ORDER BY seq DESC LIMIT $2`, jobID, limit)
}

// ReviewListing stamps a human review decision.
func (s *Store) ReviewListing(
	ctx context.Context,
	listingID string,
	status scraper.ListingStatus,
	reviewer string,
	at time.Time,
) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE scraped_listings SET status = $2, reviewed_by = $3, reviewed_at = $4 WHERE id = $1`,
		listingID, string(status), reviewer, at)
	if err != nil {
		return fmt.Errorf("review listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listing %s: %w", listingID, scraper.ErrNotFound)
	}
	return nil
}

// MarkImported transitions a listing to imported.
func (s *Store) MarkImported(ctx context.Context, listingID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE scraped_listings SET status = 'imported', imported_at = $2 WHERE id = $1`, listingID, at)
	if err != nil {
		return fmt.Errorf("mark imported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listing %s: %w", listingID, scraper.ErrNotFound)
	}
	return nil
}

// CountByStatus counts listings across all jobs.
func (s *Store) CountByStatus(ctx context.Context, status scraper.ListingStatus) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scraped_listings WHERE status = $1`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

// CountImportedSince counts imported listings with imported_at >= since.
func (s *Store) CountImportedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM scraped_listings WHERE status = 'imported' AND imported_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count imported: %w", err)
	}
	return n, nil
}

func (s *Store) requireJob(ctx context.Context, jobID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scrape_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("lookup job: %w", err)
	}
	if !exists {
		return fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	return nil
}

func (s *Store) queryListings(ctx context.Context, query string, args ...any) ([]scraper.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()
	out := []scraper.Listing{}
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return out, nil
}

func scanListing(row pgx.Row) (scraper.Listing, error) {
	var (
		l            scraper.Listing
		status       string
		source       string
		featuresJSON []byte
	)
	err := row.Scan(
		&l.ID,
		&l.JobID,
		&status,
		&source,
		&l.Make,
		&l.Model,
		&l.Year,
		&l.Price,
		&l.PriceDisplay,
		&l.Location,
		&l.URL,
		&l.Variant,
		&l.Transmission,
		&l.FuelType,
		&l.BodyType,
		&featuresJSON,
		&l.Description,
		&l.MatchedVehicleID,
		&l.Confidence,
		&l.CreatedAt,
		&l.ReviewedAt,
		&l.ReviewedBy,
		&l.ImportedAt,
	)
	if err != nil {
		return scraper.Listing{}, err
	}
	l.Status = scraper.ListingStatus(status)
	l.Source = scraper.Source(source)
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &l.Features); err != nil {
			return scraper.Listing{}, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	return l, nil
}
