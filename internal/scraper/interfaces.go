package scraper

import (
	"context"
	"io"
	"time"
)

// JobStore persists scrape jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]Job, int, error)
	// CompleteJob moves a running job to a terminal state. It fails if the job is already terminal.
	CompleteJob(ctx context.Context, jobID string, completion JobCompletion) error
	SetVehiclesUpdated(ctx context.Context, jobID string, updated int) error
	LastSuccessfulJobAt(ctx context.Context) (*time.Time, error)
	// RunningJobs lists jobs that have not reached a terminal state, oldest first.
	RunningJobs(ctx context.Context) ([]Job, error)
}

// ListingStore persists staged listings.
type ListingStore interface {
	CreateListing(ctx context.Context, listing Listing) error
	GetListing(ctx context.Context, listingID string) (Listing, error)
	ListListings(ctx context.Context, jobID string, filter ListingFilter) ([]Listing, error)
	RecentListings(ctx context.Context, jobID string, limit int) ([]Listing, error)
	// ReviewListing sets status and the reviewer stamp.
	ReviewListing(ctx context.Context, listingID string, status ListingStatus, reviewer string, at time.Time) error
	MarkImported(ctx context.Context, listingID string, at time.Time) error
	CountByStatus(ctx context.Context, status ListingStatus) (int, error)
	CountImportedSince(ctx context.Context, since time.Time) (int, error)
}

// VehicleMutation edits a catalog entry in place and reports whether it changed.
type VehicleMutation func(vehicle *CanonicalVehicle) (bool, error)

// CatalogStore is the canonical vehicle catalog.
type CatalogStore interface {
	// ListByMake returns entries with a case-insensitively equal make in catalog order.
	ListByMake(ctx context.Context, vehicleMake string) ([]CanonicalVehicle, error)
	GetVehicle(ctx context.Context, vehicleID string) (CanonicalVehicle, error)
	CreateVehicle(ctx context.Context, vehicle CanonicalVehicle) error
	// MutateVehicle runs fn with exclusive access to one entry and persists the result when fn reports a change.
	MutateVehicle(ctx context.Context, vehicleID string, fn VehicleMutation) error
	CountVehicles(ctx context.Context) (int, error)
}

// ConfigStore is the ScraperConfig key/value store.
type ConfigStore interface {
	// GetConfig returns ErrNotFound for unknown keys.
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// Store bundles every persistence concern behind one backend.
type Store interface {
	JobStore
	ListingStore
	CatalogStore
	ConfigStore
	Close()
}

// Adapter scrapes one marketplace.
type Adapter interface {
	Source() Source
	Scrape(ctx context.Context, limit int, fetchDetails bool) ([]RawListing, error)
}

// Page is one fetched marketplace document.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// Fetcher retrieves marketplace pages.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes job events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
