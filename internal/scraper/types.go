// Package scraper defines core types shared across the scraping pipeline.
package scraper

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors classified by the API layer.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidConfig   = errors.New("invalid configuration value")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownSource   = errors.New("unknown source")
	ErrQueueClosed     = errors.New("queue closed")
	ErrQueueFull       = errors.New("queue full")
)

// Source identifies a marketplace that listings are scraped from.
type Source string

// Supported marketplaces. SourceAll fans out to every registered adapter.
const (
	SourceOLX      Source = "olx"
	SourceMobil123 Source = "mobil123"
	SourceCarmudi  Source = "carmudi"
	SourceAll      Source = "all"
)

// ParseSource normalizes user input into a Source.
func ParseSource(raw string) Source {
	return Source(strings.ToLower(strings.TrimSpace(raw)))
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ListingStatus is the review lifecycle state of a staged listing.
type ListingStatus string

// Listing status values.
const (
	ListingPending   ListingStatus = "pending"
	ListingDuplicate ListingStatus = "duplicate"
	ListingApproved  ListingStatus = "approved"
	ListingRejected  ListingStatus = "rejected"
	ListingImported  ListingStatus = "imported"
)

// Valid reports whether s is a known listing status.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingPending, ListingDuplicate, ListingApproved, ListingRejected, ListingImported:
		return true
	default:
		return false
	}
}

// Job is the persisted record of one scrape run.
type Job struct {
	ID              string     `json:"id"`
	Status          JobStatus  `json:"status"`
	Source          Source     `json:"source"`
	TargetCount     int        `json:"target_count"`
	ExecutedBy      string     `json:"executed_by"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	VehiclesFound   int        `json:"vehicles_found"`
	VehiclesNew     int        `json:"vehicles_new"`
	Duplicates      int        `json:"duplicates"`
	VehiclesUpdated int        `json:"vehicles_updated"`
	DurationSeconds int        `json:"duration_seconds"`
	Errors          []string   `json:"errors"`
}

// JobCounters are the aggregates computed when a job completes.
type JobCounters struct {
	VehiclesFound int `json:"vehicles_found"`
	VehiclesNew   int `json:"vehicles_new"`
	Duplicates    int `json:"duplicates"`
}

// JobCompletion carries everything written when a job reaches a terminal state.
type JobCompletion struct {
	Status          JobStatus
	CompletedAt     time.Time
	DurationSeconds int
	Counters        JobCounters
	Errors          []string
}

// RawListing is what a source adapter returns for one advertisement.
type RawListing struct {
	Source       Source   `json:"source"`
	Make         string   `json:"make"`
	Model        string   `json:"model"`
	Year         int      `json:"year"`
	Price        int64    `json:"price"`
	PriceDisplay string   `json:"price_display"`
	Location     string   `json:"location"`
	URL          string   `json:"url"`
	Variant      string   `json:"variant,omitempty"`
	Transmission string   `json:"transmission,omitempty"`
	FuelType     string   `json:"fuel_type,omitempty"`
	BodyType     string   `json:"body_type,omitempty"`
	Features     []string `json:"features,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// Listing is a staged, reviewable scraped listing owned by a job.
type Listing struct {
	ID               string        `json:"id"`
	JobID            string        `json:"job_id"`
	Status           ListingStatus `json:"status"`
	MatchedVehicleID *string       `json:"matched_vehicle_id,omitempty"`
	Confidence       int           `json:"confidence"`
	CreatedAt        time.Time     `json:"created_at"`
	ReviewedAt       *time.Time    `json:"reviewed_at,omitempty"`
	ReviewedBy       *string       `json:"reviewed_by,omitempty"`
	ImportedAt       *time.Time    `json:"imported_at,omitempty"`
	RawListing
}

// ListingFilter narrows a job's results.
type ListingFilter struct {
	Status ListingStatus
	Make   string
}

// Matches applies the filter in memory (case-insensitive make substring).
func (f ListingFilter) Matches(l Listing) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.Make != "" && !strings.Contains(strings.ToLower(l.Make), strings.ToLower(f.Make)) {
		return false
	}
	return true
}

// PriceBand is a min/max used-car price in minor currency units.
type PriceBand struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Midpoint returns the band center.
func (b PriceBand) Midpoint() int64 {
	return (b.Min + b.Max) / 2
}

// CanonicalVehicle is an entry of the authoritative vehicle catalog.
type CanonicalVehicle struct {
	ID              string            `json:"id"`
	Make            string            `json:"make"`
	Model           string            `json:"model"`
	Category        string            `json:"category"`
	BodyType        string            `json:"body_type"`
	Variants        []string          `json:"variants"`
	ProductionYears []int             `json:"production_years"`
	UsedCarPrices   map[int]PriceBand `json:"used_car_prices"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasYear reports whether the model was sold in year.
func (v CanonicalVehicle) HasYear(year int) bool {
	for _, y := range v.ProductionYears {
		if y == year {
			return true
		}
	}
	return false
}

// PriceFor returns the used price band for year, if any.
func (v CanonicalVehicle) PriceFor(year int) (PriceBand, bool) {
	band, ok := v.UsedCarPrices[year]
	return band, ok
}

// Config keys understood by the pipeline.
const (
	ConfigDuplicateThreshold = "duplicate_threshold"
	ConfigMatchStrategy      = "match_strategy"

	DefaultDuplicateThreshold = 80
)

// DefaultConfigValue returns the value used for a known key that was never set.
func DefaultConfigValue(key string) (string, bool) {
	switch key {
	case ConfigDuplicateThreshold:
		return strconv.Itoa(DefaultDuplicateThreshold), true
	case ConfigMatchStrategy:
		return MatchFirst, true
	default:
		return "", false
	}
}

// Duplicate resolution strategies.
const (
	MatchFirst = "first"
	MatchBest  = "best"
)

// ValidateConfigValue checks a ScraperConfig entry before it is persisted.
func ValidateConfigValue(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.Join(ErrInvalidConfig, errors.New("key is required"))
	}
	switch key {
	case ConfigDuplicateThreshold:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return errors.Join(ErrInvalidConfig, errors.New("duplicate_threshold must be an integer"))
		}
		if n < 0 || n > 100 {
			return errors.Join(ErrInvalidConfig, errors.New("duplicate_threshold must be between 0 and 100"))
		}
	case ConfigMatchStrategy:
		if value != MatchFirst && value != MatchBest {
			return errors.Join(ErrInvalidConfig, errors.New("match_strategy must be first or best"))
		}
	default:
		if strings.TrimSpace(value) == "" {
			return errors.Join(ErrInvalidConfig, errors.New("value is required"))
		}
	}
	return nil
}

// ImportOptions tunes the merge of staged listings into the catalog.
type ImportOptions struct {
	OverwritePrices bool `json:"overwrite_prices"`
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Summary is the dashboard statistics payload.
type Summary struct {
	LastSuccessfulJobAt    *time.Time `json:"last_successful_job_at,omitempty"`
	TotalCanonicalVehicles int        `json:"total_canonical_vehicles"`
	PendingReview          int        `json:"pending_review"`
	ImportedToday          int        `json:"imported_today"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID       string
	Source      Source
	TargetCount int
	Submitted   int64
}
