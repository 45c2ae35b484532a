// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// Store implements scraper.Store in memory. A single lock guards all
// tables, which also serializes catalog mutations.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]scraper.Job
	listings map[string]scraper.Listing
	// listingOrder keeps insertion order per job.
	listingOrder map[string][]string
	vehicles     map[string]scraper.CanonicalVehicle
	vehicleOrder []string
	config       map[string]string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:         make(map[string]scraper.Job),
		listings:     make(map[string]scraper.Listing),
		listingOrder: make(map[string][]string),
		vehicles:     make(map[string]scraper.CanonicalVehicle),
		config:       make(map[string]string),
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	job.Errors = cloneStrings(job.Errors)
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	return copyJob(job), nil
}

// ListJobs returns jobs newest first plus the total count.
func (s *Store) ListJobs(_ context.Context, limit, offset int) ([]scraper.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]scraper.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		all = append(all, copyJob(job))
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	total := len(all)
	if offset >= total {
		return []scraper.Job{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// CompleteJob writes the terminal state of a running job.
func (s *Store) CompleteJob(_ context.Context, jobID string, completion scraper.JobCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	completedAt := completion.CompletedAt
	job.Status = completion.Status
	job.CompletedAt = &completedAt
	job.DurationSeconds = completion.DurationSeconds
	job.VehiclesFound = completion.Counters.VehiclesFound
	job.VehiclesNew = completion.Counters.VehiclesNew
	job.Duplicates = completion.Counters.Duplicates
	job.Errors = cloneStrings(completion.Errors)
	s.jobs[jobID] = job
	return nil
}

// SetVehiclesUpdated records the import merger's update count.
func (s *Store) SetVehiclesUpdated(_ context.Context, jobID string, updated int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	job.VehiclesUpdated = updated
	s.jobs[jobID] = job
	return nil
}

// RunningJobs lists non-terminal jobs, oldest first.
func (s *Store) RunningJobs(_ context.Context) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	running := []scraper.Job{}
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			running = append(running, copyJob(job))
		}
	}
	sort.SliceStable(running, func(i, j int) bool {
		if running[i].StartedAt.Equal(running[j].StartedAt) {
			return running[i].ID < running[j].ID
		}
		return running[i].StartedAt.Before(running[j].StartedAt)
	})
	return running, nil
}

// LastSuccessfulJobAt returns the newest completion time of a completed job.
func (s *Store) LastSuccessfulJobAt(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *time.Time
	for _, job := range s.jobs {
		if job.Status != scraper.JobStatusCompleted || job.CompletedAt == nil {
			continue
		}
		if latest == nil || job.CompletedAt.After(*latest) {
			ts := *job.CompletedAt
			latest = &ts
		}
	}
	return latest, nil
}

// GetConfig returns a ScraperConfig value.
func (s *Store) GetConfig(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.config[key]
	if !ok {
		return "", fmt.Errorf("config %s: %w", key, scraper.ErrNotFound)
	}
	return value, nil
}

// SetConfig validates and stores a ScraperConfig value.
func (s *Store) SetConfig(_ context.Context, key, value string) error {
	if err := scraper.ValidateConfigValue(key, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

func copyJob(job scraper.Job) scraper.Job {
	job.Errors = cloneStrings(job.Errors)
	if job.CompletedAt != nil {
		ts := *job.CompletedAt
		job.CompletedAt = &ts
	}
	return job
}

func cloneStrings(src []string) []string {
	if src == nil {
		return []string{}
	}
	return slices.Clone(src)
}

func foldEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
