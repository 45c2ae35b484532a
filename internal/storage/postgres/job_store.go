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

const jobColumns = `id, status, source, target_count, executed_by, started_at, completed_at,
	vehicles_found, vehicles_new, duplicates, vehicles_updated, duration_seconds, errors`

// CreateJob inserts a running job.
func (s *Store) CreateJob(ctx context.Context, job scraper.Job) error {
	errs, err := marshalStrings(job.Errors)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO scrape_jobs (id, status, source, target_count, executed_by, started_at, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID,
		string(job.Status),
		string(job.Source),
		job.TargetCount,
		job.ExecutedBy,
		job.StartedAt,
		errs,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Job{}, fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	if err != nil {
		return scraper.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs pages through jobs newest first.
func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]scraper.Job, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scrape_jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+`
FROM scrape_jobs ORDER BY started_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	jobs := []scraper.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// CompleteJob moves a running job to its terminal state.
func (s *Store) CompleteJob(ctx context.Context, jobID string, completion scraper.JobCompletion) error {
	errs, err := marshalStrings(completion.Errors)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs
SET status = $2, completed_at = $3, duration_seconds = $4,
	vehicles_found = $5, vehicles_new = $6, duplicates = $7, errors = $8
WHERE id = $1 AND status = 'running'`,
		jobID,
		string(completion.Status),
		completion.CompletedAt,
		completion.DurationSeconds,
		completion.Counters.VehiclesFound,
		completion.Counters.VehiclesNew,
		completion.Counters.Duplicates,
		errs,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

// SetVehiclesUpdated records the import merger's update count.
func (s *Store) SetVehiclesUpdated(ctx context.Context, jobID string, updated int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE scrape_jobs SET vehicles_updated = $2 WHERE id = $1`, jobID, updated)
	if err != nil {
		return fmt.Errorf("set vehicles updated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	return nil
}

// RunningJobs lists non-terminal jobs, oldest first.
func (s *Store) RunningJobs(ctx context.Context) ([]scraper.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+`
FROM scrape_jobs WHERE status = 'running' ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	defer rows.Close()
	jobs := []scraper.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	return jobs, nil
}

// LastSuccessfulJobAt returns the newest completion time of a completed job.
func (s *Store) LastSuccessfulJobAt(ctx context.Context) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
SELECT max(completed_at) FROM scrape_jobs WHERE status = 'completed'`).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last successful job: %w", err)
	}
	return last, nil
}

func scanJob(row pgx.Row) (scraper.Job, error) {
	var (
		job         scraper.Job
		status      string
		source      string
		completedAt *time.Time
		errsJSON    []byte
	)
	err := row.Scan(
		&job.ID,
		&status,
		&source,
		&job.TargetCount,
		&job.ExecutedBy,
		&job.StartedAt,
		&completedAt,
		&job.VehiclesFound,
		&job.VehiclesNew,
		&job.Duplicates,
		&job.VehiclesUpdated,
		&job.DurationSeconds,
		&errsJSON,
	)
	if err != nil {
		return scraper.Job{}, err
	}
	job.Status = scraper.JobStatus(status)
	job.Source = scraper.Source(source)
	job.CompletedAt = completedAt
	job.Errors = []string{}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &job.Errors); err != nil {
			return scraper.Job{}, fmt.Errorf("unmarshal job errors: %w", err)
		}
	}
	return job, nil
}

func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}
