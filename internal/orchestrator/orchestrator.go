// Package orchestrator creates scrape jobs and drives them from the
// marketplace adapters through duplicate detection into staging.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
	"github.com/JakeFAU/vehicle-scraper/internal/source"
)

// ErrInterrupted fails jobs left running by a process that stopped mid-job.
var ErrInterrupted = errors.New("interrupted by restart")

// Config tunes job execution.
type Config struct {
	// AdapterTimeout bounds each adapter invocation. Zero disables the bound.
	AdapterTimeout time.Duration
	// FetchDetails asks adapters to open every listing's detail page.
	FetchDetails bool
	// ArchivePrefix is prepended to archived raw batch paths.
	ArchivePrefix string
	// EventsTopic receives a job.finished event per terminal job.
	EventsTopic string
	// PreviewSize is the number of recent listings returned with a job.
	PreviewSize int
}

// Deps are the collaborators an Orchestrator needs. Blobs and Publisher are optional.
type Deps struct {
	Store     scraper.Store
	Config    scraper.ConfigStore
	Registry  *source.Registry
	Queue     scraper.Queue
	Blobs     scraper.BlobStore
	Publisher scraper.Publisher
	Hasher    scraper.Hasher
	Clock     scraper.Clock
	IDs       scraper.IDGenerator
}

// Orchestrator owns the scrape job lifecycle.
type Orchestrator struct {
	store     scraper.Store
	config    scraper.ConfigStore
	registry  *source.Registry
	queue     scraper.Queue
	blobs     scraper.BlobStore
	publisher scraper.Publisher
	hasher    scraper.Hasher
	clock     scraper.Clock
	ids       scraper.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New validates deps and builds an Orchestrator. Config reads go to
// deps.Config when set (e.g. a cache), otherwise to the store.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Registry == nil:
		return nil, errors.New("source registry is required")
	case deps.Queue == nil:
		return nil, errors.New("queue is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if deps.Blobs != nil && deps.Hasher == nil {
		return nil, errors.New("hasher is required when archiving")
	}
	if deps.Config == nil {
		deps.Config = deps.Store
	}
	if cfg.PreviewSize <= 0 {
		cfg.PreviewSize = 5
	}
	if cfg.EventsTopic == "" {
		cfg.EventsTopic = "scrape-jobs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     deps.Store,
		config:    deps.Config,
		registry:  deps.Registry,
		queue:     deps.Queue,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}, nil
}

// StartJob persists a running job and queues it. It returns as soon as the
// job is queued; a worker drives it to a terminal state.
func (o *Orchestrator) StartJob(
	ctx context.Context,
	src scraper.Source,
	targetCount int,
	executedBy string,
) (scraper.Job, error) {
	executedBy = strings.TrimSpace(executedBy)
	if targetCount <= 0 {
		return scraper.Job{}, fmt.Errorf("target_count must be positive: %w", scraper.ErrInvalidArgument)
	}
	if executedBy == "" {
		return scraper.Job{}, fmt.Errorf("executed_by is required: %w", scraper.ErrInvalidArgument)
	}
	if _, err := o.registry.Resolve(src); err != nil {
		return scraper.Job{}, err
	}

	id, err := o.ids.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scraper.Job{
		ID:          id,
		Status:      scraper.JobStatusRunning,
		Source:      src,
		TargetCount: targetCount,
		ExecutedBy:  executedBy,
		StartedAt:   o.clock.Now(),
		Errors:      []string{},
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return scraper.Job{}, fmt.Errorf("create job: %w", err)
	}

	item := scraper.QueueItem{
		JobID:       job.ID,
		Source:      src,
		TargetCount: targetCount,
		Submitted:   job.StartedAt.UnixNano(),
	}
	if err := o.queue.Enqueue(ctx, item); err != nil {
		o.fail(context.WithoutCancel(ctx), job, fmt.Errorf("enqueue job: %w", err), scraper.JobCounters{})
		return scraper.Job{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	o.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("source", string(src)),
		zap.Int("target_count", targetCount),
		zap.String("executed_by", executedBy),
	)
	return job, nil
}

// JobDetail is a job plus its most recently staged listings.
type JobDetail struct {
	scraper.Job
	Preview []scraper.Listing `json:"preview"`
}

// GetJob returns a job with a preview of its newest listings.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (JobDetail, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return JobDetail{}, err
	}
	preview, err := o.store.RecentListings(ctx, jobID, o.cfg.PreviewSize)
	if err != nil {
		return JobDetail{}, fmt.Errorf("load preview: %w", err)
	}
	return JobDetail{Job: job, Preview: preview}, nil
}

// ListJobs pages through jobs newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, limit, offset int) ([]scraper.Job, int, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, fmt.Errorf("limit and offset must not be negative: %w", scraper.ErrInvalidArgument)
	}
	return o.store.ListJobs(ctx, limit, offset)
}
