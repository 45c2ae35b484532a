package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vehicle-scraper/internal/dedupe"
	"github.com/JakeFAU/vehicle-scraper/internal/logging"
	"github.com/JakeFAU/vehicle-scraper/internal/metrics"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// Run drives a queued job to completed or failed. It implements worker.Runner.
func (o *Orchestrator) Run(ctx context.Context, item scraper.QueueItem) {
	logger := logging.ForJob(o.logger, item.JobID, string(item.Source))
	job, err := o.store.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status.IsTerminal() {
		logger.Warn("job already terminal, skipping", zap.String("status", string(job.Status)))
		return
	}

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	raw, err := o.collect(ctx, job)
	// Terminal writes must land even when shutdown cancels the worker.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("adapter invocation failed", zap.Error(err))
		o.fail(writeCtx, job, err, scraper.JobCounters{})
		return
	}
	logger.Info("adapters returned", zap.Int("listings", len(raw)))

	archiveURI := o.archive(writeCtx, job, raw)
	detector, threshold := o.detector(writeCtx)

	counters := scraper.JobCounters{VehiclesFound: len(raw)}
	errs := []string{}
	for _, listing := range raw {
		status, err := o.stage(writeCtx, job.ID, listing, detector, threshold)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s %s (%s): %v", listing.Make, listing.Model, listing.URL, err))
			metrics.ObserveListing(string(listing.Source), "error")
			continue
		}
		switch status {
		case scraper.ListingDuplicate:
			counters.Duplicates++
		case scraper.ListingPending:
			counters.VehiclesNew++
		}
		metrics.ObserveListing(string(listing.Source), string(status))
	}

	completedAt := o.clock.Now()
	completion := scraper.JobCompletion{
		Status:          scraper.JobStatusCompleted,
		CompletedAt:     completedAt,
		DurationSeconds: durationSeconds(job, completedAt),
		Counters:        counters,
		Errors:          errs,
	}
	if err := o.store.CompleteJob(writeCtx, job.ID, completion); err != nil {
		logger.Error("finalize job failed", zap.Error(err))
		o.fail(writeCtx, job, fmt.Errorf("finalize job: %w", err), counters)
		return
	}
	logger.Info("job completed",
		zap.Int("vehicles_found", counters.VehiclesFound),
		zap.Int("vehicles_new", counters.VehiclesNew),
		zap.Int("duplicates", counters.Duplicates),
		zap.Int("errors", len(errs)),
	)
	o.finish(writeCtx, job, completion, archiveURI)
}

// collect invokes the job's adapters concurrently and concatenates their
// results in registry order. The first adapter error cancels the rest.
func (o *Orchestrator) collect(ctx context.Context, job scraper.Job) ([]scraper.RawListing, error) {
	adapters, err := o.registry.Resolve(job.Source)
	if err != nil {
		return nil, err
	}
	limit := job.TargetCount
	if job.Source == scraper.SourceAll {
		limit = job.TargetCount / len(adapters)
	}

	results := make([][]scraper.RawListing, len(adapters))
	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range adapters {
		g.Go(func() error {
			listings, err := o.scrape(gctx, adapter, limit)
			if err != nil {
				metrics.ObserveAdapterError(string(adapter.Source()))
				return fmt.Errorf("%s: %w", adapter.Source(), err)
			}
			results[i] = listings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]scraper.RawListing, 0, total)
	for i, r := range results {
		for _, listing := range r {
			if listing.Source == "" {
				listing.Source = adapters[i].Source()
			}
			out = append(out, listing)
		}
	}
	return out, nil
}

type scrapeResult struct {
	listings []scraper.RawListing
	err      error
}

// scrape enforces the adapter timeout even when an adapter ignores its
// context: the job stops waiting and the adapter goroutine is abandoned.
func (o *Orchestrator) scrape(ctx context.Context, adapter scraper.Adapter, limit int) ([]scraper.RawListing, error) {
	if o.cfg.AdapterTimeout <= 0 {
		return o.invoke(ctx, adapter, limit)
	}
	actx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()

	done := make(chan scrapeResult, 1)
	go func() {
		listings, err := o.invoke(actx, adapter, limit)
		done <- scrapeResult{listings: listings, err: err}
	}()
	select {
	case res := <-done:
		if res.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", o.cfg.AdapterTimeout, res.err)
		}
		return res.listings, res.err
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", o.cfg.AdapterTimeout, actx.Err())
		}
		return nil, actx.Err()
	}
}

// invoke calls the adapter and turns a panic into an error so one broken
// adapter fails its job instead of the process.
func (o *Orchestrator) invoke(ctx context.Context, adapter scraper.Adapter, limit int) (listings []scraper.RawListing, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("adapter panicked", zap.String("source", string(adapter.Source())), zap.Any("panic", r))
			listings, err = nil, fmt.Errorf("adapter panicked: %v", r)
		}
	}()
	return adapter.Scrape(ctx, limit, o.cfg.FetchDetails)
}

// detector reads the per-job detection settings once. Missing or unreadable
// values fall back to defaults.
func (o *Orchestrator) detector(ctx context.Context) (*dedupe.Detector, int) {
	threshold := scraper.DefaultDuplicateThreshold
	if raw, err := o.config.GetConfig(ctx, scraper.ConfigDuplicateThreshold); err == nil {
		if n, convErr := strconv.Atoi(strings.TrimSpace(raw)); convErr == nil && n >= 0 && n <= 100 {
			threshold = n
		} else {
			o.logger.Warn("ignoring invalid duplicate_threshold", zap.String("value", raw))
		}
	} else if !errors.Is(err, scraper.ErrNotFound) {
		o.logger.Warn("read duplicate_threshold failed, using default", zap.Error(err))
	}

	strategy := scraper.MatchFirst
	if raw, err := o.config.GetConfig(ctx, scraper.ConfigMatchStrategy); err == nil {
		strategy = raw
	} else if !errors.Is(err, scraper.ErrNotFound) {
		o.logger.Warn("read match_strategy failed, using default", zap.Error(err))
	}
	return dedupe.New(strategy), threshold
}

// stage runs duplicate detection for one listing and persists it.
func (o *Orchestrator) stage(
	ctx context.Context,
	jobID string,
	raw scraper.RawListing,
	detector *dedupe.Detector,
	threshold int,
) (scraper.ListingStatus, error) {
	candidates, err := o.store.ListByMake(ctx, raw.Make)
	if err != nil {
		return "", fmt.Errorf("load candidates: %w", err)
	}
	verdict := detector.Detect(raw, candidates, threshold)

	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate listing id: %w", err)
	}
	listing := scraper.Listing{
		ID:         id,
		JobID:      jobID,
		Status:     scraper.ListingPending,
		Confidence: verdict.Confidence,
		CreatedAt:  o.clock.Now(),
		RawListing: raw,
	}
	if verdict.IsDuplicate {
		matched := verdict.MatchedVehicleID
		listing.Status = scraper.ListingDuplicate
		listing.MatchedVehicleID = &matched
	}
	if err := o.store.CreateListing(ctx, listing); err != nil {
		return "", fmt.Errorf("stage listing: %w", err)
	}
	return listing.Status, nil
}

// archive stores the raw batch for replay and auditing. Failures are logged only.
func (o *Orchestrator) archive(ctx context.Context, job scraper.Job, raw []scraper.RawListing) string {
	if o.blobs == nil || len(raw) == 0 {
		return ""
	}
	logger := o.logger.With(zap.String("job_id", job.ID))
	data, err := json.Marshal(raw)
	if err != nil {
		logger.Warn("encode raw batch failed", zap.Error(err))
		return ""
	}
	digest, err := o.hasher.Hash(data)
	if err != nil {
		logger.Warn("hash raw batch failed", zap.Error(err))
		return ""
	}
	uri, err := o.blobs.PutObject(ctx, o.archivePath(job.ID, digest), "application/json", bytes.NewReader(data))
	if err != nil {
		logger.Warn("archive raw batch failed", zap.Error(err))
		return ""
	}
	logger.Debug("raw batch archived", zap.String("uri", uri))
	return uri
}

func (o *Orchestrator) archivePath(jobID, digest string) string {
	prefix := strings.Trim(o.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", jobID, digest)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, jobID, digest)
}

// Abandon fails a job whose run never started or aborted. Terminal jobs are left alone.
func (o *Orchestrator) Abandon(ctx context.Context, item scraper.QueueItem, cause error) {
	writeCtx := context.WithoutCancel(ctx)
	job, err := o.store.GetJob(writeCtx, item.JobID)
	if err != nil {
		o.logger.Error("load abandoned job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if job.Status.IsTerminal() {
		return
	}
	o.logger.Warn("abandoning job", zap.String("job_id", job.ID), zap.Error(cause))
	o.fail(writeCtx, job, cause, scraper.JobCounters{})
}

// FailStale fails every job still running in the store. Call it before
// workers start: any running job then belongs to a process that is gone.
func (o *Orchestrator) FailStale(ctx context.Context) (int, error) {
	jobs, err := o.store.RunningJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}
	failed := 0
	for _, job := range jobs {
		if o.fail(ctx, job, ErrInterrupted, scraper.JobCounters{}) {
			failed++
		}
	}
	if failed > 0 {
		o.logger.Warn("failed stale jobs", zap.Int("count", failed))
	}
	return failed, nil
}

// fail marks the job failed with err as its only error entry.
func (o *Orchestrator) fail(ctx context.Context, job scraper.Job, err error, counters scraper.JobCounters) bool {
	completedAt := o.clock.Now()
	completion := scraper.JobCompletion{
		Status:          scraper.JobStatusFailed,
		CompletedAt:     completedAt,
		DurationSeconds: durationSeconds(job, completedAt),
		Counters:        counters,
		Errors:          []string{err.Error()},
	}
	if writeErr := o.store.CompleteJob(ctx, job.ID, completion); writeErr != nil {
		o.logger.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(writeErr))
		return false
	}
	o.finish(ctx, job, completion, "")
	return true
}

func (o *Orchestrator) finish(ctx context.Context, job scraper.Job, completion scraper.JobCompletion, archiveURI string) {
	metrics.ObserveJob(string(job.Source), string(completion.Status), completion.CompletedAt.Sub(job.StartedAt))
	if o.publisher == nil {
		return
	}
	event := newJobEvent(job, completion, archiveURI)
	if _, err := o.publisher.Publish(ctx, o.cfg.EventsTopic, event); err != nil {
		o.logger.Warn("publish job event failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func durationSeconds(job scraper.Job, completedAt time.Time) int {
	d := completedAt.Sub(job.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}
