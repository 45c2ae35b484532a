// Package main hosts the vehicle-scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job, review, import, config and stats endpoints for
//     the review dashboard. Starting a job persists it as running and enqueues it; the request returns immediately.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by scraper.queue_depth and are run by a
//     fixed worker pool sized by scraper.max_concurrent_jobs. A full queue refuses new jobs with 503.
//   - Orchestrator: each job fans out to the registered source adapters (one per marketplace, CSS selector driven,
//     Colly fetches with optional chromedp rendering), joins their results in registration order, scores every
//     listing against the canonical catalog and stages it as pending or duplicate.
//   - Persistence: Postgres (pgx, golang-migrate) or in-memory stores; optional Redis cache for scraper config;
//     raw batches archived to memory/local/GCS/S3; job.finished events published to Pub/Sub when enabled.
//   - Configuration & plumbing: Viper with SCRAPER_* env overrides and optional .env file; zap structured logging;
//     Prometheus metrics at /metrics.
//
// Commands: serve, scrape --source --target --executed-by, migrate up|down|version.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/vehicle-scraper/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vehicle-scraper: %v\n", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}
