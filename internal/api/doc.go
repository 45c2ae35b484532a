// Package api hosts the HTTP server, middleware, and REST handlers for the
// review dashboard. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/scraper/jobs for starting, listing and importing scrape jobs.
//   - /v1/scraper/results/{result_id} for approve/reject decisions.
//   - /v1/scraper/config/{key} and /v1/scraper/stats for administration.
package api
