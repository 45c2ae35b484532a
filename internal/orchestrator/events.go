package orchestrator

import (
	"strconv"
	"time"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// JobEvent is published when a job reaches a terminal state.
type JobEvent struct {
	Type            string            `json:"type"`
	JobID           string            `json:"job_id"`
	Source          scraper.Source    `json:"source"`
	Status          scraper.JobStatus `json:"status"`
	ExecutedBy      string            `json:"executed_by"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at"`
	DurationSeconds int               `json:"duration_seconds"`
	VehiclesFound   int               `json:"vehicles_found"`
	VehiclesNew     int               `json:"vehicles_new"`
	Duplicates      int               `json:"duplicates"`
	ErrorCount      int               `json:"error_count"`
	ArchiveURI      string            `json:"archive_uri,omitempty"`
}

func newJobEvent(job scraper.Job, completion scraper.JobCompletion, archiveURI string) JobEvent {
	return JobEvent{
		Type:            "job.finished",
		JobID:           job.ID,
		Source:          job.Source,
		Status:          completion.Status,
		ExecutedBy:      job.ExecutedBy,
		StartedAt:       job.StartedAt,
		CompletedAt:     completion.CompletedAt,
		DurationSeconds: completion.DurationSeconds,
		VehiclesFound:   completion.Counters.VehiclesFound,
		VehiclesNew:     completion.Counters.VehiclesNew,
		Duplicates:      completion.Counters.Duplicates,
		ErrorCount:      len(completion.Errors),
		ArchiveURI:      archiveURI,
	}
}

// Attributes exposes routing keys as Pub/Sub message attributes.
func (e JobEvent) Attributes() map[string]string {
	return map[string]string{
		"type":   e.Type,
		"job_id": e.JobID,
		"source": string(e.Source),
		"status": string(e.Status),
		"errors": strconv.Itoa(e.ErrorCount),
	}
}
