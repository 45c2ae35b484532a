package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodyBytes    = 1 << 20
)

type startJobRequest struct {
	Source      string `json:"source"`
	TargetCount int    `json:"target_count"`
	ExecutedBy  string `json:"executed_by"`
}

type reviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

type configValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type jobsPage struct {
	Jobs   []scraper.Job `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type resultsPage struct {
	JobID   string            `json:"job_id"`
	Results []scraper.Listing `json:"results"`
	Count   int               `json:"count"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.deps.Jobs.StartJob(r.Context(), scraper.ParseSource(req.Source), req.TargetCount, strings.TrimSpace(req.ExecutedBy))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 || limit > maxPageSize {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
		return
	}
	jobs, total, err := s.deps.Jobs.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []scraper.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobsPage{Jobs: jobs, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if detail.Preview == nil {
		detail.Preview = []scraper.Listing{}
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	filter := scraper.ListingFilter{
		Status: scraper.ListingStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))),
		Make:   r.URL.Query().Get("make"),
	}
	results, err := s.deps.Reviews.ListResults(r.Context(), jobID, filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []scraper.Listing{}
	}
	s.writeJSON(w, http.StatusOK, resultsPage{JobID: jobID, Results: results, Count: len(results)})
}

func (s *Server) importJob(w http.ResponseWriter, r *http.Request) {
	var opts scraper.ImportOptions
	if err := decodeBody(r, &opts, true); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.deps.Imports.ImportApproved(r.Context(), chi.URLParam(r, "job_id"), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) approveResult(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, s.deps.Reviews.Approve)
}

func (s *Server) rejectResult(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, s.deps.Reviews.Reject)
}

type decision func(ctx context.Context, listingID, reviewerID string) (scraper.Listing, error)

func (s *Server) review(w http.ResponseWriter, r *http.Request, decide decision) {
	var req reviewRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	listing, err := decide(r.Context(), chi.URLParam(r, "result_id"), strings.TrimSpace(req.ReviewerID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.deps.Config.GetConfig(r.Context(), key)
	if errors.Is(err, scraper.ErrNotFound) {
		if def, ok := scraper.DefaultConfigValue(key); ok {
			value, err = def, nil
		}
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, configValue{Key: key, Value: value})
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req configValue
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value := strings.TrimSpace(req.Value)
	if err := s.deps.Config.SetConfig(r.Context(), key, value); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, configValue{Key: key, Value: value})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Jobs.Summary(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// decodeBody reads a JSON object. allowEmpty accepts a missing body.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}
