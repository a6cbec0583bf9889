package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/store"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	f := store.JobFilter{
		Status:  r.URL.Query().Get("status"),
		JobType: r.URL.Query().Get("job_type"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
		Sort:    r.URL.Query().Get("sort"),
		Order:   r.URL.Query().Get("order"),
	}
	jobs, err := s.jobs.ListJobs(r.Context(), f)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

// jobStatusResponse is §4.5's progress(jobId) view joined with the job
// itself.
type jobStatusResponse struct {
	Job      domain.Job        `json:"job"`
	Progress jobmanagerProgress `json:"progress"`
}

type jobmanagerProgress struct {
	Total           int     `json:"total"`
	Processed       int     `json:"processed"`
	Failed          int     `json:"failed"`
	Remaining       int     `json:"remaining"`
	Processing      int     `json:"processing"`
	PercentComplete float64 `json:"percentComplete"`
	ETA             string  `json:"eta"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	progress, err := s.jobs.Progress(r.Context(), jobID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobStatusResponse{
		Job: job,
		Progress: jobmanagerProgress{
			Total:           progress.Total,
			Processed:       progress.Processed,
			Failed:          progress.Failed,
			Remaining:       progress.Remaining,
			Processing:      progress.Processing,
			PercentComplete: progress.PercentComplete,
			ETA:             progress.ETA,
		},
	})
}

// handleCancelJob implements DELETE /jobs?jobId={id} (§6.1): 200 on
// success, 400 if the job is no longer pending (§4.5's CanCancel).
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "jobId is required")
		return
	}
	if err := s.jobs.Cancel(r.Context(), jobID); err != nil {
		if apperr.Is(err, apperr.Conflict) {
			s.writeError(w, http.StatusBadRequest, string(apperr.Conflict), err.Error())
			return
		}
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "status": "cancelled"})
}

// handleAdminQueue is the supplemented admin queue-inspection endpoint
// (SPEC_FULL.md supplemented features): surfaces non-terminal jobs with
// their current queue depth, for operators diagnosing a stuck pipeline.
func (s *Server) handleAdminQueue(w http.ResponseWriter, r *http.Request) {
	pending, err := s.jobs.ListJobs(r.Context(), store.JobFilter{Status: string(domain.JobStatusPending), Limit: 200})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	processing, err := s.jobs.ListJobs(r.Context(), store.JobFilter{Status: string(domain.JobStatusProcessing), Limit: 200})
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	type queueEntry struct {
		Job   domain.Job `json:"job"`
		Depth int        `json:"depth"`
	}
	entries := make([]queueEntry, 0, len(pending)+len(processing))
	for _, j := range append(pending, processing...) {
		depth, err := s.gw.QueueDepthForJob(r.Context(), j.ID)
		if err != nil {
			continue
		}
		entries = append(entries, queueEntry{Job: j, Depth: depth})
	}
	s.writeJSON(w, http.StatusOK, entries)
}
