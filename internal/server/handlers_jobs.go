package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/pipeline"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// handleProcessSubject starts document analysis for every document of the subject
func (s *Server) handleProcessSubject(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := s.pathUUID(w, r, "id", "subject")
	if !ok {
		return
	}

	job, err := s.deps.Dispatcher.DispatchSubject(r.Context(), subjectID)
	if err != nil {
		var enqueueErr *pipeline.EnqueueError
		if errors.As(err, &enqueueErr) && job != nil {
			s.log.Error("dispatch failed", "subject_id", subjectID, "job_id", job.ID, "error", err)
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]any{
				"error": err.Error(),
				"job":   jobs.View(job),
			})
			return
		}
		s.failResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, jobs.View(job))
}

// handleListJobs lists the subject's jobs, newest first
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := s.pathUUID(w, r, "id", "subject")
	if !ok {
		return
	}

	list, err := s.deps.Jobs.ListForSubject(r.Context(), subjectID)
	if err != nil {
		s.failResponse(w, r, err)
		return
	}

	kind := types.JobKind(r.URL.Query().Get("kind"))
	views := make([]jobs.StatusView, 0, len(list))
	for _, job := range list {
		if kind != "" && job.Kind != kind {
			continue
		}
		views = append(views, jobs.View(job))
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"jobs":  views,
		"total": len(views),
	})
}

// handleGetJob returns a job's status view
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "id", "job")
	if !ok {
		return
	}

	job, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		s.failResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, jobs.View(job))
}

// handleRetryJob resets a FAILED job and re-enqueues its remaining work
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "id", "job")
	if !ok {
		return
	}

	job, err := s.deps.Dispatcher.Retry(r.Context(), jobID)
	if err != nil && job == nil {
		s.failResponse(w, r, err)
		return
	}
	if err != nil {
		// The job is PENDING again; the stall detector re-enqueues it once the queue recovers.
		s.jsonResponse(w, http.StatusAccepted, map[string]any{
			"job":     jobs.View(job),
			"warning": err.Error(),
		})
		return
	}
	s.jsonResponse(w, http.StatusAccepted, jobs.View(job))
}
