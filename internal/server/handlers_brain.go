package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// handleAssemble builds the next brain version from the subject's analyzed documents
func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := s.pathUUID(w, r, "id", "subject")
	if !ok {
		return
	}

	b, job, err := s.deps.Assembler.Assemble(r.Context(), subjectID)
	if err != nil {
		body := map[string]any{"error": err.Error()}
		if job != nil {
			if latest, getErr := s.deps.Jobs.Get(r.Context(), job.ID); getErr == nil {
				job = latest
			}
			body["job"] = jobs.View(job)
		}
		status := HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("assembly failed", "subject_id", subjectID, "error", err)
		}
		s.jsonResponse(w, status, body)
		return
	}

	if latest, getErr := s.deps.Jobs.Get(r.Context(), job.ID); getErr == nil {
		job = latest
	}
	s.jsonResponse(w, http.StatusCreated, map[string]any{
		"brain": b,
		"job":   jobs.View(job),
	})
}

// handleGetBrain returns the latest brain, or the version named by ?version=
func (s *Server) handleGetBrain(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := s.pathUUID(w, r, "id", "subject")
	if !ok {
		return
	}

	var (
		b   *types.Brain
		err error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil || version < 1 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid brain version")
			return
		}
		b, err = s.deps.Brains.Get(r.Context(), subjectID, version)
	} else {
		b, err = s.deps.Brains.Latest(r.Context(), subjectID)
	}
	if err != nil {
		s.failResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, b)
}

// handleAssess scores a submission against the subject's latest brain
func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := s.pathUUID(w, r, "id", "subject")
	if !ok {
		return
	}

	var req types.AssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.failResponse(w, r, err)
		return
	}

	b, err := s.deps.Brains.Latest(r.Context(), subjectID)
	if err != nil {
		s.failResponse(w, r, err)
		return
	}
	result, err := s.deps.Assessor.Assess(r.Context(), b, req.Text, req.Template)
	if err != nil {
		s.failResponse(w, r, err)
		return
	}
	s.log.Info("assessment completed", "subject_id", subjectID, "brain_version", b.Version, "overall_score", result.Scoring.OverallScore)
	s.jsonResponse(w, http.StatusOK, result)
}
