package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/storage"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// handleCreateSubject registers a new subject in draft status
func (s *Server) handleCreateSubject(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Kind == "" {
		req.Kind = "fund"
	}
	if err := req.Validate(); err != nil {
		s.failResponse(w, r, err)
		return
	}

	subject, err := s.deps.Documents.CreateSubject(r.Context(), req.Name, req.Kind)
	if err != nil {
		s.failResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, subject)
}

// handleGetSubject retrieves a subject by ID
func (s *Server) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := s.pathUUID(w, r, "id", "subject")
	if !ok {
		return
	}
	subject, err := s.deps.Documents.GetSubject(r.Context(), subjectID)
	if err != nil {
		s.failResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, subject)
}

// handleUploadDocument stores the uploaded bytes and records the document.
// Accepts either a JSON body (types.UploadDocumentRequest) or multipart/form-data
// with a "file" part and a "document_type" field.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := s.pathUUID(w, r, "id", "subject")
	if !ok {
		return
	}
	if _, err := s.deps.Documents.GetSubject(r.Context(), subjectID); err != nil {
		s.failResponse(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	upload, data, err := s.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "Document exceeds the upload limit")
			return
		}
		s.failResponse(w, r, err)
		return
	}

	docID := uuid.New()
	key, err := s.deps.Storage.Put(r.Context(), storage.DocumentKey(subjectID, docID, upload.FileName), data, upload.ContentType)
	if err != nil {
		s.failResponse(w, r, err)
		return
	}

	doc, err := s.deps.Documents.CreateDocument(r.Context(), &types.Document{
		ID:           docID,
		SubjectID:    subjectID,
		DocumentType: upload.DocumentType,
		StorageKey:   key,
		FileName:     upload.FileName,
		ContentType:  upload.ContentType,
	})
	if err != nil {
		s.failResponse(w, r, err)
		return
	}
	s.log.Info("document uploaded", "subject_id", subjectID, "document_id", doc.ID, "type", doc.DocumentType, "bytes", len(data))
	s.jsonResponse(w, http.StatusCreated, doc)
}

func (s *Server) readUpload(r *http.Request) (*types.UploadDocumentRequest, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req types.UploadDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, nil, err
			}
			return nil, nil, &ErrValidation{Field: "body", Message: "invalid JSON"}
		}
		if req.ContentType == "" {
			req.ContentType = "text/plain; charset=utf-8"
		}
		if err := req.Validate(); err != nil {
			return nil, nil, err
		}
		return &req, []byte(req.Content), nil
	}

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		return nil, nil, &ErrValidation{Field: "body", Message: "invalid multipart form"}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, &ErrValidation{Field: "file", Message: "file part is required"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, err
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	req := &types.UploadDocumentRequest{
		DocumentType: types.DocumentType(r.FormValue("document_type")),
		FileName:     header.Filename,
		ContentType:  contentType,
		Content:      "-", // bytes travel separately
	}
	if len(data) == 0 {
		return nil, nil, &ErrValidation{Field: "file", Message: "file is empty"}
	}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	return req, data, nil
}

// handleListDocuments lists a subject's documents, oldest first
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := s.pathUUID(w, r, "id", "subject")
	if !ok {
		return
	}
	if _, err := s.deps.Documents.GetSubject(r.Context(), subjectID); err != nil {
		s.failResponse(w, r, err)
		return
	}
	docs, err := s.deps.Documents.ListDocuments(r.Context(), subjectID)
	if err != nil {
		s.failResponse(w, r, err)
		return
	}
	if docs == nil {
		docs = []*types.Document{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}
