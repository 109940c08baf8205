package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SubjectStatus is the lifecycle state of a subject's knowledge brain.
type SubjectStatus string

// Subject statuses
const (
	SubjectStatusDraft      SubjectStatus = "draft"
	SubjectStatusProcessing SubjectStatus = "processing"
	SubjectStatusActive     SubjectStatus = "active"
	SubjectStatusFailed     SubjectStatus = "failed"
)

// Subject is the entity (a fund, a tender, a knowledge base) whose documents feed one brain.
type Subject struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	Status    SubjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// DocumentType classifies an uploaded document.
type DocumentType string

// Document types
const (
	DocumentTypeApplicationForm DocumentType = "application_form"
	DocumentTypeCriteria        DocumentType = "criteria"
	DocumentTypePolicy          DocumentType = "policy"
	DocumentTypeTemplate        DocumentType = "template"
	DocumentTypeSupporting      DocumentType = "supporting"
)

// AllDocumentTypes lists the document types in canonical order.
var AllDocumentTypes = []DocumentType{
	DocumentTypeApplicationForm,
	DocumentTypeCriteria,
	DocumentTypePolicy,
	DocumentTypeTemplate,
	DocumentTypeSupporting,
}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	for _, known := range AllDocumentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Document is an uploaded file belonging to a subject.
type Document struct {
	ID             uuid.UUID         `json:"id"`
	SubjectID      uuid.UUID         `json:"subject_id"`
	DocumentType   DocumentType      `json:"document_type"`
	StorageKey     string            `json:"storage_key"`
	FileName       string            `json:"file_name"`
	ContentType    string            `json:"content_type"`
	AnalysisResult *DocumentAnalysis `json:"analysis_result,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	AnalyzedAt     *time.Time        `json:"analyzed_at,omitempty"`
}

// Criterion is a named, weighted scoring criterion.
type Criterion struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight"`
}

// DocumentAnalysis is the structured extraction produced for a document.
type DocumentAnalysis struct {
	Title        string            `json:"title,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Rules        []string          `json:"rules"`
	Requirements []string          `json:"requirements"`
	Criteria     []Criterion       `json:"criteria"`
	Keywords     []string          `json:"keywords"`
	Placeholders []string          `json:"placeholders"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RawResponse  string            `json:"raw_response,omitempty"`
	Degraded     bool              `json:"degraded,omitempty"`
	ChunkCount   int               `json:"chunk_count,omitempty"`
}

// EmptyAnalysis returns an analysis with all collections initialized and empty.
func EmptyAnalysis() DocumentAnalysis {
	return DocumentAnalysis{
		Rules:        []string{},
		Requirements: []string{},
		Criteria:     []Criterion{},
		Keywords:     []string{},
		Placeholders: []string{},
	}
}

// CreateSubjectRequest is the request to register a new subject.
type CreateSubjectRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
	Kind string `json:"kind" validate:"omitempty,oneof=fund tender knowledge_base"`
}

// Validate validates the CreateSubjectRequest using the validator.
func (r *CreateSubjectRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// UploadDocumentRequest is the JSON form of a document upload.
type UploadDocumentRequest struct {
	DocumentType DocumentType `json:"document_type" validate:"required,oneof=application_form criteria policy template supporting"`
	FileName     string       `json:"file_name" validate:"required"`
	ContentType  string       `json:"content_type"`
	Content      string       `json:"content" validate:"required"`
}

// Validate validates the UploadDocumentRequest using the validator.
func (r *UploadDocumentRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// AssessmentRequest asks for a submission to be scored against a subject's brain.
type AssessmentRequest struct {
	Text     string  `json:"text" validate:"required"`
	Template *string `json:"template,omitempty"`
}

// Validate validates the AssessmentRequest using the validator.
func (r *AssessmentRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
