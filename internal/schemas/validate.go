// Package schemas checks collaborator replies against the JSON Schemas of the documented response shapes.
package schemas

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed *.schema.json
var schemaFiles embed.FS

// Embedded schema names
const (
	AnalysisSchema = "analysis.schema.json"
	ScoringSchema  = "scoring.schema.json"
)

// Violation is one schema rule a reply breaks.
type Violation struct {
	Field   string
	Message string
}

// ValidationError is returned when a reply parses as JSON but does not match its schema.
type ValidationError struct {
	Schema     string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return fmt.Sprintf("reply does not match %s: %s", e.Schema, strings.Join(parts, "; "))
}

// Fields returns the distinct offending field paths, sorted.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]bool, len(e.Violations))
	var fields []string
	for _, v := range e.Violations {
		if !seen[v.Field] {
			seen[v.Field] = true
			fields = append(fields, v.Field)
		}
	}
	sort.Strings(fields)
	return fields
}

// DocumentError is returned when a reply is not parseable JSON, or a schema cannot be compiled.
type DocumentError struct {
	Schema string
	Cause  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("cannot check reply against %s: %v", e.Schema, e.Cause)
}

func (e *DocumentError) Unwrap() error {
	return e.Cause
}

var compiled = sync.OnceValues(func() (map[string]*gojsonschema.Schema, error) {
	names, err := fs.Glob(schemaFiles, "*.schema.json")
	if err != nil {
		return nil, err
	}
	out := make(map[string]*gojsonschema.Schema, len(names))
	for _, name := range names {
		data, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, &DocumentError{Schema: name, Cause: err}
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, &DocumentError{Schema: name, Cause: err}
		}
		out[name] = schema
	}
	return out, nil
})

// ValidateAnalysis checks a document analysis reply.
func ValidateAnalysis(reply string) error {
	return Validate(AnalysisSchema, reply)
}

// ValidateScoring checks a submission scoring reply.
func ValidateScoring(reply string) error {
	return Validate(ScoringSchema, reply)
}

// Validate checks reply against the embedded schema called name.
func Validate(name, reply string) error {
	all, err := compiled()
	if err != nil {
		return err
	}
	schema, ok := all[name]
	if !ok {
		return &DocumentError{Schema: name, Cause: fmt.Errorf("schema is not embedded")}
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(reply))
	if err != nil {
		return &DocumentError{Schema: name, Cause: err}
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Schema: name}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" || field == "(root)" {
			field = "$"
		}
		verr.Violations = append(verr.Violations, Violation{Field: field, Message: desc.Description()})
	}
	return verr
}
