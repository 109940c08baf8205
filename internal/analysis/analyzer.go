// Package analysis turns extracted document text into a structured DocumentAnalysis by
// sending it chunk by chunk to the AI collaborator and merging the partial results.
package analysis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jonathan/knowledge-brain/internal/chunking"
	"github.com/jonathan/knowledge-brain/internal/llm"
	"github.com/jonathan/knowledge-brain/internal/logger"
	"github.com/jonathan/knowledge-brain/internal/metrics"
	"github.com/jonathan/knowledge-brain/internal/prompts"
	"github.com/jonathan/knowledge-brain/internal/rules"
	"github.com/jonathan/knowledge-brain/internal/schemas"
	"github.com/jonathan/knowledge-brain/internal/types"
)

const promptFile = "analysis.json"

// Config tunes the analyzer.
type Config struct {
	MaxChunkChars int
	Tier          llm.ModelTier
	Retry         llm.RetryPolicy
}

// DefaultConfig returns the production analyzer configuration.
func DefaultConfig() Config {
	return Config{
		MaxChunkChars: chunking.MaxChunkChars,
		Tier:          llm.TierStandard,
		Retry:         llm.DefaultRetryPolicy(),
	}
}

// ProgressFunc is called after each chunk with the number of chunks done and the total.
type ProgressFunc func(done, total int)

// Analyzer analyzes documents with the collaborator.
type Analyzer struct {
	client llm.Client
	cfg    Config
	log    *logger.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(client llm.Client, cfg Config, log *logger.Logger) *Analyzer {
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = chunking.MaxChunkChars
	}
	if cfg.Tier == "" {
		cfg.Tier = llm.TierStandard
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Analyzer{client: client, cfg: cfg, log: log.With("component", "analyzer")}
}

// Analyze splits text into chunks, analyzes them strictly in order and merges the results.
// A chunk whose reply cannot be parsed degrades to a raw-response placeholder instead of
// failing the document. Exhausted transient failures return *TransientError; rejected
// requests return *CollaboratorError.
func (a *Analyzer) Analyze(ctx context.Context, docType types.DocumentType, text string, onProgress ProgressFunc) (*types.DocumentAnalysis, error) {
	started := time.Now()
	chunks := chunking.Split(text, a.cfg.MaxChunkChars)
	log := a.log.With("document_type", docType, "chunks", len(chunks))

	system, err := prompts.Get(promptFile, "system")
	if err != nil {
		return nil, err
	}
	instructions, err := prompts.Get(promptFile, string(docType))
	if err != nil {
		instructions, _ = prompts.Get(promptFile, string(types.DocumentTypeSupporting))
	}

	parts := make([]types.DocumentAnalysis, 0, len(chunks)+1)
	if docType == types.DocumentTypePolicy {
		if parsed := rules.Parse(text); len(parsed) > 0 {
			log.Debug("pre-extracted policy rules", "rules", len(parsed))
			parts = append(parts, types.DocumentAnalysis{Rules: rules.Strings(parsed)})
		}
	}

	for i, chunk := range chunks {
		content, err := prompts.Render(promptFile, "chunk", map[string]string{
			"DocumentType":     string(docType),
			"ChunkNumber":      strconv.Itoa(i + 1),
			"ChunkCount":       strconv.Itoa(len(chunks)),
			"TypeInstructions": instructions,
			"Text":             chunk,
		})
		if err != nil {
			return nil, err
		}
		req := llm.Request{SystemInstructions: system, Content: content, Tier: a.cfg.Tier}

		raw, err := llm.CallWithRetry(ctx, a.cfg.Retry, func(callCtx context.Context) (string, error) {
			return a.client.GenerateJSON(callCtx, req)
		}, func(err error, wait time.Duration) {
			metrics.IncCollaboratorCall("retry")
			log.Warn("collaborator call failed, retrying", "chunk", i+1, "wait", wait, "error", err)
		})
		if err != nil {
			metrics.IncCollaboratorCall("failed")
			metrics.ObserveAnalysisDuration("failed", time.Since(started).Seconds())
			if llm.IsTransient(err) {
				return nil, &TransientError{DocumentType: string(docType), Chunk: i + 1, Message: "retries exhausted", Cause: err}
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &CollaboratorError{DocumentType: string(docType), Chunk: i + 1, Cause: err}
		}
		metrics.IncCollaboratorCall("succeeded")

		part := a.parse(raw)
		if part.Degraded {
			log.Warn("malformed collaborator reply, keeping raw response", "chunk", i+1)
		}
		parts = append(parts, part)

		if onProgress != nil {
			onProgress(i+1, len(chunks))
		}
	}

	merged := Merge(parts...)
	metrics.ObserveAnalysisDuration("succeeded", time.Since(started).Seconds())
	log.Info("document analyzed", "rules", len(merged.Rules), "criteria", len(merged.Criteria), "degraded", merged.Degraded)
	return &merged, nil
}

// parse decodes a chunk reply, falling back to a degraded result when it does not
// match the analysis shape.
func (a *Analyzer) parse(raw string) types.DocumentAnalysis {
	cleaned := llm.CleanJSONBlock(raw)

	var part types.DocumentAnalysis
	if err := schemas.ValidateAnalysis(cleaned); err != nil {
		return degraded(raw)
	}
	if err := json.Unmarshal([]byte(cleaned), &part); err != nil {
		return degraded(raw)
	}
	part.RawResponse = ""
	part.Degraded = false
	part.ChunkCount = 1
	return part
}

func degraded(raw string) types.DocumentAnalysis {
	out := types.EmptyAnalysis()
	out.RawResponse = raw
	out.Degraded = true
	out.ChunkCount = 1
	return out
}
