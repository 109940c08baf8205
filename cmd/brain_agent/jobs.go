package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/knowledge-brain/internal/jobs"
)

var assembleCmd = &cobra.Command{
	Use:   "assemble <subject-id>",
	Short: "Assemble a new brain version for a subject",
	Long: `Create a RAG_PROCESSING job for the subject and run it in this process. The subject's latest
document analysis job must be COMPLETED and every mandatory section must have an analysis.`,
	Args: cobra.ExactArgs(1),
	RunE: runAssemble,
}

var retryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry a FAILED job",
	Long:  `Reset a FAILED job to PENDING and re-enqueue the work it has not finished.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(retryCmd)
}

func runAssemble(cmd *cobra.Command, args []string) error {
	subjectID, err := parseID("subject", args[0])
	if err != nil {
		return err
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	b, job, err := a.assembler.Assemble(ctx, subjectID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"job_id":       job.ID,
		"subject_id":   b.SubjectID,
		"version":      b.Version,
		"content_hash": b.ContentHash,
		"sections":     len(b.Sections),
		"source_count": len(b.SourceDocumentIDs),
		"has_criteria": b.ScoringConfig != nil,
		"assembled_at": b.AssembledAt,
	})
}

func runRetry(cmd *cobra.Command, args []string) error {
	jobID, err := parseID("job", args[0])
	if err != nil {
		return err
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.dispatcher.Retry(ctx, jobID)
	if job == nil {
		return err
	}
	if err != nil {
		log.Warn("job reset but not re-enqueued; the stall detector will pick it up", "job_id", job.ID, "error", err)
	}
	return printJSON(cmd.OutOrStdout(), jobs.View(job))
}

func parseID(label, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s ID %q: %w", label, raw, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
