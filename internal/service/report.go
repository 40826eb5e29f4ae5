package service

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/core"
)

// StageSummary aggregates outcomes for one stage.
type StageSummary struct {
	Stage     string        `json:"stage"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Retries   int           `json:"retries"`
	Duration  time.Duration `json:"duration_ns"`
}

// Report is the final run summary handed to the report renderer: per-stage
// counts plus the structured list of per-item outcomes.
type Report struct {
	RunID       string         `json:"run_id"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	PromptStyle string         `json:"prompt_style"`
	State       core.RunState  `json:"state"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Stages      []StageSummary `json:"stages"`
	Outcomes    []core.Outcome `json:"outcomes"`
}

// BuildReport derives the report from the checkpoint audit trail. The log
// is the single source of truth, so the report needs no other state.
func BuildReport(manifest *core.RunManifest, records []core.ItemRecord, finishedAt time.Time) *Report {
	latest := make(map[core.ItemKey]*core.ItemRecord, len(records))
	order := make([]core.ItemKey, 0, len(records))
	for i := range records {
		rec := records[i]
		if _, seen := latest[rec.Key()]; !seen {
			order = append(order, rec.Key())
		}
		latest[rec.Key()] = &rec
	}

	stageIdx := make(map[string]*StageSummary)
	var stages []string
	report := &Report{
		RunID:       manifest.RunID,
		Provider:    manifest.Provider,
		Model:       manifest.Model,
		PromptStyle: manifest.PromptStyle,
		State:       manifest.State,
		StartedAt:   manifest.StartedAt,
		FinishedAt:  finishedAt,
	}

	for _, key := range order {
		rec := latest[key]

		summary, ok := stageIdx[rec.Stage]
		if !ok {
			summary = &StageSummary{Stage: rec.Stage}
			stageIdx[rec.Stage] = summary
			stages = append(stages, rec.Stage)
		}

		switch rec.Status {
		case core.ItemSucceeded:
			summary.Succeeded++
		case core.ItemFailed, core.ItemInProgress:
			// An in_progress leftover counts as failed in the report; it
			// will be retried by the next resume.
			summary.Failed++
		case core.ItemSkipped:
			summary.Skipped++
		}
		if rec.Attempt > 1 {
			summary.Retries += rec.Attempt - 1
		}

		var duration time.Duration
		if rec.FinishedAt != nil {
			duration = rec.FinishedAt.Sub(rec.StartedAt)
			summary.Duration += duration
		}

		report.Outcomes = append(report.Outcomes, core.Outcome{
			SourcePath: rec.SourcePath,
			Stage:      rec.Stage,
			Status:     rec.Status,
			Attempts:   rec.Attempt,
			ErrorKind:  rec.ErrorKind,
			Error:      rec.Error,
			Outputs:    rec.Outputs,
			Duration:   duration,
		})
	}

	// Stage order follows the declared pipeline order where possible
	rank := make(map[string]int)
	for i, s := range manifest.Stages {
		rank[s] = i
	}
	sort.SliceStable(stages, func(i, j int) bool {
		return rank[stages[i]] < rank[stages[j]]
	})
	for _, s := range stages {
		report.Stages = append(report.Stages, *stageIdx[s])
	}

	return report
}

// TotalFailed returns the failure count across all stages.
func (r *Report) TotalFailed() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Failed
	}
	return n
}

// WriteText writes the human-readable summary.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "RUN REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "  Run:      %s\n", r.RunID)
	fmt.Fprintf(w, "  Provider: %s (%s)\n", r.Provider, r.Model)
	fmt.Fprintf(w, "  State:    %s\n", r.State)
	fmt.Fprintf(w, "  Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintln(w, "")

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tOK\tFAILED\tSKIPPED\tRETRIES\tTIME")
	for _, s := range r.Stages {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			s.Stage, s.Succeeded, s.Failed, s.Skipped, s.Retries,
			s.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if failed := r.TotalFailed(); failed > 0 {
		fmt.Fprintf(w, "\n%d item(s) failed; see report.json for details\n", failed)
	}
	return nil
}

// Save writes report.json and report.txt into the run directory.
func (r *Report) Save(runDir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := config.AtomicWrite(filepath.Join(runDir, "report.json"), data); err != nil {
		return fmt.Errorf("writing report.json: %w", err)
	}

	var sb strings.Builder
	if err := r.WriteText(&sb); err != nil {
		return err
	}
	if err := config.AtomicWrite(filepath.Join(runDir, "report.txt"), []byte(sb.String())); err != nil {
		return fmt.Errorf("writing report.txt: %w", err)
	}
	return nil
}
