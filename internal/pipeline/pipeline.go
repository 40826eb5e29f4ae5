package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/logging"
)

// Item is one file moving through the pipeline. Path is the artifact the
// next stage reads; for the first stage it is the scanned source file.
type Item struct {
	Path string
}

// Stage is one named processing step. A stage receives only items that
// still need work: the runner filters out items already succeeded or
// skipped for that stage, so re-running a stage over a finished item is a
// no-op by construction.
type Stage interface {
	Name() string
	Run(ctx context.Context, env *Env, items []Item) ([]Item, error)
}

// Env carries the per-run collaborators every stage needs.
type Env struct {
	RunDir   string
	Manifest *core.RunManifest
	Store    core.CheckpointStore
	Logger   *logging.Logger
	// Attempts preserves attempt counts replayed from a prior run, so a
	// resume never resets retry budgets.
	Attempts map[core.ItemKey]int

	// latest is the reduced view of the checkpoint log, refreshed by the
	// runner before each stage starts.
	latest map[core.ItemKey]*core.ItemRecord
}

// PriorAttempts returns the replayed attempt count for an item key.
func (e *Env) PriorAttempts(path, stage string) int {
	return e.Attempts[core.ItemKey{SourcePath: path, Stage: stage}]
}

// LatestRecord returns the item's latest checkpoint record for a stage, or
// nil when the stage has never touched it (or the stage is being run
// outside the pipeline runner).
func (e *Env) LatestRecord(path, stage string) *core.ItemRecord {
	return e.latest[core.ItemKey{SourcePath: path, Stage: stage}]
}

// MarkInProgress appends an in_progress record before an attempt starts.
func (e *Env) MarkInProgress(ctx context.Context, path, stage string, attempt int) error {
	return e.Store.Append(ctx, &core.ItemRecord{
		ID:         uuid.NewString(),
		SourcePath: path,
		Stage:      stage,
		Status:     core.ItemInProgress,
		Attempt:    attempt,
		StartedAt:  time.Now(),
	})
}

// MarkSucceeded appends a terminal succeeded record.
func (e *Env) MarkSucceeded(ctx context.Context, path, stage string, attempt int, started time.Time, outputs []string) error {
	now := time.Now()
	return e.Store.Append(ctx, &core.ItemRecord{
		ID:         uuid.NewString(),
		SourcePath: path,
		Stage:      stage,
		Status:     core.ItemSucceeded,
		Attempt:    attempt,
		Outputs:    outputs,
		StartedAt:  started,
		FinishedAt: &now,
	})
}

// MarkFailed appends a terminal failed record carrying the error kind for
// later triage and selective resume.
func (e *Env) MarkFailed(ctx context.Context, path, stage string, attempt int, started time.Time, cause error) error {
	now := time.Now()
	return e.Store.Append(ctx, &core.ItemRecord{
		ID:         uuid.NewString(),
		SourcePath: path,
		Stage:      stage,
		Status:     core.ItemFailed,
		Attempt:    attempt,
		ErrorKind:  string(core.GetCategory(cause)),
		Error:      cause.Error(),
		StartedAt:  started,
		FinishedAt: &now,
	})
}

// MarkSkipped appends a terminal skipped record.
func (e *Env) MarkSkipped(ctx context.Context, path, stage string, outputs []string) error {
	now := time.Now()
	return e.Store.Append(ctx, &core.ItemRecord{
		ID:         uuid.NewString(),
		SourcePath: path,
		Stage:      stage,
		Status:     core.ItemSkipped,
		Outputs:    outputs,
		StartedAt:  now,
		FinishedAt: &now,
	})
}

// Pipeline executes enabled stages in declared order. Each stage consumes
// the output set of the previous enabled stage.
type Pipeline struct {
	stages []Stage
	logger *logging.Logger
}

// New creates a pipeline over the given stages.
func New(stages []Stage, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Run drives all stages over the input set. Per-item failures never
// escalate; only context cancellation and store write failures return an
// error.
func (p *Pipeline) Run(ctx context.Context, env *Env, inputs []Item) error {
	items := inputs

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		latest, err := env.Store.Replay(ctx)
		if err != nil {
			return err
		}
		env.latest = latest

		toRun, carried := partition(items, latest, stage.Name())
		logger := p.logger.WithStage(stage.Name())
		logger.Info("stage starting",
			"pending", len(toRun),
			"already_done", len(items)-len(toRun),
		)

		start := time.Now()
		produced, err := stage.Run(ctx, env, toRun)
		if err != nil {
			return err
		}

		items = append(carried, produced...)
		logger.Info("stage finished",
			"outputs", len(items),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}

	return nil
}

// partition splits stage inputs into items still needing work and the
// carried-forward outputs of items already done for this stage. Items whose
// latest record is a non-resumable failure are excluded entirely: a failed
// item never propagates partial artifacts to later stages.
func partition(items []Item, latest map[core.ItemKey]*core.ItemRecord, stage string) (toRun, carried []Item) {
	for _, item := range items {
		rec, ok := latest[core.ItemKey{SourcePath: item.Path, Stage: stage}]
		if !ok {
			toRun = append(toRun, item)
			continue
		}
		switch rec.Status {
		case core.ItemSucceeded, core.ItemSkipped:
			if len(rec.Outputs) == 0 {
				// Pass-through stages record no distinct outputs
				carried = append(carried, item)
			}
			for _, out := range rec.Outputs {
				carried = append(carried, Item{Path: out})
			}
		case core.ItemFailed:
			// Transient failures are re-queued (the stage enforces the
			// remaining retry budget); permanent failures stay excluded
			// from this and all later stages.
			if isTransientKind(rec.ErrorKind) {
				toRun = append(toRun, item)
			}
		case core.ItemInProgress:
			// Crash leftover: retry as if failed
			toRun = append(toRun, item)
		default:
			toRun = append(toRun, item)
		}
	}
	return toRun, carried
}

// isTransientKind reports whether a recorded error kind is retryable on
// resume. Permanent kinds stay failed no matter the retry budget.
func isTransientKind(kind string) bool {
	switch core.ErrorCategory(kind) {
	case core.ErrCatNetwork, core.ErrCatTimeout, core.ErrCatRateLimit, core.ErrCatContent:
		return true
	}
	return false
}
