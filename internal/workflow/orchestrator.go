// Package workflow drives complete runs: it owns the run lifecycle state
// machine (initializing, running, completed, aborted), the run directory
// and manifest, and the wiring between the provider, the checkpoint store,
// and the stage pipeline.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mediascribe/mediascribe/internal/checkpoint"
	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/logging"
	"github.com/mediascribe/mediascribe/internal/media"
	"github.com/mediascribe/mediascribe/internal/pipeline"
	"github.com/mediascribe/mediascribe/internal/provider"
	"github.com/mediascribe/mediascribe/internal/service"
)

// Orchestrator coordinates one run at a time from enumeration through
// reporting. All run-scoped state lives in the run directory; the
// orchestrator itself holds only process-wide collaborators and can be
// reused across runs.
type Orchestrator struct {
	cfg       *config.Config
	registry  *provider.Registry
	throttles *service.ThrottleRegistry
	logger    *logging.Logger
}

// New creates an orchestrator.
func New(cfg *config.Config, registry *provider.Registry, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		throttles: service.NewThrottleRegistry(),
		logger:    logger,
	}
}

// StartOptions selects what a new run processes and with which backend.
// Zero-valued fields fall back to configuration defaults.
type StartOptions struct {
	InputPath   string
	Provider    string
	Model       string
	PromptStyle string
	Stages      []string
	Credential  provider.CredentialRef
}

// RunResult is what the orchestrator hands back to the command layer.
type RunResult struct {
	RunDir string
	Report *service.Report
}

// Start executes a fresh run. The run directory and manifest are created
// before any provider setup, so even a run that aborts during setup leaves
// an inspectable trail on disk. Setup failures abort the run with zero
// items dispatched; per-item failures never abort.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (*RunResult, error) {
	if err := config.Validate(o.cfg); err != nil {
		return nil, err
	}

	providerName := opts.Provider
	if providerName == "" {
		providerName = o.cfg.Providers.Default
	}
	profile, err := o.registry.Profile(providerName)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = o.defaultModel(providerName)
	}

	promptStyle := opts.PromptStyle
	if promptStyle == "" {
		promptStyle = "descriptive"
	}
	prompt, ok := o.cfg.Prompts[promptStyle]
	if !ok {
		return nil, core.ErrSetup(core.CodeInvalidConfig,
			fmt.Sprintf("unknown prompt style %q (configured: %v)", promptStyle, promptStyleNames(o.cfg.Prompts)))
	}

	stages := opts.Stages
	if len(stages) == 0 {
		stages = o.cfg.Pipeline.Stages
	}
	if len(stages) == 0 {
		stages = core.AllStages()
	}
	if err := validateStages(stages); err != nil {
		return nil, err
	}

	started := time.Now()
	runID := service.RunID(providerName, model, promptStyle, started)
	runDir, err := service.CreateRunDir(o.cfg.Runs.Dir, runID)
	if err != nil {
		return nil, err
	}

	manifest := &core.RunManifest{
		RunID:         runID,
		Provider:      providerName,
		Model:         model,
		PromptStyle:   promptStyle,
		Prompt:        prompt,
		InputPath:     opts.InputPath,
		Stages:        stages,
		Backend:       o.cfg.Runs.Backend,
		StartedAt:     started,
		State:         core.RunInitializing,
		FrameInterval: o.cfg.Pipeline.FrameInterval,
		MaxFrames:     o.cfg.Pipeline.MaxFrames,
		JPEGQuality:   o.cfg.Pipeline.JPEGQuality,
		FFmpegPath:    o.cfg.Pipeline.FFmpegPath,
	}
	if err := service.SaveManifest(runDir, manifest); err != nil {
		return nil, err
	}

	logger, closeLog := o.runLogger(runDir, runID)
	defer closeLog()
	logger.Info("run starting",
		"provider", providerName,
		"model", model,
		"prompt_style", promptStyle,
		"input", opts.InputPath,
	)

	prov, err := o.prepareProvider(ctx, manifest, profile, opts.Credential, logger)
	if err != nil {
		return o.abort(runDir, manifest, err)
	}

	if err := service.PreflightError(service.RunPreflight(o.cfg.Runs.Dir)); err != nil {
		return o.abort(runDir, manifest, err)
	}

	items, err := scanInputs(manifest)
	if err != nil {
		return o.abort(runDir, manifest, err)
	}

	return o.execute(ctx, runDir, manifest, prov, items, nil, logger)
}

// Resume continues a prior run from its checkpoint store. All run settings
// come from the manifest snapshot; live configuration is consulted only for
// provider endpoints and credentials, which may legitimately change between
// invocations.
func (o *Orchestrator) Resume(ctx context.Context, runDir string, cred provider.CredentialRef) (*RunResult, error) {
	manifest, err := service.LoadManifest(runDir)
	if err != nil {
		return nil, err
	}

	logger, closeLog := o.runLogger(runDir, manifest.RunID)
	defer closeLog()
	logger.Info("resuming run", "state", string(manifest.State))

	profile, err := o.registry.Profile(manifest.Provider)
	if err != nil {
		return nil, err
	}

	// A provider that cannot be reached fails the whole resume before any
	// item is touched, rather than burning every item's retry budget.
	prov, err := o.prepareProvider(ctx, manifest, profile, cred, logger)
	if err != nil {
		return o.abort(runDir, manifest, err)
	}

	items, err := scanInputs(manifest)
	if err != nil {
		return o.abort(runDir, manifest, err)
	}

	store, err := checkpoint.Open(manifest.Backend, runDir)
	if err != nil {
		return o.abort(runDir, manifest, err)
	}
	latest, err := store.Replay(ctx)
	if err != nil {
		_ = store.Close()
		return o.abort(runDir, manifest, err)
	}
	attempts := checkpoint.Resume(latest).Attempts
	if err := store.Close(); err != nil {
		return nil, err
	}

	return o.execute(ctx, runDir, manifest, prov, items, attempts, logger)
}

// runLogger returns a logger that also appends to run.log inside the run
// directory, so every run carries its own log alongside its artifacts.
func (o *Orchestrator) runLogger(runDir, runID string) (*logging.Logger, func()) {
	f, err := os.OpenFile(filepath.Join(runDir, "run.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		o.logger.Warn("opening run.log failed; logging to stderr only", "error", err)
		return o.logger.WithRun(runID), func() {}
	}
	lg := logging.New(logging.Config{
		Level:  o.cfg.Log.Level,
		Format: o.cfg.Log.Format,
		Output: io.MultiWriter(os.Stderr, f),
	})
	return lg.WithRun(runID), func() { _ = f.Close() }
}

// prepareProvider resolves credentials, builds the provider, and verifies
// reachability. Every failure here is setup-class: nothing has been
// dispatched yet.
func (o *Orchestrator) prepareProvider(ctx context.Context, manifest *core.RunManifest, profile core.ProviderProfile, cred provider.CredentialRef, logger *logging.Logger) (core.Provider, error) {
	var apiKey string
	if profile.RequiresCredential {
		if cred.EnvVar == "" {
			cred.EnvVar = o.credentialEnvVar(manifest.Provider)
		}
		key, err := provider.ResolveCredential(manifest.Provider, cred)
		if err != nil {
			return nil, err
		}
		apiKey = key
	}

	prov, err := o.registry.Get(manifest.Provider, o.cfg, manifest.Model, apiKey, logger)
	if err != nil {
		return nil, err
	}
	if err := prov.Ping(ctx); err != nil {
		return nil, err
	}
	return prov, nil
}

// execute runs the pipeline and finalizes the run. It is shared by Start
// and Resume; the only difference between the two is the replayed attempt
// map.
func (o *Orchestrator) execute(ctx context.Context, runDir string, manifest *core.RunManifest, prov core.Provider, items []pipeline.Item, attempts map[core.ItemKey]int, logger *logging.Logger) (*RunResult, error) {
	manifest.State = core.RunRunning
	manifest.AbortReason = ""
	if err := service.SaveManifest(runDir, manifest); err != nil {
		return nil, err
	}

	store, err := checkpoint.Open(manifest.Backend, runDir)
	if err != nil {
		return o.abort(runDir, manifest, err)
	}
	defer store.Close()

	if attempts == nil {
		attempts = make(map[core.ItemKey]int)
	}
	env := &pipeline.Env{
		RunDir:   runDir,
		Manifest: manifest,
		Store:    store,
		Logger:   logger,
		Attempts: attempts,
	}

	stages, err := o.buildStages(manifest, prov)
	if err != nil {
		return o.abort(runDir, manifest, err)
	}

	runErr := pipeline.New(stages, logger).Run(ctx, env, items)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			// Interrupted, not aborted: the manifest stays in running state
			// and the checkpoint store already holds everything a resume
			// needs.
			logger.Info("run interrupted; resume with the run directory to continue", "run_dir", runDir)
			return &RunResult{RunDir: runDir}, runErr
		}
		if core.IsSetup(runErr) {
			return o.abort(runDir, manifest, runErr)
		}
		return nil, runErr
	}

	manifest.State = core.RunCompleted
	if err := service.SaveManifest(runDir, manifest); err != nil {
		return nil, err
	}

	return o.finalize(ctx, runDir, manifest, store, logger)
}

// finalize derives the report from the checkpoint log and writes it.
func (o *Orchestrator) finalize(ctx context.Context, runDir string, manifest *core.RunManifest, store core.CheckpointStore, logger *logging.Logger) (*RunResult, error) {
	records, err := store.Records(ctx)
	if err != nil {
		return nil, err
	}
	report := service.BuildReport(manifest, records, time.Now())
	if err := report.Save(runDir); err != nil {
		return nil, err
	}

	logger.Info("run completed",
		"succeeded", countSucceeded(report),
		"failed", report.TotalFailed(),
		"run_dir", runDir,
	)
	return &RunResult{RunDir: runDir, Report: report}, nil
}

// buildStages assembles the enabled stages in declared order from the
// manifest snapshot.
func (o *Orchestrator) buildStages(manifest *core.RunManifest, prov core.Provider) ([]pipeline.Stage, error) {
	enabled := make(map[string]bool, len(manifest.Stages))
	for _, s := range manifest.Stages {
		enabled[s] = true
	}

	var stages []pipeline.Stage
	if enabled[core.StageExtract] {
		extractor := media.NewFrameExtractor(manifest.FFmpegPath, manifest.FrameInterval, manifest.MaxFrames)
		if err := extractor.Check(); err != nil {
			if hasVideo(manifest) {
				return nil, err
			}
			// No videos in the input set: a missing ffmpeg is irrelevant
			o.logger.Debug("ffmpeg unavailable; extract stage will pass images through")
		}
		stages = append(stages, pipeline.NewExtractStage(extractor))
	}
	if enabled[core.StageConvert] {
		stages = append(stages, pipeline.NewConvertStage(manifest.JPEGQuality))
	}
	if enabled[core.StageDescribe] {
		throttle := o.throttles.For(prov.Profile())
		stages = append(stages, pipeline.NewDescribeStage(prov, throttle, media.NewOptimizer(), manifest.Prompt))
	}
	if enabled[core.StageRender] {
		stages = append(stages, pipeline.NewRenderStage())
	}
	return stages, nil
}

// abort transitions the run to aborted with the causing error on record.
// The original error is always returned to the caller; a manifest write
// failure at this point is logged and swallowed, since the run is already
// failing.
func (o *Orchestrator) abort(runDir string, manifest *core.RunManifest, cause error) (*RunResult, error) {
	manifest.State = core.RunAborted
	manifest.AbortReason = cause.Error()
	if err := service.SaveManifest(runDir, manifest); err != nil {
		o.logger.Warn("recording abort reason failed", "error", err)
	}
	o.logger.Error("run aborted", "reason", cause.Error(), "run_dir", runDir)
	return &RunResult{RunDir: runDir}, cause
}

// scanInputs enumerates the manifest's input path into pipeline items.
func scanInputs(manifest *core.RunManifest) ([]pipeline.Item, error) {
	paths, err := media.Scan(manifest.InputPath)
	if err != nil {
		return nil, err
	}
	items := make([]pipeline.Item, 0, len(paths))
	for _, p := range paths {
		items = append(items, pipeline.Item{Path: p})
	}
	return items, nil
}

// hasVideo reports whether the input set contains at least one video. Used
// only to decide whether a missing ffmpeg is fatal.
func hasVideo(manifest *core.RunManifest) bool {
	paths, err := media.Scan(manifest.InputPath)
	if err != nil {
		return false
	}
	for _, p := range paths {
		if media.IsVideo(p) {
			return true
		}
	}
	return false
}

func validateStages(stages []string) error {
	known := make(map[string]bool)
	for _, s := range core.AllStages() {
		known[s] = true
	}
	rank := make(map[string]int)
	for i, s := range core.AllStages() {
		rank[s] = i
	}
	prev := -1
	for _, s := range stages {
		if !known[s] {
			return core.ErrSetup(core.CodeInvalidConfig,
				fmt.Sprintf("unknown stage %q (available: %v)", s, core.AllStages()))
		}
		if rank[s] <= prev {
			return core.ErrSetup(core.CodeInvalidConfig,
				fmt.Sprintf("stages must follow the declared order %v", core.AllStages()))
		}
		prev = rank[s]
	}
	return nil
}

func (o *Orchestrator) defaultModel(providerName string) string {
	switch providerName {
	case "ollama":
		return o.cfg.Providers.Ollama.Model
	case "openai":
		return o.cfg.Providers.OpenAI.Model
	case "llamafile":
		return o.cfg.Providers.Llamafile.ModelPath
	}
	return ""
}

func (o *Orchestrator) credentialEnvVar(providerName string) string {
	if providerName == "openai" && o.cfg.Providers.OpenAI.APIKeyEnv != "" {
		return o.cfg.Providers.OpenAI.APIKeyEnv
	}
	return ""
}

func countSucceeded(r *service.Report) int {
	n := 0
	for _, s := range r.Stages {
		n += s.Succeeded
	}
	return n
}

func promptStyleNames(prompts map[string]string) []string {
	names := make([]string, 0, len(prompts))
	for name := range prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
