package config

import (
	"fmt"
	"strings"

	"github.com/mediascribe/mediascribe/internal/core"
)

// Validate checks the configuration for errors that would make a run
// impossible. Messages are specific enough to act on.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Runs.Dir == "" {
		problems = append(problems, "runs.dir must not be empty")
	}
	switch cfg.Runs.Backend {
	case "sqlite", "jsonl":
	default:
		problems = append(problems, fmt.Sprintf("runs.checkpoint_backend %q is not supported (use sqlite or jsonl)", cfg.Runs.Backend))
	}

	if len(cfg.Pipeline.Stages) == 0 {
		problems = append(problems, "pipeline.stages must enable at least one stage")
	}
	known := make(map[string]bool)
	for _, s := range core.AllStages() {
		known[s] = true
	}
	for _, s := range cfg.Pipeline.Stages {
		if !known[s] {
			problems = append(problems, fmt.Sprintf("pipeline.stages contains unknown stage %q", s))
		}
	}
	if cfg.Pipeline.FrameInterval <= 0 {
		problems = append(problems, "pipeline.frame_interval must be positive")
	}
	if cfg.Pipeline.JPEGQuality < 1 || cfg.Pipeline.JPEGQuality > 100 {
		problems = append(problems, "pipeline.jpeg_quality must be between 1 and 100")
	}

	if len(problems) > 0 {
		return core.ErrSetup(core.CodeInvalidConfig,
			"invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}
