package core

import "time"

// RunState is the orchestrator state machine position.
type RunState string

const (
	RunInitializing RunState = "initializing"
	RunRunning      RunState = "running"
	RunCompleted    RunState = "completed"
	RunAborted      RunState = "aborted"
)

// Stage names, in declared pipeline order.
const (
	StageExtract  = "extract-frames"
	StageConvert  = "convert-format"
	StageDescribe = "describe"
	StageRender   = "render-report"
)

// AllStages returns the full ordered stage sequence.
func AllStages() []string {
	return []string{StageExtract, StageConvert, StageDescribe, StageRender}
}

// RunManifest is the immutable configuration snapshot of one run. It is
// written once when the run starts and re-read verbatim on resume; a resume
// never consults live configuration for these fields.
type RunManifest struct {
	RunID       string    `yaml:"run_id"`
	Provider    string    `yaml:"provider"`
	Model       string    `yaml:"model"`
	PromptStyle string    `yaml:"prompt_style"`
	Prompt      string    `yaml:"prompt"`
	InputPath   string    `yaml:"input_path"`
	Stages      []string  `yaml:"stages"`
	Backend     string    `yaml:"checkpoint_backend"`
	StartedAt   time.Time `yaml:"started_at"`
	State       RunState  `yaml:"state"`
	AbortReason string    `yaml:"abort_reason,omitempty"`

	// Pipeline tuning, frozen with the rest of the snapshot
	FrameInterval time.Duration `yaml:"frame_interval"`
	MaxFrames     int           `yaml:"max_frames"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	FFmpegPath    string        `yaml:"ffmpeg_path"`
}
