package config

import "time"

// Config is the top-level application configuration. It is loaded once at
// run start; the run-relevant subset is frozen into the run manifest and
// never re-read from disk mid-run.
type Config struct {
	Log       LogConfig         `mapstructure:"log"`
	Runs      RunsConfig        `mapstructure:"runs"`
	Pipeline  PipelineConfig    `mapstructure:"pipeline"`
	Providers ProvidersConfig   `mapstructure:"providers"`
	Prompts   map[string]string `mapstructure:"prompts"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RunsConfig configures run directories and checkpointing.
type RunsConfig struct {
	Dir     string `mapstructure:"dir"`
	Backend string `mapstructure:"checkpoint_backend"` // sqlite or jsonl
}

// PipelineConfig configures the processing stages.
type PipelineConfig struct {
	Stages        []string      `mapstructure:"stages"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	MaxFrames     int           `mapstructure:"max_frames"`
	JPEGQuality   int           `mapstructure:"jpeg_quality"`
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	Default   string          `mapstructure:"default"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Llamafile LlamafileConfig `mapstructure:"llamafile"`
}

// OllamaConfig configures the local HTTP API backend.
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// OpenAIConfig configures the cloud HTTP API backend.
type OpenAIConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// LlamafileConfig configures the local-process backend.
type LlamafileConfig struct {
	Path      string `mapstructure:"path"`
	ModelPath string `mapstructure:"model_path"`
}
