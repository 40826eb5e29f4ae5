package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "MEDIASCRIBE",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "MEDIASCRIBE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (MEDIASCRIBE_*)
// 3. Project config (.mediascribe.yaml in current directory)
// 4. User config (~/.config/mediascribe/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".mediascribe")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "mediascribe"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Run defaults
	l.v.SetDefault("runs.dir", "runs")
	l.v.SetDefault("runs.checkpoint_backend", "sqlite")

	// Pipeline defaults
	l.v.SetDefault("pipeline.stages", []string{
		"extract-frames", "convert-format", "describe", "render-report",
	})
	l.v.SetDefault("pipeline.frame_interval", "5s")
	l.v.SetDefault("pipeline.max_frames", 20)
	l.v.SetDefault("pipeline.jpeg_quality", 85)
	l.v.SetDefault("pipeline.ffmpeg_path", "ffmpeg")

	// Provider defaults
	l.v.SetDefault("providers.default", "ollama")
	l.v.SetDefault("providers.ollama.base_url", "http://localhost:11434")
	l.v.SetDefault("providers.ollama.model", "llava:13b")
	l.v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	l.v.SetDefault("providers.openai.model", "gpt-4o-mini")
	l.v.SetDefault("providers.openai.api_key_env", "OPENAI_API_KEY")
	l.v.SetDefault("providers.llamafile.path", "llamafile")
	l.v.SetDefault("providers.llamafile.model_path", "")

	// Prompt style defaults
	l.v.SetDefault("prompts.descriptive",
		"Describe this image in detail, covering subjects, setting, and notable objects.")
	l.v.SetDefault("prompts.brief",
		"Describe this image in one or two short sentences.")
	l.v.SetDefault("prompts.keywords",
		"List the main subjects and objects in this image as comma-separated keywords.")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
