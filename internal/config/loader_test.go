package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	// Run from an empty directory so no project config interferes
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Runs.Backend != "sqlite" {
		t.Errorf("default backend = %q, want sqlite", cfg.Runs.Backend)
	}
	if cfg.Providers.Default != "ollama" {
		t.Errorf("default provider = %q, want ollama", cfg.Providers.Default)
	}
	if len(cfg.Pipeline.Stages) != 4 {
		t.Errorf("expected all 4 stages enabled by default, got %v", cfg.Pipeline.Stages)
	}
	if cfg.Pipeline.FrameInterval != 5*time.Second {
		t.Errorf("frame interval = %v, want 5s", cfg.Pipeline.FrameInterval)
	}
	if _, ok := cfg.Prompts["descriptive"]; !ok {
		t.Error("descriptive prompt style missing from defaults")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MEDIASCRIBE_RUNS_DIR", "/var/lib/mediascribe")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runs.Dir != "/var/lib/mediascribe" {
		t.Errorf("env override ignored: runs.dir = %q", cfg.Runs.Dir)
	}
}

func TestLoader_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := `
runs:
  checkpoint_backend: jsonl
providers:
  default: llamafile
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runs.Backend != "jsonl" {
		t.Errorf("backend = %q, want jsonl", cfg.Runs.Backend)
	}
	if cfg.Providers.Default != "llamafile" {
		t.Errorf("default provider = %q, want llamafile", cfg.Providers.Default)
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := &Config{
		Runs:     RunsConfig{Dir: "", Backend: "csv"},
		Pipeline: PipelineConfig{Stages: []string{"bogus"}, FrameInterval: -1, JPEGQuality: 0},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"runs.dir", "checkpoint_backend", "bogus", "frame_interval", "jpeg_quality"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error should mention %s: %s", want, err.Error())
		}
	}
}
