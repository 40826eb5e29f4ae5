package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/provider"
	"github.com/mediascribe/mediascribe/internal/service"
)

// fakeOllama serves just enough of the Ollama API for a full run.
func fakeOllama(t *testing.T, describeCalls *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		describeCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":    "llava:13b",
			"response": "A test photograph.",
			"done":     true,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Log:  config.LogConfig{Level: "error", Format: "json"},
		Runs: config.RunsConfig{Dir: filepath.Join(t.TempDir(), "runs"), Backend: "jsonl"},
		Pipeline: config.PipelineConfig{
			Stages:        []string{core.StageConvert, core.StageDescribe, core.StageRender},
			FrameInterval: 5 * time.Second,
			MaxFrames:     20,
			JPEGQuality:   85,
			FFmpegPath:    "ffmpeg",
		},
		Providers: config.ProvidersConfig{
			Default: "ollama",
			Ollama:  config.OllamaConfig{BaseURL: baseURL, Model: "llava:13b"},
			OpenAI:  config.OpenAIConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", APIKeyEnv: "MEDIASCRIBE_NO_SUCH_KEY"},
		},
		Prompts: map[string]string{
			"descriptive": "Describe this image in detail.",
			"brief":       "Describe this image briefly.",
		},
	}
}

func writeJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0o600))
	return path
}

func TestOrchestrator_StartCompletesRun(t *testing.T) {
	var calls atomic.Int64
	srv := fakeOllama(t, &calls)
	cfg := testConfig(t, srv.URL)

	input := t.TempDir()
	writeJPEG(t, input, "a.jpg")
	writeJPEG(t, input, "b.jpg")

	orch := New(cfg, provider.NewRegistry(), nil)
	result, err := orch.Start(context.Background(), StartOptions{InputPath: input})
	require.NoError(t, err)

	assert.EqualValues(t, 2, calls.Load(), "one describe call per image")

	manifest, err := service.LoadManifest(result.RunDir)
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, manifest.State)
	assert.Equal(t, "ollama", manifest.Provider)
	assert.Equal(t, "descriptive", manifest.PromptStyle, "prompt style defaults")

	// The run directory holds the full output set
	for _, name := range []string{"manifest.yaml", "checkpoints.jsonl", "descriptions.json", "report.json", "report.txt"} {
		assert.FileExists(t, filepath.Join(result.RunDir, name))
	}

	require.NotNil(t, result.Report)
	assert.Zero(t, result.Report.TotalFailed())
}

func TestOrchestrator_RunIDEncodesSettings(t *testing.T) {
	var calls atomic.Int64
	srv := fakeOllama(t, &calls)
	cfg := testConfig(t, srv.URL)

	input := t.TempDir()
	writeJPEG(t, input, "a.jpg")

	orch := New(cfg, provider.NewRegistry(), nil)
	result, err := orch.Start(context.Background(), StartOptions{
		InputPath:   input,
		PromptStyle: "brief",
	})
	require.NoError(t, err)

	base := filepath.Base(result.RunDir)
	assert.True(t, len(base) > len("ollama_llava-13b_brief_"), "run dir: %s", base)
	assert.Contains(t, base, "ollama_llava-13b_brief_")
}

func TestOrchestrator_ResumeDispatchesNothingWhenComplete(t *testing.T) {
	var calls atomic.Int64
	srv := fakeOllama(t, &calls)
	cfg := testConfig(t, srv.URL)

	input := t.TempDir()
	writeJPEG(t, input, "a.jpg")

	orch := New(cfg, provider.NewRegistry(), nil)
	result, err := orch.Start(context.Background(), StartOptions{InputPath: input})
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	// Resuming a completed run re-describes nothing
	_, err = orch.Resume(context.Background(), result.RunDir, provider.CredentialRef{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "resume must not re-dispatch finished items")
}

func TestOrchestrator_MissingCredentialAbortsBeforeDispatch(t *testing.T) {
	var calls atomic.Int64
	srv := fakeOllama(t, &calls)
	cfg := testConfig(t, srv.URL)

	input := t.TempDir()
	writeJPEG(t, input, "a.jpg")
	t.Setenv("HOME", t.TempDir()) // no conventional key file

	orch := New(cfg, provider.NewRegistry(), nil)
	result, err := orch.Start(context.Background(), StartOptions{
		InputPath: input,
		Provider:  "openai",
	})
	require.Error(t, err)
	assert.True(t, core.IsSetup(err), "missing credential must be a setup error: %v", err)
	assert.Zero(t, calls.Load(), "aborted run must dispatch nothing")

	manifest, merr := service.LoadManifest(result.RunDir)
	require.NoError(t, merr)
	assert.Equal(t, core.RunAborted, manifest.State)
	assert.Contains(t, manifest.AbortReason, "credential")
}

func TestOrchestrator_ResumeWithoutCredentialAborts(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1")
	t.Setenv("HOME", t.TempDir())

	// Hand-build an interrupted cloud run
	runDir := t.TempDir()
	manifest := &core.RunManifest{
		RunID:     "openai_gpt-4o-mini_brief_20260101-000000",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		InputPath: t.TempDir(),
		Stages:    []string{core.StageDescribe},
		Backend:   "jsonl",
		StartedAt: time.Now(),
		State:     core.RunRunning,
	}
	require.NoError(t, service.SaveManifest(runDir, manifest))

	orch := New(cfg, provider.NewRegistry(), nil)
	_, err := orch.Resume(context.Background(), runDir, provider.CredentialRef{})
	require.Error(t, err)
	assert.True(t, core.IsSetup(err), "expected setup error: %v", err)

	reloaded, err := service.LoadManifest(runDir)
	require.NoError(t, err)
	assert.Equal(t, core.RunAborted, reloaded.State)
}

func TestOrchestrator_UnknownPromptStyle(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1")
	orch := New(cfg, provider.NewRegistry(), nil)

	_, err := orch.Start(context.Background(), StartOptions{
		InputPath:   t.TempDir(),
		PromptStyle: "poetic",
	})
	require.Error(t, err)
	assert.True(t, core.IsSetup(err), "unknown prompt style must be a setup error: %v", err)
}

func TestOrchestrator_RejectsOutOfOrderStages(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1")
	orch := New(cfg, provider.NewRegistry(), nil)

	_, err := orch.Start(context.Background(), StartOptions{
		InputPath: t.TempDir(),
		Stages:    []string{core.StageDescribe, core.StageConvert},
	})
	require.Error(t, err)
	assert.True(t, core.IsSetup(err), "out-of-order stages must be a setup error: %v", err)
}
