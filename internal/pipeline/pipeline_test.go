package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mediascribe/mediascribe/internal/checkpoint"
	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/logging"
	"github.com/mediascribe/mediascribe/internal/media"
	"github.com/mediascribe/mediascribe/internal/service"
)

// fakeProvider counts Describe calls and replays a scripted per-call
// outcome. A nil script entry means success.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	script  []error
	profile core.ProviderProfile
}

func newFakeProvider(budget int, script ...error) *fakeProvider {
	return &fakeProvider{
		script: script,
		profile: core.ProviderProfile{
			Name:        "fake",
			Kind:        core.KindLocalAPI,
			Ceiling:     64 * 1024 * 1024,
			Expansion:   1,
			RetryBudget: budget,
			Concurrency: 1,
		},
	}
}

func (p *fakeProvider) Name() string                  { return "fake" }
func (p *fakeProvider) Profile() core.ProviderProfile { return p.profile }
func (p *fakeProvider) Ping(context.Context) error    { return nil }

func (p *fakeProvider) Describe(_ context.Context, req core.DescribeRequest) (*core.DescribeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.calls < len(p.script) {
		err = p.script[p.calls]
	}
	p.calls++
	if err != nil {
		return nil, err
	}
	return &core.DescribeResult{Text: "a description of " + req.SourcePath}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testEnv(t *testing.T) (*Env, string) {
	t.Helper()
	runDir := t.TempDir()

	store, err := checkpoint.Open(checkpoint.BackendJSONL, runDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &Env{
		RunDir:   runDir,
		Manifest: &core.RunManifest{RunID: "test-run", Stages: core.AllStages()},
		Store:    store,
		Logger:   logging.NewNop(),
		Attempts: make(map[core.ItemKey]int),
	}, runDir
}

func writeSource(t *testing.T, name string) Item {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("image bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	return Item{Path: path}
}

func describeStage(p core.Provider) *DescribeStage {
	return NewDescribeStage(p, service.NewThrottle(0), media.NewOptimizer(), "describe it")
}

func TestPipeline_RerunDispatchesNothing(t *testing.T) {
	env, _ := testEnv(t)
	prov := newFakeProvider(3)
	items := []Item{writeSource(t, "a.jpg"), writeSource(t, "b.jpg")}

	p := New([]Stage{describeStage(prov)}, nil)
	if err := p.Run(context.Background(), env, items); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if prov.callCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", prov.callCount())
	}

	// Re-running over the same store must re-describe nothing
	if err := p.Run(context.Background(), env, items); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if prov.callCount() != 2 {
		t.Errorf("re-run dispatched %d extra calls", prov.callCount()-2)
	}
}

func TestPipeline_EmptyResponsesThenSuccess(t *testing.T) {
	env, _ := testEnv(t)
	// Three empty responses, then a good one; budget of 4 covers it
	prov := newFakeProvider(4,
		core.ErrEmptyContent("fake"),
		core.ErrEmptyContent("fake"),
		core.ErrEmptyContent("fake"),
	)
	items := []Item{writeSource(t, "flaky.jpg")}

	p := New([]Stage{describeStage(prov)}, nil)
	if err := p.Run(context.Background(), env, items); err != nil {
		t.Fatalf("run: %v", err)
	}

	if prov.callCount() != 4 {
		t.Errorf("expected 4 provider calls, got %d", prov.callCount())
	}

	latest, err := env.Store.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rec := latest[core.ItemKey{SourcePath: items[0].Path, Stage: core.StageDescribe}]
	if rec == nil || rec.Status != core.ItemSucceeded {
		t.Fatalf("expected succeeded record, got %+v", rec)
	}
	if rec.Attempt != 4 {
		t.Errorf("expected attempt count 4, got %d", rec.Attempt)
	}
}

func TestPipeline_PermanentFailureExcludedDownstream(t *testing.T) {
	env, runDir := testEnv(t)
	prov := newFakeProvider(3,
		core.ErrInput(core.CodeUnsupportedFormat, "provider rejected the image"),
	)
	bad := writeSource(t, "bad.jpg")
	good := writeSource(t, "good.jpg")

	p := New([]Stage{describeStage(prov), NewRenderStage()}, nil)
	if err := p.Run(context.Background(), env, []Item{bad, good}); err != nil {
		t.Fatalf("run: %v", err)
	}

	// One failed call for bad.jpg, one successful for good.jpg
	if prov.callCount() != 2 {
		t.Errorf("expected 2 provider calls, got %d", prov.callCount())
	}

	latest, err := env.Store.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	badRec := latest[core.ItemKey{SourcePath: bad.Path, Stage: core.StageDescribe}]
	if badRec == nil || badRec.Status != core.ItemFailed {
		t.Fatalf("expected failed record for bad item, got %+v", badRec)
	}
	if badRec.Attempt != 1 {
		t.Errorf("permanent failure must use exactly one attempt, got %d", badRec.Attempt)
	}

	// The failed item never reaches the render stage
	data, err := os.ReadFile(filepath.Join(runDir, "descriptions.json"))
	if err != nil {
		t.Fatalf("descriptions.json missing: %v", err)
	}
	var entries []DescriptionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 description, got %d", len(entries))
	}
}

func TestPipeline_ResumeRespectsSpentBudget(t *testing.T) {
	env, _ := testEnv(t)
	prov := newFakeProvider(2,
		core.ErrNetwork("down"),
		core.ErrNetwork("still down"),
	)
	items := []Item{writeSource(t, "unlucky.jpg")}

	p := New([]Stage{describeStage(prov)}, nil)
	if err := p.Run(context.Background(), env, items); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if prov.callCount() != 2 {
		t.Fatalf("expected budget of 2 to be spent, got %d calls", prov.callCount())
	}

	// Resume: the transient failure is re-queued, but the preserved attempt
	// count means no budget remains and nothing is dispatched.
	latest, err := env.Store.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	env.Attempts = checkpoint.Resume(latest).Attempts

	if err := p.Run(context.Background(), env, items); err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if prov.callCount() != 2 {
		t.Errorf("resume granted extra attempts: %d total calls", prov.callCount())
	}
}

func TestPipeline_CrashOnFinalAttemptReachesTerminalState(t *testing.T) {
	env, _ := testEnv(t)
	prov := newFakeProvider(2)
	items := []Item{writeSource(t, "stuck.jpg")}
	key := core.ItemKey{SourcePath: items[0].Path, Stage: core.StageDescribe}

	// A crash during the last attempt leaves an in_progress record with the
	// whole budget already spent.
	if err := env.MarkInProgress(context.Background(), items[0].Path, core.StageDescribe, 2); err != nil {
		t.Fatal(err)
	}
	latest, err := env.Store.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	env.Attempts = checkpoint.Resume(latest).Attempts

	p := New([]Stage{describeStage(prov)}, nil)
	if err := p.Run(context.Background(), env, items); err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if prov.callCount() != 0 {
		t.Errorf("resume granted extra attempts: %d calls", prov.callCount())
	}

	// The leftover must be closed out with a terminal failed record
	latest, err = env.Store.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rec := latest[key]
	if rec == nil || rec.Status != core.ItemFailed {
		t.Fatalf("expected terminal failed record, got %+v", rec)
	}
	if rec.Attempt != 2 {
		t.Errorf("attempt count must be preserved, got %d", rec.Attempt)
	}

	// A further resume leaves the item alone: no dispatch, no new records
	env.Attempts = checkpoint.Resume(latest).Attempts
	if err := p.Run(context.Background(), env, items); err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if prov.callCount() != 0 {
		t.Errorf("failed item re-dispatched on second resume: %d calls", prov.callCount())
	}
	records, err := env.Store.Records(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("expected exactly 2 records (leftover + failed), got %d", len(records))
	}
}

func TestConvertStage_JPEGSkippedVideoRejected(t *testing.T) {
	env, _ := testEnv(t)

	jpegItem := writeSource(t, "photo.jpg")
	videoPath := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(videoPath, []byte("not really video"), 0o600); err != nil {
		t.Fatal(err)
	}

	stage := NewConvertStage(85)
	out, err := stage.Run(context.Background(), env, []Item{jpegItem, {Path: videoPath}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// The JPEG passes through; the video (extraction disabled) is dropped
	if len(out) != 1 || out[0].Path != jpegItem.Path {
		t.Fatalf("expected only the jpeg to pass, got %v", out)
	}

	latest, err := env.Store.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	jpegRec := latest[core.ItemKey{SourcePath: jpegItem.Path, Stage: core.StageConvert}]
	if jpegRec == nil || jpegRec.Status != core.ItemSkipped {
		t.Errorf("expected skipped record for jpeg, got %+v", jpegRec)
	}
	videoRec := latest[core.ItemKey{SourcePath: videoPath, Stage: core.StageConvert}]
	if videoRec == nil || videoRec.Status != core.ItemFailed {
		t.Errorf("expected failed record for video, got %+v", videoRec)
	}
}

func TestPipeline_CancellationLeavesResumableState(t *testing.T) {
	env, _ := testEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	blocker := &blockingProvider{
		started: make(chan struct{}),
		unblock: make(chan struct{}),
	}
	items := []Item{writeSource(t, "slow.jpg")}

	done := make(chan error, 1)
	go func() {
		done <- New([]Stage{describeStage(blocker)}, nil).Run(ctx, env, items)
	}()

	<-blocker.started
	cancel()
	close(blocker.unblock)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}

	// The in_progress record stays behind for the next resume
	latest, err := env.Store.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rec := latest[core.ItemKey{SourcePath: items[0].Path, Stage: core.StageDescribe}]
	if rec == nil || rec.Status != core.ItemInProgress {
		t.Errorf("expected in_progress leftover, got %+v", rec)
	}
}

// blockingProvider parks Describe until unblocked, then reports the
// context's error.
type blockingProvider struct {
	once    sync.Once
	started chan struct{}
	unblock chan struct{}
}

func (p *blockingProvider) Name() string { return "blocking" }
func (p *blockingProvider) Profile() core.ProviderProfile {
	return core.ProviderProfile{
		Name: "blocking", Ceiling: 64 * 1024 * 1024, Expansion: 1,
		RetryBudget: 1, Concurrency: 1,
	}
}
func (p *blockingProvider) Ping(context.Context) error { return nil }

func (p *blockingProvider) Describe(ctx context.Context, _ core.DescribeRequest) (*core.DescribeResult, error) {
	p.once.Do(func() { close(p.started) })
	<-p.unblock
	return nil, ctx.Err()
}
