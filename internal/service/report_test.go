package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mediascribe/mediascribe/internal/core"
)

func testManifest() *core.RunManifest {
	return &core.RunManifest{
		RunID:     "openai_gpt-4o-mini_brief_20260101-000000",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Stages:    core.AllStages(),
		StartedAt: time.Now().Add(-time.Minute),
		State:     core.RunCompleted,
	}
}

func rec(path, stage string, status core.ItemStatus, attempt int) core.ItemRecord {
	now := time.Now()
	r := core.ItemRecord{
		ID:         path + "-" + stage,
		SourcePath: path,
		Stage:      stage,
		Status:     status,
		Attempt:    attempt,
		StartedAt:  now.Add(-time.Second),
	}
	if status.Terminal() {
		r.FinishedAt = &now
	}
	return r
}

func TestBuildReport_LatestRecordWins(t *testing.T) {
	records := []core.ItemRecord{
		rec("a.jpg", core.StageDescribe, core.ItemInProgress, 1),
		rec("a.jpg", core.StageDescribe, core.ItemFailed, 1),
		rec("a.jpg", core.StageDescribe, core.ItemInProgress, 2),
		rec("a.jpg", core.StageDescribe, core.ItemSucceeded, 2),
		rec("b.jpg", core.StageDescribe, core.ItemFailed, 3),
	}

	report := BuildReport(testManifest(), records, time.Now())

	if len(report.Stages) != 1 {
		t.Fatalf("expected 1 stage summary, got %d", len(report.Stages))
	}
	s := report.Stages[0]
	if s.Succeeded != 1 || s.Failed != 1 {
		t.Errorf("expected 1 succeeded and 1 failed, got %+v", s)
	}
	// a.jpg retried once (2 attempts), b.jpg twice (3 attempts)
	if s.Retries != 3 {
		t.Errorf("expected 3 retries total, got %d", s.Retries)
	}
}

func TestBuildReport_InProgressCountsAsFailed(t *testing.T) {
	records := []core.ItemRecord{
		rec("a.jpg", core.StageDescribe, core.ItemInProgress, 1),
	}
	report := BuildReport(testManifest(), records, time.Now())

	if report.TotalFailed() != 1 {
		t.Errorf("crash leftover should count as failed, got %d", report.TotalFailed())
	}
}

func TestBuildReport_StageOrderFollowsPipeline(t *testing.T) {
	records := []core.ItemRecord{
		rec("a.jpg", core.StageRender, core.ItemSucceeded, 1),
		rec("a.jpg", core.StageDescribe, core.ItemSucceeded, 1),
		rec("a.jpg", core.StageConvert, core.ItemSkipped, 0),
	}
	report := BuildReport(testManifest(), records, time.Now())

	var got []string
	for _, s := range report.Stages {
		got = append(got, s.Stage)
	}
	want := []string{core.StageConvert, core.StageDescribe, core.StageRender}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage order = %v, want %v", got, want)
		}
	}
}

func TestReport_SaveWritesBothFormats(t *testing.T) {
	dir := t.TempDir()
	records := []core.ItemRecord{
		rec("a.jpg", core.StageDescribe, core.ItemSucceeded, 1),
		rec("b.jpg", core.StageDescribe, core.ItemFailed, 4),
	}
	report := BuildReport(testManifest(), records, time.Now())

	if err := report.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	for _, name := range []string{"report.json", "report.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}

	text, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "1 item(s) failed") {
		t.Errorf("text report should mention the failure:\n%s", text)
	}
}
