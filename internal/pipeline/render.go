package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/core"
)

// RenderStage collects the description artifacts into one structured
// document for the external report renderer. The core only feeds the
// renderer; presentation is not its concern.
type RenderStage struct{}

// NewRenderStage creates the report-rendering stage.
func NewRenderStage() *RenderStage {
	return &RenderStage{}
}

// Name returns the stage name.
func (s *RenderStage) Name() string { return core.StageRender }

// DescriptionEntry is one rendered item: the described file and its text.
type DescriptionEntry struct {
	SourcePath  string `json:"source_path"`
	Description string `json:"description"`
}

// Run reads each description artifact and writes descriptions.json into
// the run directory.
func (s *RenderStage) Run(ctx context.Context, env *Env, items []Item) ([]Item, error) {
	var outputs []Item

	outPath := filepath.Join(env.RunDir, "descriptions.json")

	// Merge with the document of a prior interrupted run so resumed items
	// do not drop earlier entries
	entries, seen := loadExisting(outPath)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt := env.PriorAttempts(item.Path, s.Name()) + 1
		started := time.Now()

		text, err := os.ReadFile(item.Path) // #nosec G304 -- artifact inside the run directory
		if err != nil {
			env.Logger.Warn("description artifact unreadable", "path", item.Path, "error", err)
			wrapped := core.ErrState(core.CodeStoreCorrupted,
				fmt.Sprintf("description artifact %s is missing", item.Path)).WithCause(err)
			if recErr := env.MarkFailed(ctx, item.Path, s.Name(), attempt, started, wrapped); recErr != nil {
				return nil, recErr
			}
			continue
		}

		if !seen[item.Path] {
			entries = append(entries, DescriptionEntry{
				SourcePath:  item.Path,
				Description: string(text),
			})
			seen[item.Path] = true
		}
		if err := env.MarkSucceeded(ctx, item.Path, s.Name(), attempt, started, []string{outPath}); err != nil {
			return nil, err
		}
		outputs = append(outputs, Item{Path: item.Path})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling descriptions: %w", err)
	}
	if err := config.AtomicWrite(outPath, data); err != nil {
		return nil, fmt.Errorf("writing descriptions: %w", err)
	}

	return outputs, nil
}

func loadExisting(path string) ([]DescriptionEntry, map[string]bool) {
	seen := make(map[string]bool)
	data, err := os.ReadFile(path) // #nosec G304 -- artifact inside the run directory
	if err != nil {
		return nil, seen
	}
	var entries []DescriptionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, seen
	}
	for _, e := range entries {
		seen[e.SourcePath] = true
	}
	return entries, seen
}
