package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/media"
)

// ExtractStage pulls still frames from video inputs. Images pass through
// untouched.
type ExtractStage struct {
	extractor *media.FrameExtractor
}

// NewExtractStage creates the frame-extraction stage.
func NewExtractStage(extractor *media.FrameExtractor) *ExtractStage {
	return &ExtractStage{extractor: extractor}
}

// Name returns the stage name.
func (s *ExtractStage) Name() string { return core.StageExtract }

// Run extracts frames for each video item. A video that cannot be decoded
// is recorded failed and excluded from later stages; other items proceed.
func (s *ExtractStage) Run(ctx context.Context, env *Env, items []Item) ([]Item, error) {
	var outputs []Item

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !media.IsVideo(item.Path) {
			// Not this stage's concern; carry forward without a record
			outputs = append(outputs, item)
			continue
		}

		attempt := env.PriorAttempts(item.Path, s.Name()) + 1
		started := time.Now()
		if err := env.MarkInProgress(ctx, item.Path, s.Name(), attempt); err != nil {
			return nil, err
		}

		outDir := filepath.Join(env.RunDir, "artifacts", "extract", stemOf(item.Path))
		frames, err := s.extractor.Extract(ctx, item.Path, outDir)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if core.IsSetup(err) {
				return nil, err
			}
			env.Logger.Warn("frame extraction failed", "source", item.Path, "error", err)
			if recErr := env.MarkFailed(ctx, item.Path, s.Name(), attempt, started, err); recErr != nil {
				return nil, recErr
			}
			continue
		}

		if err := env.MarkSucceeded(ctx, item.Path, s.Name(), attempt, started, frames); err != nil {
			return nil, err
		}
		for _, f := range frames {
			outputs = append(outputs, Item{Path: f})
		}
	}

	return outputs, nil
}

// stemOf returns the base name without extension, suffixed with a short
// hash of the full path so same-named files from different directories
// never collide inside the artifacts tree.
func stemOf(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	sum := sha256.Sum256([]byte(path))
	return stem + "-" + hex.EncodeToString(sum[:4])
}
