package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/media"
)

// ConvertStage normalizes every image to JPEG, the one format all provider
// backends accept. Items already in JPEG are recorded skipped.
type ConvertStage struct {
	quality int
}

// NewConvertStage creates the format-conversion stage.
func NewConvertStage(quality int) *ConvertStage {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &ConvertStage{quality: quality}
}

// Name returns the stage name.
func (s *ConvertStage) Name() string { return core.StageConvert }

// Run converts each non-JPEG image. Corrupt or unsupported sources are
// recorded failed and excluded from later stages.
func (s *ConvertStage) Run(ctx context.Context, env *Env, items []Item) ([]Item, error) {
	var outputs []Item

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if media.IsVideo(item.Path) {
			// A video reaching this stage means extraction was disabled;
			// it cannot be described and is dropped here.
			env.Logger.Warn("video skipped: extract-frames stage is not enabled", "source", item.Path)
			if err := env.MarkFailed(ctx, item.Path, s.Name(), 1, time.Now(),
				core.ErrInput(core.CodeUnsupportedFormat, "video input requires the extract-frames stage")); err != nil {
				return nil, err
			}
			continue
		}

		if media.IsJPEG(item.Path) {
			if err := env.MarkSkipped(ctx, item.Path, s.Name(), []string{item.Path}); err != nil {
				return nil, err
			}
			outputs = append(outputs, item)
			continue
		}

		attempt := env.PriorAttempts(item.Path, s.Name()) + 1
		started := time.Now()
		if err := env.MarkInProgress(ctx, item.Path, s.Name(), attempt); err != nil {
			return nil, err
		}

		dst := filepath.Join(env.RunDir, "artifacts", "convert", stemOf(item.Path)+".jpg")
		if err := media.ToJPEG(item.Path, dst, s.quality); err != nil {
			env.Logger.Warn("conversion failed", "source", item.Path, "error", err)
			if recErr := env.MarkFailed(ctx, item.Path, s.Name(), attempt, started, err); recErr != nil {
				return nil, recErr
			}
			continue
		}

		if err := env.MarkSucceeded(ctx, item.Path, s.Name(), attempt, started, []string{dst}); err != nil {
			return nil, err
		}
		outputs = append(outputs, Item{Path: dst})
	}

	return outputs, nil
}
