package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mediascribe/mediascribe/internal/core"
)

// FrameExtractor pulls still frames out of video files with ffmpeg, used as
// an opaque capability ("extract frame at timestamp").
type FrameExtractor struct {
	// FFmpegPath is the ffmpeg binary to invoke.
	FFmpegPath string
	// Interval is the spacing between extracted frames.
	Interval time.Duration
	// MaxFrames caps the number of frames per video.
	MaxFrames int
}

// NewFrameExtractor returns an extractor with the given tuning.
func NewFrameExtractor(ffmpegPath string, interval time.Duration, maxFrames int) *FrameExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxFrames <= 0 {
		maxFrames = 20
	}
	return &FrameExtractor{
		FFmpegPath: ffmpegPath,
		Interval:   interval,
		MaxFrames:  maxFrames,
	}
}

// Check verifies the ffmpeg binary is available.
func (e *FrameExtractor) Check() error {
	if _, err := exec.LookPath(e.FFmpegPath); err != nil {
		return core.ErrSetup(core.CodeFFmpegMissing,
			fmt.Sprintf("ffmpeg binary %q not found in PATH; install ffmpeg or set pipeline.ffmpeg_path", e.FFmpegPath)).WithCause(err)
	}
	return nil
}

// Extract writes JPEG frames for the video at src into outDir and returns
// their paths in timestamp order.
func (e *FrameExtractor) Extract(ctx context.Context, src, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating frame directory: %w", err)
	}

	pattern := filepath.Join(outDir, "frame_%04d.jpg")
	fps := 1.0 / e.Interval.Seconds()
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-frames:v", fmt.Sprintf("%d", e.MaxFrames),
		"-q:v", "2",
		"-y", pattern,
	}

	// #nosec G204 -- binary path comes from validated config, src from the input scan
	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, core.ErrSetup(core.CodeFFmpegMissing,
				fmt.Sprintf("ffmpeg binary %q could not be started", e.FFmpegPath)).WithCause(err)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, core.ErrInput(core.CodeCorruptSource,
			fmt.Sprintf("ffmpeg failed on %s: %s", src, msg)).WithCause(err)
	}

	frames, err := filepath.Glob(filepath.Join(outDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("listing frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, core.ErrInput(core.CodeCorruptSource,
			fmt.Sprintf("no frames could be extracted from %s", src))
	}
	sort.Strings(frames)
	return frames, nil
}
