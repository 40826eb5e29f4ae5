package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/media"
	"github.com/mediascribe/mediascribe/internal/service"
)

// DescribeStage dispatches each image through the provider, guarded by the
// payload optimizer, the per-provider throttle, and the retry policy. Items
// are processed by a worker pool bounded by the provider's concurrency.
type DescribeStage struct {
	provider  core.Provider
	throttle  *service.Throttle
	optimizer *media.Optimizer
	prompt    string
}

// NewDescribeStage creates the describe stage.
func NewDescribeStage(p core.Provider, throttle *service.Throttle, optimizer *media.Optimizer, prompt string) *DescribeStage {
	if optimizer == nil {
		optimizer = media.NewOptimizer()
	}
	return &DescribeStage{
		provider:  p,
		throttle:  throttle,
		optimizer: optimizer,
		prompt:    prompt,
	}
}

// Name returns the stage name.
func (s *DescribeStage) Name() string { return core.StageDescribe }

// Run describes all items concurrently. Setup-class errors (a credential
// going bad mid-run would surface at Ping, not here) and context
// cancellation abort; everything else is recorded per item.
func (s *DescribeStage) Run(ctx context.Context, env *Env, items []Item) ([]Item, error) {
	profile := s.provider.Profile()

	var mu sync.Mutex
	var outputs []Item

	g, gctx := errgroup.WithContext(ctx)
	limit := profile.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, item := range items {
		item := item
		g.Go(func() error {
			out, err := s.describeOne(gctx, env, item)
			if err != nil {
				return err
			}
			if out != "" {
				mu.Lock()
				outputs = append(outputs, Item{Path: out})
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// describeOne runs the full attempt loop for one item. It returns the
// description artifact path on success, empty on recorded failure, and a
// non-nil error only for run-level aborts.
func (s *DescribeStage) describeOne(ctx context.Context, env *Env, item Item) (string, error) {
	profile := s.provider.Profile()
	logger := env.Logger.WithStage(s.Name())

	prior := env.PriorAttempts(item.Path, s.Name())
	remaining := profile.RetryBudget - prior
	if remaining < 1 {
		// Budget exhausted in a prior run; resume grants no extra tries. A
		// crash during the final attempt leaves the item in_progress, and
		// that leftover still needs a terminal record or it would be
		// re-queued forever.
		if rec := env.LatestRecord(item.Path, s.Name()); rec != nil && !rec.Status.Terminal() {
			cause := core.ErrRetryExhausted(fmt.Sprintf(
				"retry budget of %d spent without a terminal outcome", profile.RetryBudget))
			if recErr := env.MarkFailed(ctx, item.Path, s.Name(), prior, rec.StartedAt, cause); recErr != nil {
				return "", recErr
			}
			logger.Warn("interrupted item marked failed; retry budget spent",
				"source", item.Path,
				"attempts", prior,
			)
		}
		return "", nil
	}

	// Payload preparation failures are permanent input failures: no
	// provider call is spent on them.
	started := time.Now()
	payload, err := s.optimizer.Fit(item.Path, profile)
	if err != nil {
		logger.Warn("payload preparation failed", "source", item.Path, "error", err)
		if recErr := env.MarkFailed(ctx, item.Path, s.Name(), prior+1, started, err); recErr != nil {
			return "", recErr
		}
		return "", nil
	}

	policy := service.DescribeRetryPolicy(remaining)
	var result *core.DescribeResult

	attempts, err := policy.ExecuteWithNotify(ctx, func(ctx context.Context, attempt int) error {
		if err := env.MarkInProgress(ctx, item.Path, s.Name(), prior+attempt); err != nil {
			return err
		}
		if err := s.throttle.Acquire(ctx); err != nil {
			return err
		}

		res, err := s.provider.Describe(ctx, core.DescribeRequest{
			SourcePath: item.Path,
			Data:       payload,
			MIME:       media.MIMEForExt(item.Path),
			Prompt:     s.prompt,
		})
		if err != nil {
			if core.IsCategory(err, core.ErrCatRateLimit) {
				s.throttle.RecordError()
			}
			return err
		}
		s.throttle.RecordSuccess()
		result = res
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		logger.Warn("describe attempt failed, retrying",
			"source", item.Path,
			"attempt", prior+attempt,
			"error_kind", string(core.GetCategory(err)),
			"backoff", delay,
		)
	})

	total := prior + attempts

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			// User abort: the in_progress record stays behind and the
			// item is re-queued by the next resume
			return "", err
		}
		var exhausted *service.RetryExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.LastErr
		}
		logger.Warn("describe failed",
			"source", item.Path,
			"attempts", total,
			"error_kind", string(core.GetCategory(err)),
		)
		if recErr := env.MarkFailed(ctx, item.Path, s.Name(), total, started, err); recErr != nil {
			return "", recErr
		}
		return "", nil
	}

	out := filepath.Join(env.RunDir, "artifacts", "describe", stemOf(item.Path)+".txt")
	if err := writeArtifact(out, []byte(result.Text)); err != nil {
		return "", err
	}
	if err := env.MarkSucceeded(ctx, item.Path, s.Name(), total, started, []string{out}); err != nil {
		return "", err
	}
	logger.Debug("described",
		"source", item.Path,
		"attempts", total,
		"elapsed", result.Duration.Round(time.Millisecond),
	)
	return out, nil
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	return nil
}
