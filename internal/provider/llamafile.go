package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/logging"
)

// Llamafile runs a local model-runner process per request.
type Llamafile struct {
	path      string
	modelPath string
	profile   core.ProviderProfile
	logger    *logging.Logger
}

// NewLlamafile creates the local-process provider.
func NewLlamafile(cfg *config.Config, _ string, _ string, logger *logging.Logger) (core.Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Llamafile{
		path:      cfg.Providers.Llamafile.Path,
		modelPath: cfg.Providers.Llamafile.ModelPath,
		profile:   llamafileProfile(),
		logger:    logger.WithProvider("llamafile"),
	}, nil
}

// Name returns the provider identifier.
func (l *Llamafile) Name() string { return "llamafile" }

// Profile returns the static descriptor.
func (l *Llamafile) Profile() core.ProviderProfile { return l.profile }

// Ping checks the runner binary is present and executable.
func (l *Llamafile) Ping(ctx context.Context) error {
	if _, err := exec.LookPath(l.path); err != nil {
		return core.ErrSetup(core.CodeProviderUnreachable,
			fmt.Sprintf("model runner %q not found in PATH; install it or set providers.llamafile.path", l.path)).WithCause(err)
	}
	if l.modelPath != "" {
		if _, err := os.Stat(l.modelPath); err != nil {
			return core.ErrSetup(core.CodeProviderUnreachable,
				fmt.Sprintf("model file %s is missing", l.modelPath)).WithCause(err)
		}
	}
	return nil
}

// Describe runs the model process over one image.
func (l *Llamafile) Describe(ctx context.Context, req core.DescribeRequest) (*core.DescribeResult, error) {
	// Wall-clock ceiling for the whole process run
	ctx, cancel := context.WithTimeout(ctx, l.profile.HardTimeout)
	defer cancel()

	// The runner reads the image from disk; the payload may be a re-encoded
	// variant of the source, so stage it in a temp file.
	tmp, err := os.CreateTemp("", "mediascribe-*"+filepath.Ext(req.SourcePath))
	if err != nil {
		return nil, fmt.Errorf("staging image: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(req.Data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("staging image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("staging image: %w", err)
	}

	args := []string{"--image", tmpPath, "-p", req.Prompt, "--temp", "0", "-n", "512", "--log-disable"}
	if l.modelPath != "" {
		args = append([]string{"-m", l.modelPath}, args...)
	}

	start := time.Now()
	// #nosec G204 -- runner path and args come from validated config
	cmd := exec.CommandContext(ctx, l.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, core.ErrTimeout(fmt.Sprintf("model runner exceeded %s", l.profile.HardTimeout))
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, core.ErrSetup(core.CodeProviderUnreachable,
				fmt.Sprintf("model runner %q could not be started", l.path)).WithCause(err)
		}
		// Runner crashes are treated as transient: local inference is
		// observed to fail sporadically under memory pressure.
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, core.ErrNetwork(fmt.Sprintf("model runner exited with error: %s", msg)).WithCause(err)
	}

	text := strings.TrimSpace(stdout.String())
	if err := classifyContent(l.Name(), text); err != nil {
		return nil, err
	}

	return &core.DescribeResult{
		Text:     text,
		Model:    filepath.Base(l.modelPath),
		Duration: time.Since(start),
	}, nil
}

var _ core.Provider = (*Llamafile)(nil)
