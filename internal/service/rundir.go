package service

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/core"
	"gopkg.in/yaml.v3"
)

const manifestFile = "manifest.yaml"

var unsafeRunChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// sanitizeRunPart makes one run-ID component filesystem-safe.
func sanitizeRunPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = unsafeRunChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		s = "x"
	}
	return s
}

// RunID derives the deterministic, globally distinguishing run identifier
// from provider, model, prompt style, and start time.
func RunID(providerName, model, promptStyle string, start time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s",
		sanitizeRunPart(providerName),
		sanitizeRunPart(model),
		sanitizeRunPart(promptStyle),
		start.Format("20060102-150405"),
	)
}

// CreateRunDir creates the working directory for a new run. On the rare
// collision (two runs starting the same second with identical settings) a
// short random suffix keeps the identifiers distinct.
func CreateRunDir(baseDir, runID string) (string, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return "", fmt.Errorf("creating runs directory: %w", err)
	}

	dir := filepath.Join(baseDir, runID)
	err := os.Mkdir(dir, 0o750)
	if os.IsExist(err) {
		dir = filepath.Join(baseDir, runID+"-"+uuid.NewString()[:8])
		err = os.Mkdir(dir, 0o750)
	}
	if err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return dir, nil
}

// SaveManifest writes the manifest atomically into the run directory.
func SaveManifest(runDir string, m *core.RunManifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := config.AtomicWrite(filepath.Join(runDir, manifestFile), data); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest of a prior run. The manifest is the
// authoritative configuration snapshot for resume.
func LoadManifest(runDir string) (*core.RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(runDir, manifestFile)) // #nosec G304 -- run dir chosen by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrSetup(core.CodeRunNotFound,
				fmt.Sprintf("%s does not contain a run manifest; is it a run directory?", runDir))
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m core.RunManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, core.ErrState(core.CodeManifestCorrupted,
			fmt.Sprintf("manifest in %s is unreadable", runDir)).WithCause(err)
	}
	return &m, nil
}
