package checkpoint

import (
	"fmt"
	"path/filepath"

	"github.com/mediascribe/mediascribe/internal/core"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendJSONL  = "jsonl"
)

// Open creates the checkpoint store for a run directory. The backend choice
// is part of the run manifest so a resume always reopens the same store.
func Open(backend, runDir string) (core.CheckpointStore, error) {
	switch backend {
	case BackendSQLite, "":
		return NewSQLiteStore(filepath.Join(runDir, "checkpoints.db"))
	case BackendJSONL:
		return NewJSONLStore(filepath.Join(runDir, "checkpoints.jsonl"))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}
