package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mediascribe/mediascribe/internal/core"
)

// JSONLStore is a flat append-only checkpoint log: one JSON record per line.
// Appends are serialized and fsynced so a process kill never interleaves or
// truncates records mid-line beyond the final partial line, which replay
// tolerates and drops.
type JSONLStore struct {
	path string
	f    *os.File
	mu   sync.Mutex
}

// NewJSONLStore opens (or creates) the log at path.
func NewJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint log: %w", err)
	}
	return &JSONLStore{path: path, f: f}, nil
}

// Append durably writes one record.
func (s *JSONLStore) Append(ctx context.Context, rec *core.ItemRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing checkpoint log: %w", err)
	}
	return nil
}

// Records returns the full ordered audit trail.
func (s *JSONLStore) Records(ctx context.Context) ([]core.ItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening checkpoint log: %w", err)
	}
	defer f.Close()

	var records []core.ItemRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec core.ItemRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// A partial trailing line from a crash mid-write is dropped;
			// corruption anywhere else is a real error.
			if scanner.Scan() {
				return nil, core.ErrState(core.CodeStoreCorrupted,
					fmt.Sprintf("malformed checkpoint record at line %d of %s", line, s.path)).WithCause(err)
			}
			break
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checkpoint log: %w", err)
	}
	return records, nil
}

// Replay reduces the log to the latest record per item key.
func (s *JSONLStore) Replay(ctx context.Context) (map[core.ItemKey]*core.ItemRecord, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	return Reduce(records), nil
}

// Close closes the underlying file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var _ core.CheckpointStore = (*JSONLStore)(nil)
