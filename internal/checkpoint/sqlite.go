package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mediascribe/mediascribe/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore is a checkpoint log backed by an embedded SQLite table.
// Rows are only ever inserted; replay reduces them by insertion order.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	// WAL mode keeps concurrent per-item appends from blocking each other
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint database: %w", err)
	}

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Append durably writes one record.
func (s *SQLiteStore) Append(ctx context.Context, rec *core.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outputsJSON []byte
	if len(rec.Outputs) > 0 {
		var err error
		outputsJSON, err = json.Marshal(rec.Outputs)
		if err != nil {
			return fmt.Errorf("marshaling outputs: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (
			id, source_path, stage, status, attempt,
			error_kind, error, outputs, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.SourcePath, rec.Stage, rec.Status, rec.Attempt,
		nullableString(rec.ErrorKind), nullableString(rec.Error),
		nullableString(string(outputsJSON)),
		rec.StartedAt, nullableTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Records returns the full ordered audit trail.
func (s *SQLiteStore) Records(ctx context.Context) ([]core.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, stage, status, attempt,
		       error_kind, error, outputs, started_at, finished_at
		FROM records
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	defer rows.Close()

	var records []core.ItemRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (*core.ItemRecord, error) {
	var rec core.ItemRecord
	var errorKind, errorMsg, outputsJSON sql.NullString
	var finishedAt sql.NullTime

	err := rows.Scan(
		&rec.ID, &rec.SourcePath, &rec.Stage, &rec.Status, &rec.Attempt,
		&errorKind, &errorMsg, &outputsJSON, &rec.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if errorKind.Valid {
		rec.ErrorKind = errorKind.String
	}
	if errorMsg.Valid {
		rec.Error = errorMsg.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	if outputsJSON.Valid && outputsJSON.String != "" {
		if err := json.Unmarshal([]byte(outputsJSON.String), &rec.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshaling outputs: %w", err)
		}
	}
	return &rec, nil
}

// Replay reduces the log to the latest record per item key.
func (s *SQLiteStore) Replay(ctx context.Context) (map[core.ItemKey]*core.ItemRecord, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	return Reduce(records), nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ core.CheckpointStore = (*SQLiteStore)(nil)
