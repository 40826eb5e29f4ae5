package core

import (
	"context"
	"time"
)

// =============================================================================
// Provider Port
// =============================================================================

// Provider defines the contract for vision-AI backends.
type Provider interface {
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string

	// Profile returns the static descriptor for this backend.
	Profile() ProviderProfile

	// Ping checks if the backend is reachable and authenticated.
	Ping(ctx context.Context) error

	// Describe submits one image and returns its description.
	Describe(ctx context.Context, req DescribeRequest) (*DescribeResult, error)
}

// ProviderKind identifies the backend family.
type ProviderKind string

const (
	KindLocalProcess ProviderKind = "local-process"
	KindLocalAPI     ProviderKind = "local-api"
	KindCloudAPI     ProviderKind = "cloud-api"
)

// ProviderProfile is the static per-backend descriptor. It is loaded at run
// start and read-only afterwards.
type ProviderProfile struct {
	Name string
	Kind ProviderKind
	// Ceiling is the maximum transport-encoded payload size in bytes.
	Ceiling int64
	// Expansion is the inflation ratio of the transport encoding
	// (base64 inflates by 4/3).
	Expansion float64
	// RequestTimeout bounds a single HTTP request or process wait.
	RequestTimeout time.Duration
	// HardTimeout is the wall-clock ceiling for one Describe call,
	// independent of transport-level timeouts.
	HardTimeout time.Duration
	// MinInterval is the minimum spacing between consecutive requests.
	MinInterval time.Duration
	// RetryBudget is the maximum number of attempts per item.
	RetryBudget int
	// Concurrency bounds the describe-stage worker pool.
	Concurrency int
	// RequiresCredential marks cloud backends that abort without a key.
	RequiresCredential bool
}

// DescribeRequest carries one image to a provider.
type DescribeRequest struct {
	SourcePath string
	Data       []byte
	MIME       string
	Prompt     string
	Model      string
}

// DescribeResult is a well-formed description response.
type DescribeResult struct {
	Text     string
	Model    string
	Duration time.Duration
}

// =============================================================================
// Checkpoint Port
// =============================================================================

// CheckpointStore is the durable append-only log of ItemRecord transitions.
// Replaying the log fully determines each item's latest status; it is the
// single source of truth for resume.
type CheckpointStore interface {
	// Append durably writes one record. Writes for distinct item keys may
	// race; the store serializes them so no record is ever corrupted.
	Append(ctx context.Context, rec *ItemRecord) error

	// Records returns the full ordered audit trail.
	Records(ctx context.Context) ([]ItemRecord, error)

	// Replay reduces the log to the latest record per item key.
	Replay(ctx context.Context) (map[ItemKey]*ItemRecord, error)

	Close() error
}
