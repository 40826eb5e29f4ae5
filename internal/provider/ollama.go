package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/logging"
)

// Ollama talks to a local Ollama HTTP API.
type Ollama struct {
	baseURL string
	model   string
	profile core.ProviderProfile
	httpc   *http.Client
	logger  *logging.Logger
}

// NewOllama creates the local-API provider.
func NewOllama(cfg *config.Config, model, _ string, logger *logging.Logger) (core.Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if model == "" {
		model = cfg.Providers.Ollama.Model
	}
	profile := ollamaProfile()
	return &Ollama{
		baseURL: cfg.Providers.Ollama.BaseURL,
		model:   model,
		profile: profile,
		httpc:   &http.Client{Timeout: profile.RequestTimeout},
		logger:  logger.WithProvider("ollama"),
	}, nil
}

// Name returns the provider identifier.
func (o *Ollama) Name() string { return "ollama" }

// Profile returns the static descriptor.
func (o *Ollama) Profile() core.ProviderProfile { return o.profile }

// Ping checks the local API is reachable.
func (o *Ollama) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("building ping request: %w", err)
	}
	resp, err := o.httpc.Do(req)
	if err != nil {
		return core.ErrSetup(core.CodeProviderUnreachable,
			fmt.Sprintf("ollama is not reachable at %s (is the server running?)", o.baseURL)).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.ErrSetup(core.CodeProviderUnreachable,
			fmt.Sprintf("ollama at %s answered HTTP %d", o.baseURL, resp.StatusCode))
	}
	return nil
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Describe submits one image for description.
func (o *Ollama) Describe(ctx context.Context, req core.DescribeRequest) (*core.DescribeResult, error) {
	// Wall-clock ceiling, independent of the HTTP client timeout
	ctx, cancel := context.WithTimeout(ctx, o.profile.HardTimeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = o.model
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  model,
		Prompt: req.Prompt,
		Images: []string{base64.StdEncoding.EncodeToString(req.Data)},
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpc.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(o.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, classifyTransportError(o.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(o.Name(), resp.StatusCode, string(respBody))
	}

	var parsed ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, core.ErrEmptyContent(o.Name()).WithCause(err)
	}
	if err := classifyContent(o.Name(), parsed.Response); err != nil {
		return nil, err
	}

	return &core.DescribeResult{
		Text:     parsed.Response,
		Model:    parsed.Model,
		Duration: time.Since(start),
	}, nil
}

var _ core.Provider = (*Ollama)(nil)
