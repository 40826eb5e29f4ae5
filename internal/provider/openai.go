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

// OpenAI talks to an OpenAI-compatible cloud chat-completions API with
// API-key auth.
type OpenAI struct {
	baseURL string
	model   string
	apiKey  string
	profile core.ProviderProfile
	httpc   *http.Client
	logger  *logging.Logger
}

// NewOpenAI creates the cloud-API provider. The key must already be
// resolved; this constructor never reads credential sources itself.
func NewOpenAI(cfg *config.Config, model, apiKey string, logger *logging.Logger) (core.Provider, error) {
	if apiKey == "" {
		return nil, core.ErrSetup(core.CodeMissingCredential,
			"openai provider requires an API key")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if model == "" {
		model = cfg.Providers.OpenAI.Model
	}
	profile := openAIProfile()
	return &OpenAI{
		baseURL: cfg.Providers.OpenAI.BaseURL,
		model:   model,
		apiKey:  apiKey,
		profile: profile,
		httpc:   &http.Client{Timeout: profile.RequestTimeout},
		logger:  logger.WithProvider("openai"),
	}, nil
}

// Name returns the provider identifier.
func (o *OpenAI) Name() string { return "openai" }

// Profile returns the static descriptor.
func (o *OpenAI) Profile() core.ProviderProfile { return o.profile }

// Ping verifies the credential against the models endpoint. An expired or
// missing key fails fast here instead of retry-looping mid-run.
func (o *OpenAI) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("building ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpc.Do(req)
	if err != nil {
		return core.ErrSetup(core.CodeProviderUnreachable,
			fmt.Sprintf("openai API is not reachable at %s", o.baseURL)).WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.ErrSetup(core.CodeMissingCredential,
			fmt.Sprintf("openai rejected the API key (HTTP %d); check the key file or environment variable", resp.StatusCode))
	default:
		return core.ErrSetup(core.CodeProviderUnreachable,
			fmt.Sprintf("openai at %s answered HTTP %d", o.baseURL, resp.StatusCode))
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Describe submits one image for description.
func (o *OpenAI) Describe(ctx context.Context, req core.DescribeRequest) (*core.DescribeResult, error) {
	// Wall-clock ceiling, independent of the HTTP client timeout
	ctx, cancel := context.WithTimeout(ctx, o.profile.HardTimeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = o.model
	}
	mime := req.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.Data))

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

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

	// A 200 with an empty or unparseable body is a known overload symptom
	// of this backend family; classify it as retryable content failure.
	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, core.ErrEmptyContent(o.Name()).WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, core.ErrEmptyContent(o.Name())
	}
	text := parsed.Choices[0].Message.Content
	if err := classifyContent(o.Name(), text); err != nil {
		return nil, err
	}

	return &core.DescribeResult{
		Text:     text,
		Model:    parsed.Model,
		Duration: time.Since(start),
	}, nil
}

var _ core.Provider = (*OpenAI)(nil)
