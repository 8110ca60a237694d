package claude

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
	"ledgerline/internal/port"
	"ledgerline/internal/recognition"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
)

// Backend implements port.RecognitionBackend using the Anthropic Messages API.
type Backend struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// Register adds the claude factory to the recognition registry.
func Register() {
	recognition.RegisterBackend(config.BackendClaude, func(cfg *config.BackendProviderConfig) (port.RecognitionBackend, error) {
		return NewBackend(cfg), nil
	})
}

// NewBackend creates a Claude recognition backend from a provider config.
func NewBackend(cfg *config.BackendProviderConfig) *Backend {
	return newBackend(cfg, apiURL)
}

// NewBackendWithEndpoint creates a backend pointing at a custom API endpoint (for testing).
func NewBackendWithEndpoint(cfg *config.BackendProviderConfig, endpoint string) *Backend {
	return newBackend(cfg, endpoint)
}

func newBackend(cfg *config.BackendProviderConfig, endpoint string) *Backend {
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Backend{
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *Backend) Recognize(ctx context.Context, img domain.RawImage) (*domain.RawDocument, error) {
	contentBlocks, err := buildContentBlocks(img)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"model":      b.model,
		"max_tokens": 8192,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": contentBlocks,
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling anthropic API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, recognition.StatusError(config.BackendClaude, resp.StatusCode, resp.Header.Get("Retry-After"), respBody)
	}

	return parseResponse(respBody)
}

func buildContentBlocks(img domain.RawImage) ([]map[string]interface{}, error) {
	encoded := base64.StdEncoding.EncodeToString(img.Data)
	var blockType string
	switch img.ContentType {
	case "application/pdf":
		blockType = "document"
	case "image/jpeg", "image/png":
		blockType = "image"
	default:
		return nil, fmt.Errorf("%w: %s", recognition.ErrUnsupportedContentType, img.ContentType)
	}

	return []map[string]interface{}{
		{
			"type": blockType,
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": img.ContentType,
				"data":       encoded,
			},
		},
		{
			"type": "text",
			"text": recognition.LinesPrompt,
		},
	}, nil
}

// apiResponse models the Anthropic Messages API response.
type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func parseResponse(body []byte) (*domain.RawDocument, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}

	if resp.StopReason == "max_tokens" {
		return nil, fmt.Errorf("output truncated (stop_reason: max_tokens): response exceeded output token limit")
	}

	lines, err := recognition.ParseLines(resp.Content[0].Text)
	if err != nil {
		return nil, err
	}
	return &domain.RawDocument{Backend: config.BackendClaude, Lines: lines}, nil
}
