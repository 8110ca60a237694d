package openai

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

const apiURL = "https://api.openai.com/v1/chat/completions"

// Backend implements port.RecognitionBackend using the OpenAI Chat Completions API.
type Backend struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// Register adds the openai factory to the recognition registry.
func Register() {
	recognition.RegisterBackend(config.BackendOpenAI, func(cfg *config.BackendProviderConfig) (port.RecognitionBackend, error) {
		return NewBackend(cfg), nil
	})
}

// NewBackend creates an OpenAI recognition backend from a provider config.
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
		model = "gpt-4o"
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
		"model": b.model,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": contentBlocks,
			},
		},
		"response_format": map[string]string{"type": "json_object"},
		"max_tokens":      8192,
		"temperature":     0,
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
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling openai API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, recognition.StatusError(config.BackendOpenAI, resp.StatusCode, resp.Header.Get("Retry-After"), respBody)
	}

	return parseResponse(respBody)
}

func buildContentBlocks(img domain.RawImage) ([]map[string]interface{}, error) {
	dataURI := fmt.Sprintf("data:%s;base64,%s", img.ContentType, base64.StdEncoding.EncodeToString(img.Data))
	var blocks []map[string]interface{}

	switch img.ContentType {
	case "application/pdf":
		name := img.FileName
		if name == "" {
			name = "invoice.pdf"
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "file",
			"file": map[string]interface{}{
				"filename":  name,
				"file_data": dataURI,
			},
		})
	case "image/jpeg", "image/png":
		blocks = append(blocks, map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": dataURI,
			},
		})
	default:
		return nil, fmt.Errorf("%w: %s", recognition.ErrUnsupportedContentType, img.ContentType)
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "text",
		"text": recognition.LinesPrompt,
	})
	return blocks, nil
}

// apiResponse models the OpenAI Chat Completions API response.
type apiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func parseResponse(body []byte) (*domain.RawDocument, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from API: no choices")
	}
	if resp.Choices[0].FinishReason == "length" {
		return nil, fmt.Errorf("output truncated (finish_reason: length): response exceeded output token limit")
	}

	lines, err := recognition.ParseLines(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return &domain.RawDocument{Backend: config.BackendOpenAI, Lines: lines}, nil
}
