package gemini

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

const apiURLTemplate = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// Backend implements port.RecognitionBackend using the Gemini generateContent API.
type Backend struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// Register adds the gemini factory to the recognition registry.
func Register() {
	recognition.RegisterBackend(config.BackendGemini, func(cfg *config.BackendProviderConfig) (port.RecognitionBackend, error) {
		return NewBackend(cfg), nil
	})
}

// NewBackend creates a Gemini recognition backend from a provider config.
func NewBackend(cfg *config.BackendProviderConfig) *Backend {
	model := modelOrDefault(cfg)
	return newBackend(cfg, fmt.Sprintf(apiURLTemplate, model))
}

// NewBackendWithEndpoint creates a backend pointing at a custom API endpoint (for testing).
func NewBackendWithEndpoint(cfg *config.BackendProviderConfig, endpoint string) *Backend {
	return newBackend(cfg, endpoint)
}

func modelOrDefault(cfg *config.BackendProviderConfig) string {
	if cfg.DefaultModel == "" {
		return "gemini-2.0-flash"
	}
	return cfg.DefaultModel
}

func newBackend(cfg *config.BackendProviderConfig, endpoint string) *Backend {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Backend{
		apiKey:   cfg.APIKey,
		model:    modelOrDefault(cfg),
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *Backend) Recognize(ctx context.Context, img domain.RawImage) (*domain.RawDocument, error) {
	mimeType, err := toGeminiMimeType(img.ContentType)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]interface{}{
					{
						"inline_data": map[string]interface{}{
							"mime_type": mimeType,
							"data":      base64.StdEncoding.EncodeToString(img.Data),
						},
					},
					{
						"text": recognition.LinesPrompt,
					},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"maxOutputTokens":  8192,
			"temperature":      0,
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
	req.Header.Set("x-goog-api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling gemini API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, recognition.StatusError(config.BackendGemini, resp.StatusCode, resp.Header.Get("Retry-After"), respBody)
	}

	return parseResponse(respBody)
}

func toGeminiMimeType(contentType string) (string, error) {
	switch contentType {
	case "application/pdf", "image/jpeg", "image/png":
		return contentType, nil
	default:
		return "", fmt.Errorf("%w: %s", recognition.ErrUnsupportedContentType, contentType)
	}
}

// geminiResponse models the Gemini API response.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func parseResponse(body []byte) (*domain.RawDocument, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from API: no candidates")
	}
	if resp.Candidates[0].FinishReason == "MAX_TOKENS" {
		return nil, fmt.Errorf("output truncated (finishReason: MAX_TOKENS): response exceeded output token limit")
	}
	if len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from API: no parts")
	}

	lines, err := recognition.ParseLines(resp.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}
	return &domain.RawDocument{Backend: config.BackendGemini, Lines: lines}, nil
}
