package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrAPIStatus indicates a non-2xx response from the model API.
var ErrAPIStatus = errors.New("model api error")

// apiTimeout bounds one completion or embedding round trip.
const apiTimeout = 2 * time.Minute

// ModelConfig configures the HTTP-backed model.
type ModelConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// APIKey is sent as a bearer token.
	APIKey string
	// CompletionModel names the chat model.
	CompletionModel string
	// EmbeddingModel names the embedding model.
	EmbeddingModel string
}

// HTTPModel implements Model over an OpenAI-compatible HTTP API.
type HTTPModel struct {
	cfg    ModelConfig
	client *http.Client
}

// NewHTTPModel creates a model client over the given API.
func NewHTTPModel(cfg ModelConfig) *HTTPModel {
	return &HTTPModel{
		cfg:    cfg,
		client: &http.Client{Timeout: apiTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements Model. The schema is advisory here: structured
// output is requested as a JSON object and validated by the caller.
func (m *HTTPModel) Complete(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error) {
	req := chatRequest{
		Model:    m.cfg.CompletionModel,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	if len(schema) > 0 {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse

	err := m.post(ctx, "/chat/completions", req, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrAPIStatus)
	}

	return json.RawMessage(resp.Choices[0].Message.Content), nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Model.
func (m *HTTPModel) Embed(ctx context.Context, text string) ([]float64, error) {
	req := embedRequest{
		Model: m.cfg.EmbeddingModel,
		Input: []string{text},
	}

	var resp embedResponse

	err := m.post(ctx, "/embeddings", req, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding data", ErrAPIStatus)
	}

	return resp.Data[0].Embedding, nil
}

func (m *HTTPModel) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return fmt.Errorf("%w: %s returned %d: %s", ErrAPIStatus, path, resp.StatusCode, detail)
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if decodeErr != nil {
		return fmt.Errorf("decode %s response: %w", path, decodeErr)
	}

	return nil
}
