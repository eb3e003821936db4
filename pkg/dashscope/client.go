// Package dashscope talks to the hosted multimodal-generation endpoint.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/menta2k/gui-annotator/pkg/client"
)

// Defaults for the hosted endpoint
const (
	DefaultEndpoint  = "https://dashscope.aliyuncs.com/api/v1/services/aigc/multimodal-generation/generation"
	DefaultModel     = "qwen-vl-max"
	DefaultMaxTokens = 1024
	DefaultTimeout   = 30 * time.Second
)

// Config holds the transport settings
type Config struct {
	APIKey    string
	Endpoint  string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Transport implements client.Transport for the multimodal-generation API
type Transport struct {
	cfg        Config
	httpClient *http.Client
}

// Request is the multimodal-generation request body
type Request struct {
	Model      string     `json:"model"`
	Input      Input      `json:"input"`
	Parameters Parameters `json:"parameters"`
}

type Input struct {
	Messages []Message `json:"messages"`
}

type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart holds exactly one of Image or Text
type ContentPart struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

type Parameters struct {
	MaxTokens int `json:"max_tokens"`
}

// New validates the API key and creates a transport. An invalid key is a
// configuration error; nothing is sent with it.
func New(cfg Config) (*Transport, error) {
	if err := client.ValidateAPIKey(cfg.APIKey); err != nil {
		return nil, fmt.Errorf("dashscope: %w", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Transport{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (t *Transport) Name() string { return "dashscope" }

// BuildRequest assembles one user message: an image part per payload followed
// by a single trailing text part
func (t *Transport) BuildRequest(images []string, prompt string) Request {
	content := make([]ContentPart, 0, len(images)+1)
	for _, img := range images {
		content = append(content, ContentPart{Image: "data:image/jpeg;base64," + img})
	}
	content = append(content, ContentPart{Text: prompt})

	return Request{
		Model: t.cfg.Model,
		Input: Input{
			Messages: []Message{
				{
					Role:    "user",
					Content: content,
				},
			},
		},
		Parameters: Parameters{MaxTokens: t.cfg.MaxTokens},
	}
}

// Send performs a single POST; retries belong to the caller
func (t *Transport) Send(ctx context.Context, images []string, prompt string) client.Response {
	body, err := encodeJSON(t.BuildRequest(images, prompt))
	if err != nil {
		return client.Failed(0, fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return client.Failed(0, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return client.Failed(0, fmt.Sprintf("failed to send request: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return client.Failed(resp.StatusCode, fmt.Sprintf("failed to read response: %v", err))
	}

	return client.FromStatus(resp.StatusCode, string(respBody))
}

// encodeJSON marshals without HTML escaping so prompts keep <, > and & verbatim
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
