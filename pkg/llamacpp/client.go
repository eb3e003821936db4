package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/gui-annotator/pkg/client"
)

// DefaultURL is where llama-server listens by default
const DefaultURL = "http://localhost:8080"

// Config holds the transport settings. APIKey is optional and sent as a
// bearer token when set.
type Config struct {
	URL       string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Transport speaks the OpenAI-compatible chat completions API
type Transport struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &Transport{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (t *Transport) Name() string { return "llamacpp" }

// BuildRequest puts the images first and the prompt last, mirroring the
// hosted endpoint's part order
func (t *Transport) BuildRequest(images []string, prompt string) ChatCompletionRequest {
	content := make([]ContentPart, 0, len(images)+1)
	for _, img := range images {
		content = append(content, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: "data:image/jpeg;base64," + img,
			},
		})
	}
	content = append(content, ContentPart{
		Type: "text",
		Text: prompt,
	})

	return ChatCompletionRequest{
		Model: t.model,
		Messages: []Message{
			{
				Role:    "user",
				Content: content,
			},
		},
		Temperature: 0,
		MaxTokens:   t.maxTokens,
		Stream:      false,
	}
}

func (t *Transport) Send(ctx context.Context, images []string, prompt string) client.Response {
	jsonData, err := json.Marshal(t.BuildRequest(images, prompt))
	if err != nil {
		return client.Failed(0, fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return client.Failed(0, fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return client.Failed(0, fmt.Sprintf("failed to send request: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return client.Failed(resp.StatusCode, fmt.Sprintf("failed to read response: %v", err))
	}

	return client.FromStatus(resp.StatusCode, string(body))
}
