package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/gui-annotator/pkg/client"
)

// DefaultURL is where a local Ollama server listens
const DefaultURL = "http://localhost:11434"

// Config holds the transport settings
type Config struct {
	URL       string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Transport wraps the Ollama API client
type Transport struct {
	client  *api.Client
	model   string
	options map[string]any
	timeout time.Duration
}

// New creates a new Ollama transport
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}

	// Parse the provided URL
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", cfg.URL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	options := map[string]any{}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}

	return &Transport{
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   cfg.Model,
		options: options,
		timeout: cfg.Timeout,
	}, nil
}

func (t *Transport) Name() string { return "ollama" }

// Send runs one non-streaming chat call. The reply is re-marshalled to JSON so
// the extractor sees the same {"message":{"content":...}} shape the server sent.
func (t *Transport) Send(ctx context.Context, images []string, prompt string) client.Response {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	imgs := make([]api.ImageData, 0, len(images))
	for _, b64 := range images {
		// Decode base64 image to raw bytes
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return client.Failed(0, fmt.Sprintf("failed to decode base64 image: %v", err))
		}
		imgs = append(imgs, api.ImageData(raw))
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: t.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  imgs,
			},
		},
		Stream:  &streamFalse,
		Options: t.options,
	}

	var reply api.ChatResponse
	err := t.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply = resp
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return client.Failed(statusErr.StatusCode, statusErr.Error())
		}
		return client.Failed(0, fmt.Sprintf("ollama chat error: %v", err))
	}

	body, err := json.Marshal(reply)
	if err != nil {
		return client.Failed(0, fmt.Sprintf("failed to marshal reply: %v", err))
	}
	return client.Succeeded(string(body))
}
