package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	retry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// ErrInvalidAPIKey is returned when a key does not look like "sk-" plus at least 28 characters
var ErrInvalidAPIKey = errors.New("invalid API key format")

const (
	apiKeyPrefix    = "sk-"
	apiKeyMinSuffix = 28
)

// ValidateAPIKey checks the shape of a bearer API key
func ValidateAPIKey(key string) error {
	if !strings.HasPrefix(key, apiKeyPrefix) || len(key)-len(apiKeyPrefix) < apiKeyMinSuffix {
		return ErrInvalidAPIKey
	}
	return nil
}

// Client encodes images, sends them through a transport and applies the
// retry policy. It keeps no state between calls.
type Client struct {
	transport Transport
	encoder   ImageEncoder
	policy    Policy
	logger    *zap.Logger
}

// New creates a client. A nil logger disables logging.
func New(transport Transport, encoder ImageEncoder, policy Policy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	return &Client{
		transport: transport,
		encoder:   encoder,
		policy:    policy,
		logger:    logger.With(zap.String("backend", transport.Name())),
	}
}

// Policy returns the client's retry policy
func (c *Client) Policy() Policy {
	return c.policy
}

// Query sends the images at the given paths together with a prompt. Every
// image must encode successfully; otherwise the endpoint is not contacted.
func (c *Client) Query(ctx context.Context, images []string, prompt string) Response {
	payloads := make([]string, 0, len(images))
	size := 0
	for _, path := range images {
		b64, err := c.encoder.PrepareImageForModel(path)
		if err != nil {
			c.logger.Warn("image encoding failed, request not sent",
				zap.String("image", path), zap.Error(err))
			return Failed(0, fmt.Sprintf("failed to encode image %s: %v", path, err))
		}
		size += len(b64)
		payloads = append(payloads, b64)
	}

	c.logger.Debug("sending inference request",
		zap.Int("images", len(payloads)),
		zap.String("payload", humanize.Bytes(uint64(size))))

	return c.QueryEncoded(ctx, payloads, prompt)
}

// QueryEncoded runs the retry loop over already-encoded payloads
func (c *Client) QueryEncoded(ctx context.Context, payloads []string, prompt string) Response {
	var (
		last    Response
		attempt int
		delay   time.Duration
		called  bool
	)

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		return delay, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		start := time.Now()
		last = c.transport.Send(ctx, payloads, prompt)
		called = true

		decision := c.policy.Decide(attempt, last)
		fields := []zap.Field{
			zap.Int("attempt", attempt),
			zap.Int("status", last.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
		}
		attempt++

		switch {
		case last.Success:
			c.logger.Debug("inference succeeded", fields...)
			return nil
		case IsAuthError(last):
			c.logger.Error("authorization rejected, not retrying",
				append(fields, zap.String("message", truncate(last.Message)))...)
			return nil
		case decision.Action == Stop:
			c.logger.Warn("inference failed, retries exhausted",
				append(fields, zap.String("message", truncate(last.Message)))...)
			return nil
		}

		delay = decision.Delay
		c.logger.Info("inference failed, retrying",
			append(fields, zap.Duration("delay", delay), zap.String("message", truncate(last.Message)))...)
		return retry.RetryableError(last.Err())
	})

	if err != nil {
		// only a cancelled or expired context gets here
		if !called {
			return Failed(0, err.Error())
		}
		return Failed(last.StatusCode, fmt.Sprintf("%s (%v)", last.Message, err))
	}
	return last
}

func truncate(s string) string {
	const max = 300
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
