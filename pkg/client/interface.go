package client

import (
	"context"
)

// Transport sends one already-encoded multimodal request to a backend.
// Images are base64 JPEG payloads without a data-url prefix. Transports do
// not retry; they report exactly what happened on the single attempt.
type Transport interface {
	Name() string
	Send(ctx context.Context, images []string, prompt string) Response
}

// ImageEncoder turns an image file into the base64 payload a transport sends
type ImageEncoder interface {
	PrepareImageForModel(path string) (string, error)
}
