// Package guiannotator answers GUI-understanding questions about app
// screenshots with a hosted vision-language model and writes the answers
// back into the task datasets.
//
// Three task kinds are supported:
//
//   - gui_grounding: locate a described UI component, answered as [x1,y1,x2,y2] or [x,y]
//   - gui_referring: describe the component at given coordinates
//   - advanced_vqa: free-form questions whose answers may cite components
//
// Screenshots are resized to a fixed 960x960 frame before they are sent, so
// coordinates are converted between that frame and each image's own
// resolution on the way in and on the way out.
//
// Basic usage:
//
//	cfg, err := config.LoadFromFile("config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	a, err := guiannotator.New(cfg, zap.NewExample())
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, res := range a.Run(context.Background()) {
//		fmt.Println(res.Dataset.Kind, res.Stats)
//	}
//
// The package wires together these components:
//
//  1. Processing (pkg/processing): image probing, resizing and debug overlays
//  2. Client (pkg/client): retrying inference client over a pluggable transport
//  3. Extract (pkg/extract): answer extraction and coordinate rescaling
//  4. Pipeline (pkg/pipeline): per-dataset processing and answer write-back
package guiannotator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/menta2k/gui-annotator/internal/config"
	"github.com/menta2k/gui-annotator/internal/store"
	"github.com/menta2k/gui-annotator/pkg/client"
	"github.com/menta2k/gui-annotator/pkg/coords"
	"github.com/menta2k/gui-annotator/pkg/dashscope"
	"github.com/menta2k/gui-annotator/pkg/extract"
	"github.com/menta2k/gui-annotator/pkg/llamacpp"
	"github.com/menta2k/gui-annotator/pkg/ollama"
	"github.com/menta2k/gui-annotator/pkg/pipeline"
	"github.com/menta2k/gui-annotator/pkg/processing"
	"github.com/menta2k/gui-annotator/pkg/prompts"
	"github.com/menta2k/gui-annotator/pkg/types"
)

// Version of the annotator
const Version = "1.0.0"

// Annotator is the assembled pipeline
type Annotator struct {
	cfg       *config.Config
	processor *processing.Processor
	client    *client.Client
	runner    *pipeline.Runner
	logger    *zap.Logger
}

// New builds the transport named by cfg.API.Backend and everything on top of it
func New(cfg *config.Config, logger *zap.Logger) (*Annotator, error) {
	transport, err := NewTransport(cfg.API)
	if err != nil {
		return nil, err
	}
	return NewWithTransport(cfg, transport, logger)
}

// NewTransport creates the transport for the configured backend
func NewTransport(api config.APIConfig) (client.Transport, error) {
	switch api.Backend {
	case config.BackendDashScope, "":
		return dashscope.New(dashscope.Config{
			APIKey:    api.APIKey,
			Endpoint:  api.Endpoint,
			Model:     api.Model,
			MaxTokens: api.MaxTokens,
			Timeout:   api.Timeout.Std(),
		})
	case config.BackendOllama:
		return ollama.New(ollama.Config{
			URL:       localEndpoint(api.Endpoint),
			Model:     api.Model,
			MaxTokens: api.MaxTokens,
			Timeout:   api.Timeout.Std(),
		})
	case config.BackendLlamaCpp:
		return llamacpp.New(llamacpp.Config{
			URL:       localEndpoint(api.Endpoint),
			APIKey:    api.APIKey,
			Model:     api.Model,
			MaxTokens: api.MaxTokens,
			Timeout:   api.Timeout.Std(),
		})
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, api.Backend)
}

// localEndpoint drops the hosted default so local backends fall back to their own
func localEndpoint(endpoint string) string {
	if endpoint == dashscope.DefaultEndpoint {
		return ""
	}
	return endpoint
}

// NewWithTransport assembles the pipeline around an existing transport
func NewWithTransport(cfg *config.Config, transport client.Transport, logger *zap.Logger) (*Annotator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	transformer, err := coords.NewWithFrame(cfg.Image.ModelWidth, cfg.Image.ModelHeight)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	processor := processing.NewProcessorWithOptions(processing.Options{
		ModelWidth:  cfg.Image.ModelWidth,
		ModelHeight: cfg.Image.ModelHeight,
		JPEGQuality: cfg.Image.JPEGQuality,
	})

	c := client.New(transport, processor, client.Policy{
		MaxRetries: cfg.API.MaxRetries,
		BaseDelay:  cfg.API.BaseDelay.Std(),
	}, logger.Named("client"))

	extractor := extract.New(processor, transformer, logger.Named("extract"))
	extractor.RescaleVQA = cfg.Pipeline.RescaleVQA

	runner, err := pipeline.New(pipeline.Options{
		Client:      c,
		Extractor:   extractor,
		Probe:       processor,
		Transformer: transformer,
		Store:       store.New(logger),
		Overlay:     processor,
		DebugDir:    cfg.Pipeline.DebugDir,
		Parallel:    cfg.Pipeline.ParallelDatasets,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &Annotator{
		cfg:       cfg,
		processor: processor,
		client:    c,
		runner:    runner,
		logger:    logger,
	}, nil
}

// Runner exposes the underlying pipeline
func (a *Annotator) Runner() *pipeline.Runner {
	return a.runner
}

// Datasets converts the configured datasets
func (a *Annotator) Datasets() []pipeline.Dataset {
	out := make([]pipeline.Dataset, 0, len(a.cfg.Datasets))
	for _, d := range a.cfg.Datasets {
		out = append(out, pipeline.Dataset{
			Kind:     d.Kind,
			BaseDir:  d.BaseDir,
			Manifest: d.Manifest,
			ImageDir: d.ImageDir,
			Output:   d.Output,
		})
	}
	return out
}

// Run processes every configured dataset
func (a *Annotator) Run(ctx context.Context) []pipeline.Result {
	return a.runner.ProcessAll(ctx, a.Datasets())
}

// RunDatasets processes the given datasets instead of the configured ones
func (a *Annotator) RunDatasets(ctx context.Context, datasets []pipeline.Dataset) []pipeline.Result {
	return a.runner.ProcessAll(ctx, datasets)
}

// Query answers a single ad-hoc question and also returns the raw reply
func (a *Annotator) Query(ctx context.Context, kind types.Kind, imagePath, question string) (string, string, error) {
	return a.runner.Ask(ctx, kind, imagePath, types.Record{
		Image:      imagePath,
		Question:   question,
		QuestionID: "adhoc",
		Type:       kind.Tag(),
	})
}

// TestVision asks the backend for a plain description of the image, which
// shows whether it receives images at all
func (a *Annotator) TestVision(ctx context.Context, imagePath string) (string, error) {
	resp := a.client.Query(ctx, []string{imagePath}, prompts.SimpleTestPrompt)
	if err := resp.Err(); err != nil {
		return "", err
	}
	if text, ok := extract.NestedText(resp.Body); ok {
		return text, nil
	}
	return resp.Body, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
