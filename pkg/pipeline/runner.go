// Package pipeline runs task datasets through the inference client and
// writes the answers back.
//
// Records inside one dataset are processed strictly in order and the answer
// map is owned by the goroutine running that dataset. Separate datasets may
// run concurrently; they share no mutable state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/gui-annotator/internal/store"
	"github.com/menta2k/gui-annotator/internal/utils"
	"github.com/menta2k/gui-annotator/pkg/client"
	"github.com/menta2k/gui-annotator/pkg/coords"
	"github.com/menta2k/gui-annotator/pkg/extract"
	"github.com/menta2k/gui-annotator/pkg/prompts"
	"github.com/menta2k/gui-annotator/pkg/types"
)

// ErrInferenceFailed marks a record whose request never produced a reply
var ErrInferenceFailed = errors.New("inference failed")

// DefaultImageDir is where a dataset's screenshots live, relative to its base directory
const DefaultImageDir = "image"

// Querier sends one multimodal request; *client.Client implements it
type Querier interface {
	Query(ctx context.Context, images []string, prompt string) client.Response
}

// Overlayer renders debug images; *processing.Processor implements it
type Overlayer interface {
	LoadImage(path string) (image.Image, error)
	CreateDebugOverlay(img image.Image, tuples []coords.Tuple) image.Image
	SaveImage(img image.Image, path, format string, quality int) error
}

// Dataset describes one task file and where its answers go
type Dataset struct {
	Kind     types.Kind
	BaseDir  string
	Manifest string
	ImageDir string
	Output   string
}

// ManifestPath is the dataset file to read
func (d Dataset) ManifestPath() string {
	if filepath.IsAbs(d.Manifest) {
		return d.Manifest
	}
	return filepath.Join(d.BaseDir, d.Manifest)
}

// ImagePath resolves a record's image reference
func (d Dataset) ImagePath(r types.Record) string {
	dir := d.ImageDir
	if dir == "" {
		dir = DefaultImageDir
	}
	return utils.ResolveImagePath(d.BaseDir, dir, r.Image)
}

// Result is the outcome of one dataset in a multi-dataset run
type Result struct {
	Dataset Dataset
	Stats   Stats
	Err     error
}

// Options wires the runner's collaborators
type Options struct {
	Client      Querier
	Extractor   *extract.Extractor
	Probe       extract.DimensionProbe
	Transformer *coords.Transformer
	Store       *store.Store

	// Overlay and DebugDir enable debug images for grounding answers
	Overlay  Overlayer
	DebugDir string

	// Parallel bounds how many datasets ProcessAll runs at once
	Parallel int

	Logger *zap.Logger
}

// Runner processes records and datasets
type Runner struct {
	client      Querier
	extractor   *extract.Extractor
	probe       extract.DimensionProbe
	transformer *coords.Transformer
	store       *store.Store
	overlay     Overlayer
	debugDir    string
	parallel    int
	logger      *zap.Logger
}

// New creates a runner. Client, Extractor and Probe are required.
func New(opts Options) (*Runner, error) {
	if opts.Client == nil || opts.Extractor == nil || opts.Probe == nil {
		return nil, errors.New("pipeline: client, extractor and probe are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Transformer == nil {
		opts.Transformer = coords.New()
	}
	if opts.Store == nil {
		opts.Store = store.New(opts.Logger)
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Runner{
		client:      opts.Client,
		extractor:   opts.Extractor,
		probe:       opts.Probe,
		transformer: opts.Transformer,
		store:       opts.Store,
		overlay:     opts.Overlay,
		debugDir:    opts.DebugDir,
		parallel:    opts.Parallel,
		logger:      opts.Logger.Named("pipeline"),
	}, nil
}

// ProcessRecord answers one record. A failed request yields an empty answer
// and an error wrapping ErrInferenceFailed; the caller moves on.
func (r *Runner) ProcessRecord(ctx context.Context, kind types.Kind, imagePath string, rec types.Record) (string, error) {
	answer, _, err := r.Ask(ctx, kind, imagePath, rec)
	return answer, err
}

// Ask is ProcessRecord that also returns the unprocessed reply body
func (r *Runner) Ask(ctx context.Context, kind types.Kind, imagePath string, rec types.Record) (string, string, error) {
	question := rec.Question
	if kind == types.Referring {
		question = r.questionToModel(question, imagePath)
	}

	frameW, frameH := r.transformer.Frame()
	prompt, err := prompts.Build(kind, prompts.Input{
		Question:    question,
		FrameWidth:  frameW,
		FrameHeight: frameH,
	})
	if err != nil {
		return "", "", err
	}

	resp := r.client.Query(ctx, []string{imagePath}, prompt)
	if !resp.Success {
		return "", "", fmt.Errorf("%w (status %d): %s", ErrInferenceFailed, resp.StatusCode, resp.Message)
	}

	var answer string
	switch kind {
	case types.Grounding:
		answer = r.extractor.ExtractGrounding(resp.Body, imagePath)
	case types.Referring:
		answer = r.extractor.ExtractReferring(resp.Body)
	default:
		answer = r.extractor.ExtractVQA(resp.Body, imagePath)
	}
	return answer, resp.Body, nil
}

// questionToModel rewrites native-space tuples in a referring question into
// the model frame. Unknown dimensions leave the question as it is.
func (r *Runner) questionToModel(question, imagePath string) string {
	w, h, err := r.probe.Dimensions(imagePath)
	if err != nil {
		r.logger.Debug("dimensions unavailable, question sent unscaled",
			zap.String("image", imagePath), zap.Error(err))
		return question
	}
	return r.transformer.ReplaceAll(question, w, h, coords.ToModel)
}

// ProcessDataset loads a dataset, answers every record in order and saves
// the result.
func (r *Runner) ProcessDataset(ctx context.Context, ds Dataset) (Stats, error) {
	return r.processDataset(ctx, r.logger.With(zap.String("run_id", uuid.NewString())), ds)
}

func (r *Runner) processDataset(ctx context.Context, logger *zap.Logger, ds Dataset) (Stats, error) {
	logger = logger.With(zap.String("dataset", ds.Kind.Tag()))
	var stats Stats

	manifest := ds.ManifestPath()
	records, err := r.store.Load(manifest)
	if err != nil {
		return stats, err
	}
	logger.Info("processing dataset", zap.String("manifest", manifest), zap.Int("records", len(records)))

	answers := make(map[string]string, len(records))
	var runErr error
	for i := range records {
		if err := ctx.Err(); err != nil {
			runErr = err
			logger.Warn("run cancelled, saving partial answers", zap.Int("processed", i))
			break
		}

		rec := records[i]
		imagePath := ds.ImagePath(rec)

		start := time.Now()
		answer, err := r.ProcessRecord(ctx, ds.Kind, imagePath, rec)
		elapsed := time.Since(start)
		stats.Add(answer, err, elapsed)

		fields := []zap.Field{
			zap.String("question_id", rec.Key()),
			zap.Int("index", i+1),
			zap.Int("of", len(records)),
			zap.Duration("elapsed", elapsed),
		}
		switch {
		case err != nil:
			logger.Warn("record failed", append(fields, zap.Error(err))...)
		case answer == "":
			logger.Info("record produced no answer", fields...)
		default:
			logger.Debug("record answered", append(fields, zap.String("answer", answer))...)
		}

		answers[rec.Key()] = answer
		records[i].Answer = answer

		if ds.Kind == types.Grounding && answer != "" {
			r.writeOverlay(logger, imagePath, rec.Key(), answer)
		}
	}

	if err := r.save(logger, ds, manifest, answers, records); err != nil {
		return stats, err
	}

	logger.Info("dataset finished", statsField(stats))
	return stats, runErr
}

// save patches the source file, or writes fresh records when the source is gone
func (r *Runner) save(logger *zap.Logger, ds Dataset, manifest string, answers map[string]string, records []types.Record) error {
	err := r.store.Save(ds.Output, manifest, answers)
	if err == nil {
		return nil
	}
	if !store.IsNotExist(err) {
		return err
	}
	logger.Warn("source vanished, writing fresh records", zap.String("manifest", manifest))
	return r.store.SaveRecords(ds.Output, records)
}

func (r *Runner) writeOverlay(logger *zap.Logger, imagePath, key, answer string) {
	if r.overlay == nil || r.debugDir == "" {
		return
	}
	tuple, err := coords.Parse(answer)
	if err != nil {
		return
	}
	img, err := r.overlay.LoadImage(imagePath)
	if err != nil {
		logger.Debug("overlay skipped", zap.String("image", imagePath), zap.Error(err))
		return
	}
	out := utils.GenerateOutputFilename(imagePath, r.debugDir, utils.SanitizeFilename(key)+"_", "_debug", "png")
	if err := utils.EnsureDir(r.debugDir); err != nil {
		logger.Warn("failed to create debug dir", zap.String("dir", r.debugDir), zap.Error(err))
		return
	}
	if err := r.overlay.SaveImage(r.overlay.CreateDebugOverlay(img, []coords.Tuple{tuple}), out, "png", 0); err != nil {
		logger.Warn("failed to write overlay", zap.String("path", out), zap.Error(err))
	}
}

// ProcessAll runs every dataset. A failing dataset is logged and reported in
// its Result; the others still run.
func (r *Runner) ProcessAll(ctx context.Context, datasets []Dataset) []Result {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.Int("datasets", len(datasets)), zap.Int("parallel", r.parallel))

	results := make([]Result, len(datasets))
	var g errgroup.Group
	g.SetLimit(r.parallel)
	for i, ds := range datasets {
		g.Go(func() error {
			stats, err := r.processDataset(ctx, logger, ds)
			if err != nil {
				logger.Error("dataset failed", zap.String("dataset", ds.Kind.Tag()), zap.Error(err))
			}
			results[i] = Result{Dataset: ds, Stats: stats, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	logger.Info("run finished", zap.Int("datasets", len(datasets)), zap.Int("failed", failed))
	return results
}
