package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	guiannotator "github.com/menta2k/gui-annotator"
	"github.com/menta2k/gui-annotator/pkg/pipeline"
	"github.com/menta2k/gui-annotator/pkg/types"
)

type runOptions struct {
	datasets []string
	baseDir  string
	outDir   string
	parallel int
	debugDir string
	noVQA    bool
}

func newRunCommand(g *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the configured datasets",
		Long: `Process every dataset named in the config file, or the ones given with
--dataset, and write the answered datasets to their output paths.

Examples:
  gui-annotator run
  gui-annotator run --dataset gui_grounding=GUI_Grounding.json --base-dir ./data
  gui-annotator run --parallel 3 --debug-dir ./debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotate(cmd, g, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.datasets, "dataset", nil, "kind=manifest pair to process instead of the configured datasets (repeatable)")
	cmd.Flags().StringVar(&opts.baseDir, "base-dir", ".", "base directory for --dataset manifests and their image/ folder")
	cmd.Flags().StringVar(&opts.outDir, "output-dir", "output", "directory for --dataset outputs")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 0, "datasets to process concurrently (overrides config)")
	cmd.Flags().StringVar(&opts.debugDir, "debug-dir", "", "write grounding overlays to this directory")
	cmd.Flags().BoolVar(&opts.noVQA, "no-vqa-rescale", false, "keep VQA coordinates in the model frame")

	return cmd
}

func runAnnotate(cmd *cobra.Command, g *globalOptions, opts *runOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if opts.parallel > 0 {
		cfg.Pipeline.ParallelDatasets = opts.parallel
	}
	if opts.debugDir != "" {
		cfg.Pipeline.DebugDir = opts.debugDir
	}
	if opts.noVQA {
		cfg.Pipeline.RescaleVQA = false
	}
	if err := validate(cfg); err != nil {
		return err
	}

	logger, err := g.logger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer syncLogger(logger)

	annotator, err := guiannotator.New(cfg, logger)
	if err != nil {
		return err
	}

	datasets := annotator.Datasets()
	if len(opts.datasets) > 0 {
		datasets, err = parseDatasetFlags(opts.datasets, opts.baseDir, opts.outDir)
		if err != nil {
			return err
		}
	}
	if len(datasets) == 0 {
		return fmt.Errorf("no datasets configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := annotator.RunDatasets(ctx, datasets)
	printResults(cmd, results)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			logger.Error("dataset failed", zap.String("manifest", res.Dataset.ManifestPath()), zap.Error(res.Err))
		}
	}
	if failed > 0 {
		return &DatasetFailureError{Failed: failed, Total: len(results)}
	}
	return nil
}

// parseDatasetFlags turns kind=manifest pairs into datasets rooted at baseDir
func parseDatasetFlags(values []string, baseDir, outDir string) ([]pipeline.Dataset, error) {
	datasets := make([]pipeline.Dataset, 0, len(values))
	for _, v := range values {
		kindText, manifest, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(manifest) == "" {
			return nil, fmt.Errorf("invalid --dataset %q: want kind=manifest", v)
		}
		kind, err := types.ParseKind(kindText)
		if err != nil {
			return nil, fmt.Errorf("invalid --dataset %q: %w", v, err)
		}
		manifest = strings.TrimSpace(manifest)
		datasets = append(datasets, pipeline.Dataset{
			Kind:     kind,
			BaseDir:  baseDir,
			Manifest: manifest,
			ImageDir: pipeline.DefaultImageDir,
			Output:   filepath.Join(outDir, filepath.Base(manifest)),
		})
	}
	return datasets, nil
}

func printResults(cmd *cobra.Command, results []pipeline.Result) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATASET\tMANIFEST\tRESULT")
	for _, res := range results {
		status := res.Stats.String()
		if res.Err != nil {
			status = "error: " + res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", res.Dataset.Kind.Tag(), res.Dataset.ManifestPath(), status)
	}
	_ = w.Flush()
}
