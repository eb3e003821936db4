package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	guiannotator "github.com/menta2k/gui-annotator"
	"github.com/menta2k/gui-annotator/internal/utils"
	"github.com/menta2k/gui-annotator/pkg/types"
)

type queryOptions struct {
	kind     string
	image    string
	question string
	raw      bool
	vision   bool
}

func newQueryCommand(g *globalOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ask a single question about one screenshot",
		Long: `Send one screenshot and question to the configured backend and print the
extracted answer. Coordinates in the question and the answer use the
screenshot's own resolution.

Examples:
  gui-annotator query --kind grounding --image home.png --question "the search box"
  gui-annotator query --kind referring --image home.png --question "what is at [40,120,400,180]?"
  gui-annotator query --image home.png --test-vision`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "grounding", "task kind: grounding, referring or vqa")
	cmd.Flags().StringVarP(&opts.image, "image", "i", "", "screenshot path")
	cmd.Flags().StringVarP(&opts.question, "question", "q", "", "question text")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "also print the raw reply")
	cmd.Flags().BoolVar(&opts.vision, "test-vision", false, "only check that the backend can see the image")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

func runQuery(cmd *cobra.Command, g *globalOptions, opts *queryOptions) error {
	kind, err := types.ParseKind(opts.kind)
	if err != nil {
		return err
	}
	if !utils.IsImageFile(opts.image) || !utils.FileExists(opts.image) {
		return fmt.Errorf("not an image file: %s", opts.image)
	}
	if !opts.vision && opts.question == "" {
		return fmt.Errorf("--question is required")
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return err
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

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if opts.vision {
		text, err := annotator.TestVision(ctx, opts.image)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}

	answer, raw, err := annotator.Query(ctx, kind, opts.image, opts.question)
	if err != nil {
		return err
	}
	if answer == "" {
		fmt.Fprintln(out, "(no answer)")
	} else {
		fmt.Fprintln(out, answer)
	}
	if opts.raw {
		fmt.Fprintf(out, "\nraw reply:\n%s\n", raw)
	}
	return nil
}
