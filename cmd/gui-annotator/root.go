package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/gui-annotator/internal/config"
	"github.com/menta2k/gui-annotator/internal/utils"
)

var version = "dev"

// globalOptions are shared by every subcommand
type globalOptions struct {
	configPath string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "gui-annotator",
		Short: "Answer GUI-understanding datasets with a vision-language model",
		Long: `gui-annotator sends app screenshots and their grounding, referring and
VQA questions to a multimodal model and writes the answers back into the
newline-delimited JSON datasets they came from.

Coordinates are converted between each screenshot's own resolution and the
960x960 frame the model sees.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (JSON or YAML), default "+config.GetConfigPath())
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

func (o *globalOptions) logger() (*zap.Logger, error) {
	if o.debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return cfg.Build()
}

// loadConfig reads the explicit config file, or the default one when it
// exists, or falls back to built-in defaults. The result is validated.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	path := o.configPath
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
		cfg.ApplyEnv()
	} else {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return cfg, nil
}

func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w\nrun 'gui-annotator config init' to create a config file", err)
	}
	return nil
}

func syncLogger(logger *zap.Logger) {
	// Sync on a terminal stderr reports ENOTTY
	_ = logger.Sync()
}
