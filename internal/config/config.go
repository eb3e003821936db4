package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/gui-annotator/internal/utils"
	"github.com/menta2k/gui-annotator/pkg/types"
)

// APIKeyEnv overrides api.api_key when set
const APIKeyEnv = "DASHSCOPE_API_KEY"

// Supported backends
const (
	BackendDashScope = "dashscope"
	BackendOllama    = "ollama"
	BackendLlamaCpp  = "llamacpp"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	API      APIConfig       `json:"api" yaml:"api"`
	Image    ImageConfig     `json:"image" yaml:"image"`
	Pipeline PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Datasets []DatasetConfig `json:"datasets" yaml:"datasets"`
}

// APIConfig holds inference endpoint settings
type APIConfig struct {
	Backend    string   `json:"backend" yaml:"backend"`
	APIKey     string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Endpoint   string   `json:"endpoint" yaml:"endpoint"`
	Model      string   `json:"model" yaml:"model"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`
	BaseDelay  Duration `json:"base_delay" yaml:"base_delay"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
	MaxTokens  int      `json:"max_tokens" yaml:"max_tokens"`
}

// ImageConfig holds model-input settings
type ImageConfig struct {
	ModelWidth  int `json:"model_width" yaml:"model_width"`
	ModelHeight int `json:"model_height" yaml:"model_height"`
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// PipelineConfig holds run settings
type PipelineConfig struct {
	RescaleVQA       bool   `json:"rescale_vqa" yaml:"rescale_vqa"`
	ParallelDatasets int    `json:"parallel_datasets" yaml:"parallel_datasets"`
	DebugDir         string `json:"debug_dir,omitempty" yaml:"debug_dir,omitempty"`
}

// DatasetConfig names one task file
type DatasetConfig struct {
	Kind     types.Kind `json:"kind" yaml:"kind"`
	BaseDir  string     `json:"base_dir" yaml:"base_dir"`
	Manifest string     `json:"manifest" yaml:"manifest"`
	ImageDir string     `json:"image_dir,omitempty" yaml:"image_dir,omitempty"`
	Output   string     `json:"output" yaml:"output"`
}

// Duration is a time.Duration written as "1s", "500ms" in config files
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		API: APIConfig{
			Backend:    BackendDashScope,
			Endpoint:   "https://dashscope.aliyuncs.com/api/v1/services/aigc/multimodal-generation/generation",
			Model:      "qwen-vl-max",
			MaxRetries: 3,
			BaseDelay:  Duration(time.Second),
			Timeout:    Duration(30 * time.Second),
			MaxTokens:  1024,
		},
		Image: ImageConfig{
			ModelWidth:  960,
			ModelHeight: 960,
			JPEGQuality: 90,
		},
		Pipeline: PipelineConfig{
			RescaleVQA:       true,
			ParallelDatasets: 1,
		},
		Datasets: []DatasetConfig{
			{Kind: types.Grounding, BaseDir: "data", Manifest: "GUI_Grounding.json", ImageDir: "image", Output: "output/GUI_Grounding.json"},
			{Kind: types.Referring, BaseDir: "data", Manifest: "GUI_Referring.json", ImageDir: "image", Output: "output/GUI_Referring.json"},
			{Kind: types.VQA, BaseDir: "data", Manifest: "Advanced_VQA.json", ImageDir: "image", Output: "output/Advanced_VQA.json"},
		},
	}
}

func isYAML(filename string) bool {
	ext := utils.GetFileExtension(filename)
	return ext == "yaml" || ext == "yml"
}

// LoadFromFile loads configuration from a JSON or YAML file. Fields missing
// from the file keep their defaults and the API key may come from the
// environment.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	defaults := config.Datasets
	config.Datasets = nil
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Datasets == nil {
		config.Datasets = defaults
	}

	config.ApplyEnv()
	return config, nil
}

// LoadDotEnv loads variables from a dotenv file when it exists. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	if !utils.FileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv copies overrides from the environment
func (c *Config) ApplyEnv() {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		c.API.APIKey = key
	}
}

// SaveToFile saves configuration as JSON or YAML depending on the extension
func (c *Config) SaveToFile(filename string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := utils.WriteFileAtomic(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.API.Backend {
	case BackendDashScope:
		if c.API.APIKey == "" {
			return fmt.Errorf("%w: api.api_key is required for %s (or set %s)", ErrInvalidConfig, BackendDashScope, APIKeyEnv)
		}
	case BackendOllama, BackendLlamaCpp:
		if c.API.Endpoint == "" {
			return fmt.Errorf("%w: api.endpoint is required for %s", ErrInvalidConfig, c.API.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown api.backend %q", ErrInvalidConfig, c.API.Backend)
	}

	if c.API.Model == "" {
		return fmt.Errorf("%w: api.model cannot be empty", ErrInvalidConfig)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("%w: api.max_retries must not be negative", ErrInvalidConfig)
	}
	if c.API.BaseDelay < 0 || c.API.Timeout < 0 {
		return fmt.Errorf("%w: api.base_delay and api.timeout must not be negative", ErrInvalidConfig)
	}
	if c.API.MaxTokens < 1 {
		return fmt.Errorf("%w: api.max_tokens must be positive", ErrInvalidConfig)
	}

	if c.Image.ModelWidth < 1 || c.Image.ModelHeight < 1 {
		return fmt.Errorf("%w: image.model_width and image.model_height must be positive", ErrInvalidConfig)
	}
	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		return fmt.Errorf("%w: image.jpeg_quality must be between 1 and 100", ErrInvalidConfig)
	}

	if c.Pipeline.ParallelDatasets < 1 {
		return fmt.Errorf("%w: pipeline.parallel_datasets must be at least 1", ErrInvalidConfig)
	}

	for i, ds := range c.Datasets {
		if ds.Manifest == "" {
			return fmt.Errorf("%w: datasets[%d].manifest cannot be empty", ErrInvalidConfig, i)
		}
		if ds.Output == "" {
			return fmt.Errorf("%w: datasets[%d].output cannot be empty", ErrInvalidConfig, i)
		}
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "gui-annotator", "config.yaml")
}
