package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/papershelf/internal/dataset"
	"github.com/jackzampolin/papershelf/internal/providers"
)

// Config holds papershelf configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Home            string         `mapstructure:"home" yaml:"home"`                         // default: ~/.papershelf
	ChunkSize       int            `mapstructure:"chunk_size" yaml:"chunk_size"`             // pages per chunk, 0 disables chunking
	ChunkWorkers    int            `mapstructure:"chunk_workers" yaml:"chunk_workers"`       // chunks of one document in parallel
	DocumentWorkers int            `mapstructure:"document_workers" yaml:"document_workers"` // documents in parallel
	RenderDPI       int            `mapstructure:"render_dpi" yaml:"render_dpi"`
	RenderWorkers   int            `mapstructure:"render_workers" yaml:"render_workers"`
	Schema          string         `mapstructure:"schema" yaml:"schema"` // sidecar-metadata | inline-caption
	StrictResume    bool           `mapstructure:"strict_resume" yaml:"strict_resume"`
	LogLevel        string         `mapstructure:"log_level" yaml:"log_level"`
	OCR             OCRConfig      `mapstructure:"ocr" yaml:"ocr"`
	Figures         FiguresConfig  `mapstructure:"figures" yaml:"figures"`
	Retrieve        RetrieveConfig `mapstructure:"retrieve" yaml:"retrieve"`
}

// OCRConfig selects the OCR provider and configures every known provider.
type OCRConfig struct {
	Provider  string                    `mapstructure:"provider" yaml:"provider"`
	Providers map[string]OCRProviderCfg `mapstructure:"providers" yaml:"providers"`
}

// OCRProviderCfg configures an OCR provider. The map key is the provider name
// ("mistral-ocr", "openai", "tesseract", "mock").
type OCRProviderCfg struct {
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model          string  `mapstructure:"model" yaml:"model"`
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Language       string  `mapstructure:"language" yaml:"language,omitempty"`
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
	Retries        int     `mapstructure:"retries" yaml:"retries"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// FiguresConfig selects how pdffigures2 runs.
type FiguresConfig struct {
	Runner string          `mapstructure:"runner" yaml:"runner"` // cli | docker | none
	CLI    CLIRunnerCfg    `mapstructure:"cli" yaml:"cli"`
	Docker DockerRunnerCfg `mapstructure:"docker" yaml:"docker"`
}

// CLIRunnerCfg configures the local pdffigures2 command.
type CLIRunnerCfg struct {
	Command []string `mapstructure:"command" yaml:"command"` // e.g. [sbt] or [java, -cp, pdffigures2.jar]
	Dir     string   `mapstructure:"dir" yaml:"dir"`         // working directory, e.g. the pdffigures2 checkout
}

// DockerRunnerCfg configures the containerized pdffigures2.
type DockerRunnerCfg struct {
	Image          string `mapstructure:"image" yaml:"image"`
	Pull           bool   `mapstructure:"pull" yaml:"pull"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// RetrieveConfig configures source downloads.
type RetrieveConfig struct {
	Attempts       uint `mapstructure:"attempts" yaml:"attempts"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// Figure runner names.
const (
	RunnerCLI    = "cli"
	RunnerDocker = "docker"
	RunnerNone   = "none"
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:       50,
		ChunkWorkers:    1,
		DocumentWorkers: 1,
		RenderDPI:       96,
		RenderWorkers:   4,
		Schema:          string(dataset.SchemaSidecar),
		LogLevel:        "info",
		OCR: OCRConfig{
			Provider: providers.MistralOCRName,
			Providers: map[string]OCRProviderCfg{
				providers.MistralOCRName: {
					APIKey:         "${MISTRAL_API_KEY}",
					RateLimit:      6.0,
					Retries:        5,
					TimeoutSeconds: 120,
				},
				providers.OpenAIOCRName: {
					APIKey:         "${OPENAI_API_KEY}",
					Model:          "gpt-5-mini",
					RateLimit:      2.0,
					Retries:        5,
					TimeoutSeconds: 120,
				},
			},
		},
		Figures: FiguresConfig{
			Runner: RunnerDocker,
			Docker: DockerRunnerCfg{
				Image:          "papershelf/pdffigures2:latest",
				Pull:           true,
				TimeoutSeconds: 600,
			},
		},
		Retrieve: RetrieveConfig{
			Attempts:       3,
			TimeoutSeconds: 60,
		},
	}
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be >= 0, got %d", c.ChunkSize)
	}
	if c.RenderDPI <= 0 {
		return fmt.Errorf("render_dpi must be > 0, got %d", c.RenderDPI)
	}
	if _, err := dataset.ParseSchema(c.Schema); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Figures.Runner {
	case RunnerCLI, RunnerDocker, RunnerNone:
	default:
		return fmt.Errorf("figures.runner must be %s, %s or %s, got %q", RunnerCLI, RunnerDocker, RunnerNone, c.Figures.Runner)
	}
	if c.OCR.Provider == "" {
		return fmt.Errorf("ocr.provider is required")
	}
	return nil
}

// ParseLogLevel converts debug|info|warn|error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}

// ProviderConfigs resolves ${ENV_VAR} references and converts every OCR
// provider block for providers.Registry.
func (c *Config) ProviderConfigs() map[string]providers.ProviderConfig {
	out := make(map[string]providers.ProviderConfig, len(c.OCR.Providers))
	for name, p := range c.OCR.Providers {
		out[name] = providers.ProviderConfig{
			APIKey:    ResolveEnvVars(p.APIKey),
			Model:     p.Model,
			BaseURL:   p.BaseURL,
			Language:  p.Language,
			RateLimit: p.RateLimit,
			Retries:   p.Retries,
			Timeout:   time.Duration(p.TimeoutSeconds) * time.Second,
		}
	}
	return out
}
