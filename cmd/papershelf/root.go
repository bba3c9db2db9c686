package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/papershelf/internal/config"
	"github.com/jackzampolin/papershelf/internal/home"
	"github.com/jackzampolin/papershelf/internal/output"
	"github.com/jackzampolin/papershelf/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

// printer is set by the root command before any subcommand runs.
var printer *output.Printer

var rootCmd = &cobra.Command{
	Use:   "papershelf",
	Short: "Build multimodal page corpora from PDFs",
	Long: `papershelf turns PDFs into a page-addressable corpus of text, figures
and tables.

For every source document it:
  - splits long PDFs into page chunks
  - renders and OCRs every page
  - extracts figures and tables with pdffigures2
  - matches figure/table references in the page text to extracted images
  - writes one directory per document with page text, images and captions`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.papershelf/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "papershelf home directory (default: ~/.papershelf)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error (default: from config)",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		printer = output.NewPrinter(os.Stdout, format)
		return nil
	}

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// app is the loaded environment shared by commands that need configuration.
type app struct {
	home    *home.Dir
	manager *config.Manager
	cfg     *config.Config
	logger  *slog.Logger
}

// loadApp resolves the home directory, loads .env files and configuration,
// and installs the logger.
func loadApp() (*app, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	// .env in the working directory wins over the one in home
	if _, err := config.LoadDotEnv(".env", h.EnvPath()); err != nil {
		return nil, err
	}

	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	if cfg.Home != "" && homeDir == "" {
		h, err = home.New(cfg.Home)
		if err != nil {
			return nil, err
		}
	}

	levelName := cfg.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := config.ParseLogLevel(levelName)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if f := mgr.ConfigFile(); f != "" {
		logger.Debug("loaded config", "file", f)
	}
	return &app{home: h, manager: mgr, cfg: cfg, logger: logger}, nil
}

func usageError(cmd *cobra.Command, format string, args ...any) error {
	return fmt.Errorf("%s: %s", cmd.CommandPath(), fmt.Sprintf(format, args...))
}
