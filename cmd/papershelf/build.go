package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/papershelf/internal/chunk"
	"github.com/jackzampolin/papershelf/internal/config"
	"github.com/jackzampolin/papershelf/internal/dataset"
	"github.com/jackzampolin/papershelf/internal/figures"
	"github.com/jackzampolin/papershelf/internal/ingest"
	"github.com/jackzampolin/papershelf/internal/pipeline"
	"github.com/jackzampolin/papershelf/internal/providers"
	"github.com/jackzampolin/papershelf/internal/retrieve"
)

var (
	buildSources      string
	buildDataset      string
	buildSchema       string
	buildChunkSize    int
	buildWorkers      int
	buildStrictResume bool
	buildNoFigures    bool
)

var buildCmd = &cobra.Command{
	Use:   "build [source...]",
	Short: "Assemble documents into the dataset",
	Long: `Fetch, OCR and assemble every source and write it to the dataset.

Sources are PDF URLs or local paths, given as arguments or in a newline
delimited list file (--sources). Documents whose output directory already
holds page text are skipped, so an interrupted build can simply be rerun.

Examples:
  papershelf build --sources papers.txt
  papershelf build ./paper.pdf --schema inline-caption
  papershelf build --sources papers.txt --chunk-size 25 --no-figures`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}
		cfg := *a.cfg
		applyBuildFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		sources := append([]string(nil), args...)
		if buildSources != "" {
			listed, err := retrieve.ReadSourceList(buildSources)
			if err != nil {
				return err
			}
			sources = append(sources, listed...)
		}
		if len(sources) == 0 {
			return usageError(cmd, "no sources given (pass paths/URLs or --sources FILE)")
		}

		if err := a.home.EnsureExists(); err != nil {
			return err
		}
		datasetDir := a.home.DatasetPath()
		if buildDataset != "" {
			datasetDir = buildDataset
		}

		// OCR providers follow config reloads; other settings are fixed for the run.
		registry := providers.NewRegistry(a.logger)
		registry.Reload(cfg.ProviderConfigs())
		a.manager.OnChange(func(c *config.Config) {
			a.logger.Info("config changed, reloading OCR providers")
			registry.Reload(c.ProviderConfigs())
		})
		a.manager.OnError(func(err error) {
			a.logger.Warn("ignoring invalid config change", "error", err)
		})
		if a.manager.ConfigFile() != "" {
			a.manager.WatchConfig()
		}

		ocr, err := registry.Lookup(cfg.OCR.Provider)
		if err != nil {
			return fmt.Errorf("OCR provider %q: %w (configured: %v)", cfg.OCR.Provider, err, registry.Names())
		}

		var extractor chunk.MediaExtractor
		switch cfg.Figures.Runner {
		case config.RunnerCLI:
			command := cfg.Figures.CLI.Command
			if len(command) == 0 {
				command = figures.DefaultCommand
			}
			runner := figures.CLIRunner{Command: command, Dir: cfg.Figures.CLI.Dir}
			extractor = figures.NewExtractor(runner, a.home.WorkPath(), a.logger)
		case config.RunnerDocker:
			runner, err := figures.NewDockerRunner(figures.DockerConfig{
				Image:   cfg.Figures.Docker.Image,
				Pull:    cfg.Figures.Docker.Pull,
				Timeout: time.Duration(cfg.Figures.Docker.TimeoutSeconds) * time.Second,
				Logger:  a.logger,
			})
			if err != nil {
				return err
			}
			defer runner.Close()
			if err := runner.EnsureImage(ctx); err != nil {
				return err
			}
			extractor = figures.NewExtractor(runner, a.home.WorkPath(), a.logger)
		case config.RunnerNone:
			a.logger.Info("figure extraction disabled, building a text-only corpus")
		}

		engine := providers.NewEngine(ocr, a.logger)
		coordinator, err := chunk.New(chunk.Config{
			Slicer: ingest.Slicer{},
			Rasterizer: ingest.Rasterizer{
				DPI:     cfg.RenderDPI,
				Workers: cfg.RenderWorkers,
				TempDir: a.home.WorkPath(),
			},
			OCR:       engine,
			Extractor: extractor,
			ChunkSize: cfg.ChunkSize,
			Workers:   cfg.ChunkWorkers,
			TempDir:   a.home.WorkPath(),
			Logger:    a.logger,
		})
		if err != nil {
			return err
		}

		schema, err := dataset.ParseSchema(cfg.Schema)
		if err != nil {
			return err
		}

		p, err := pipeline.New(pipeline.Config{
			Fetcher: retrieve.NewFetcher(retrieve.Config{
				CacheDir: a.home.CachePath(),
				Client:   &http.Client{Timeout: time.Duration(cfg.Retrieve.TimeoutSeconds) * time.Second},
				Attempts: cfg.Retrieve.Attempts,
				Logger:   a.logger,
			}),
			Assembler: coordinator,
			Writer: dataset.NewWriter(dataset.WriterConfig{
				Schema:       schema,
				StrictResume: cfg.StrictResume,
				Logger:       a.logger,
			}),
			DatasetDir: datasetDir,
			Workers:    cfg.DocumentWorkers,
			Logger:     a.logger,
		})
		if err != nil {
			return err
		}

		report, runErr := p.Run(ctx, sources)
		limits := engine.Limiter().Status()
		a.logger.Info("OCR usage",
			"provider", engine.Name(),
			"requests", limits.TotalConsumed,
			"rate_limited_for", limits.TotalWaited,
			"last_429", limits.Last429Time)
		if err := printer.Print(report); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		if report.Failed > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d documents failed\n", report.Failed, len(report.Documents))
			return fmt.Errorf("%d documents failed", report.Failed)
		}
		return nil
	},
}

// applyBuildFlags lets explicitly set flags override configuration.
func applyBuildFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("schema") {
		cfg.Schema = buildSchema
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = buildChunkSize
	}
	if flags.Changed("workers") {
		cfg.DocumentWorkers = buildWorkers
	}
	if flags.Changed("strict-resume") {
		cfg.StrictResume = buildStrictResume
	}
	if buildNoFigures {
		cfg.Figures.Runner = config.RunnerNone
	}
}

func init() {
	buildCmd.Flags().StringVarP(&buildSources, "sources", "s", "", "newline-delimited file of PDF URLs/paths")
	buildCmd.Flags().StringVar(&buildDataset, "dataset", "", "dataset root (default: <home>/dataset)")
	buildCmd.Flags().StringVar(&buildSchema, "schema", "", "dataset schema: sidecar-metadata or inline-caption")
	buildCmd.Flags().IntVar(&buildChunkSize, "chunk-size", 0, "pages per chunk (0 disables chunking)")
	buildCmd.Flags().IntVarP(&buildWorkers, "workers", "w", 1, "documents processed in parallel")
	buildCmd.Flags().BoolVar(&buildStrictResume, "strict-resume", false, "rewrite documents whose output has no manifest")
	buildCmd.Flags().BoolVar(&buildNoFigures, "no-figures", false, "skip figure/table extraction (text-only corpus)")
}
