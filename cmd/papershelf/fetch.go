package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/papershelf/internal/ingest"
	"github.com/jackzampolin/papershelf/internal/retrieve"
)

type fetchResult struct {
	Source string `json:"source" yaml:"source"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Pages  int    `json:"pages,omitempty" yaml:"pages,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

var fetchCmd = &cobra.Command{
	Use:   "fetch SOURCES_FILE",
	Short: "Download sources into the cache without processing them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		sources, err := retrieve.ReadSourceList(args[0])
		if err != nil {
			return err
		}
		if err := a.home.EnsureExists(); err != nil {
			return err
		}

		fetcher := retrieve.NewFetcher(retrieve.Config{
			CacheDir: a.home.CachePath(),
			Client:   &http.Client{Timeout: time.Duration(a.cfg.Retrieve.TimeoutSeconds) * time.Second},
			Attempts: a.cfg.Retrieve.Attempts,
			Logger:   a.logger,
		})

		results := make([]fetchResult, 0, len(sources))
		failed := 0
		for _, src := range sources {
			res := fetchResult{Source: src}
			path, err := fetcher.Fetch(cmd.Context(), src)
			if err == nil {
				res.Path = path
				res.Pages, err = ingest.PageCount(path)
			}
			if err != nil {
				res.Error = err.Error()
				failed++
			}
			results = append(results, res)
			if cmd.Context().Err() != nil {
				break
			}
		}

		if err := printer.Print(results); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sources failed", failed, len(sources))
		}
		return cmd.Context().Err()
	},
}
