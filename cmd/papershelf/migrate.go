package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/papershelf/internal/dataset"
)

var migrateAll bool

type migrateResult struct {
	Dir   string                `json:"dir" yaml:"dir"`
	Stats *dataset.MigrateStats `json:"stats,omitempty" yaml:"stats,omitempty"`
	Error string                `json:"error,omitempty" yaml:"error,omitempty"`
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [DOCUMENT_DIR...]",
	Short: "Convert inline-caption documents to the sidecar schema",
	Long: `Rewrite documents written with the inline-caption schema in place: trailing
captions are cut from every page's text and stored in "<page>-media.json"
sidecars. Documents already using sidecars are skipped.

Examples:
  papershelf migrate ~/.papershelf/dataset/attention
  papershelf migrate --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs := args
		if migrateAll {
			a, err := loadApp()
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(a.home.DatasetPath())
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.IsDir() {
					dirs = append(dirs, filepath.Join(a.home.DatasetPath(), e.Name()))
				}
			}
		}
		if len(dirs) == 0 {
			return usageError(cmd, "no document directories given (pass directories or --all)")
		}

		results := make([]migrateResult, 0, len(dirs))
		failed := 0
		for _, dir := range dirs {
			res := migrateResult{Dir: dir}
			stats, err := dataset.Migrate(dir)
			if err != nil {
				res.Error = err.Error()
				failed++
			} else {
				res.Stats = &stats
			}
			results = append(results, res)
		}

		if err := printer.Print(results); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed to migrate", failed, len(dirs))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateAll, "all", false, "migrate every document in the dataset")
}
