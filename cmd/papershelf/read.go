package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/papershelf/internal/dataset"
)

var (
	readTrainFraction   float64
	readFull            bool
	readRequireManifest bool
)

type documentSummary struct {
	Name    string         `json:"name" yaml:"name"`
	Schema  dataset.Schema `json:"schema" yaml:"schema"`
	Pages   int            `json:"pages" yaml:"pages"`
	Figures int            `json:"figures" yaml:"figures"`
	Tables  int            `json:"tables" yaml:"tables"`
}

type splitSummary struct {
	Train []documentSummary `json:"train" yaml:"train"`
	Test  []documentSummary `json:"test" yaml:"test"`
}

func summarize(records []*dataset.Record) []documentSummary {
	out := make([]documentSummary, 0, len(records))
	for _, r := range records {
		out = append(out, documentSummary{
			Name:    r.Name,
			Schema:  r.Schema,
			Pages:   len(r.Text),
			Figures: len(r.Figure),
			Tables:  len(r.Table),
		})
	}
	return out
}

var readCmd = &cobra.Command{
	Use:   "read [DATASET_DIR]",
	Short: "Read the dataset back and print a train/test split",
	Long: `Read every document directory under the dataset root, recover captions
for either schema, and split documents into train and test sets by
lexicographic order.

By default a summary is printed; --full prints page text and media records
(image paths only).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var root string
		if len(args) == 1 {
			root = args[0]
		} else {
			a, err := loadApp()
			if err != nil {
				return err
			}
			root = a.home.DatasetPath()
		}

		split, err := dataset.ReadDataset(root, dataset.ReadOptions{
			TrainFraction:   readTrainFraction,
			PathsOnly:       true,
			RequireManifest: readRequireManifest,
		})
		if err != nil {
			return err
		}

		if readFull {
			return printer.Print(split)
		}
		return printer.Print(splitSummary{Train: summarize(split.Train), Test: summarize(split.Test)})
	},
}

func init() {
	readCmd.Flags().Float64Var(&readTrainFraction, "train-fraction", 0, "fraction of documents in the train split (0 puts all in train)")
	readCmd.Flags().BoolVar(&readFull, "full", false, "print full records instead of a summary")
	readCmd.Flags().BoolVar(&readRequireManifest, "require-manifest", false, "fail on documents without a completed manifest")
}
