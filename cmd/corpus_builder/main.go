package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	corpusNames []string
	retokenize  bool
	metricsFile string
	showDocs    int

	rootCmd = &cobra.Command{
		Use:   "corpus_builder",
		Short: "Build, inspect and split lazy corpus stores",
		Long: `corpus_builder builds the memory-mapped stores of the corpora
declared in a YAML config, shows what a store holds, and computes the
train/validation/test split of the configured corpora.`,
		SilenceUsage: true,
	}

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build the stores of the configured corpora",
		RunE:  runBuild,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Show document counts, lengths and samples of a corpus",
		RunE:  runInspect,
	}

	splitCmd = &cobra.Command{
		Use:   "split",
		Short: "Load every corpus and compute or reuse the configured split",
		RunE:  runSplit,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"corpus.yaml", "YAML corpus configuration")
	rootCmd.PersistentFlags().StringSliceVar(&corpusNames, "corpus", nil,
		"restrict to these corpora (default all)")

	buildCmd.Flags().BoolVar(&retokenize, "retokenize", false,
		"force rebuilding even if the store is newer than its sources")
	buildCmd.Flags().StringVar(&metricsFile, "metrics", "",
		"write build metrics to this file in Prometheus text format")
	inspectCmd.Flags().IntVar(&showDocs, "show", 3,
		"number of decoded documents to print")

	rootCmd.AddCommand(buildCmd, inspectCmd, splitCmd)
}

func main() {
	log.SetOutput(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
