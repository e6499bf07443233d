package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/wbrown/lazy_corpus"
	"github.com/wbrown/lazy_corpus/config"
	"github.com/wbrown/lazy_corpus/coordinator"
	"github.com/wbrown/lazy_corpus/corpora"
	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/lazy"
	"github.com/wbrown/lazy_corpus/tokenizer"
)

// selectCorpora narrows cfg.Corpora to the names given with --corpus.
func selectCorpora(cfg *config.Config, names []string) error {
	if len(names) == 0 {
		return nil
	}
	selected := make([]config.CorpusConfig, 0, len(names))
	for _, name := range names {
		idx := slices.IndexFunc(cfg.Corpora, func(cc config.CorpusConfig) bool {
			return cc.Name == name
		})
		if idx < 0 {
			return fmt.Errorf("%w: %q is not in %s", corpora.ErrUnknownCorpus,
				name, configPath)
		}
		selected = append(selected, cfg.Corpora[idx])
	}
	cfg.Corpora = selected
	return nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	return cfg, selectCorpora(&cfg, corpusNames)
}

// storeTime returns when the oldest stream of a store was finalized.
func storeTime(path string, shape corpora.Shape) (time.Time, bool) {
	var oldest time.Time
	for _, tag := range shape.Tags() {
		stat, err := os.Stat(lazy.LenPath(path, tag))
		if err != nil {
			return time.Time{}, false
		}
		if oldest.IsZero() || stat.ModTime().Before(oldest) {
			oldest = stat.ModTime()
		}
	}
	return oldest, true
}

// stale
// Reports whether a finalized store is older than the newest text of its
// textdir source.
func stale(cc config.CorpusConfig, corpus corpora.Corpus) (bool, error) {
	built, ok := storeTime(corpus.Path, corpus.Shape)
	if !ok || cc.Format != "textdir" {
		return false, nil
	}
	newest, err := corpora.NewestText(cc.Source[0])
	if err != nil {
		return false, err
	}
	if newest.ModTime.After(built) {
		log.Printf("Newest source `%s` is newer than `%s`, rebuilding",
			newest.Path, lazy.StoreDir(corpus.Path))
		return true, nil
	}
	return false, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	reg := prometheus.NewRegistry()
	if err = errors.Join(lazy.RegisterMetrics(reg),
		coordinator.RegisterMetrics(reg)); err != nil {
		return err
	}
	tok, err := tokenizer.New(cfg.Tokenizer)
	if err != nil {
		return err
	}
	registry, err := lazy_corpus.NewRegistry(cfg.Corpora, cfg.Seed,
		log.Default())
	if err != nil {
		return err
	}
	coord := lazy_corpus.NewCoordinator(cfg.Coordinator, log.Default())
	opts := corpora.BuildOptions{PreTokenize: cfg.PreTokenize}

	begin := time.Now()
	for _, cc := range cfg.Corpora {
		corpus, err := registry.Lookup(cc.Name)
		if err != nil {
			return err
		}
		rebuild := retokenize
		if !rebuild {
			if rebuild, err = stale(cc, corpus); err != nil {
				return err
			}
		}
		build := func(ctx context.Context) error {
			return corpora.Build(ctx, corpus, tok, opts)
		}
		if rebuild {
			err = coord.Rebuild(ctx, corpus.Path, corpus.Shape.Tags(), build)
		} else {
			err = coord.Ensure(ctx, corpus.Path, corpus.Shape.Tags(), build)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", cc.Name, err)
		}
	}
	log.Printf("%d corpora ready in %0.2fs", len(cfg.Corpora),
		time.Since(begin).Seconds())

	if metricsFile != "" {
		return prometheus.WriteToTextfile(metricsFile, reg)
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tok, err := tokenizer.New(cfg.Tokenizer)
	if err != nil {
		return err
	}
	registry, err := lazy_corpus.NewRegistry(cfg.Corpora, cfg.Seed,
		log.Default())
	if err != nil {
		return err
	}
	loader := &corpora.Loader{
		Registry:    registry,
		Coordinator: lazy_corpus.NewCoordinator(cfg.Coordinator, nil),
		Tokenizer:   tok,
		PreTokenize: cfg.PreTokenize,
		CacheSize:   -1,
	}
	out := cmd.OutOrStdout()
	for _, cc := range cfg.Corpora {
		view, err := loader.Load(cmd.Context(), cc.Name)
		if err != nil {
			return err
		}
		lens, err := datasets.DocLens(view)
		if err != nil {
			view.Close()
			return err
		}
		total, longest := 0, 0
		for _, l := range lens {
			total += l
			longest = max(longest, l)
		}
		fmt.Fprintf(out, "%s (%v): %s documents, %s tokens, longest %s\n",
			cc.Name, view.Shape(), humanize.Comma(int64(len(lens))),
			humanize.Comma(int64(total)), humanize.Comma(int64(longest)))
		for i := 0; i < min(showDocs, view.Len()); i++ {
			sample, err := view.Get(i)
			if err != nil {
				view.Close()
				return err
			}
			fmt.Fprintf(out, "  [%d] prompt=%d %q\n", i, sample.PromptLen,
				tok.Decode(sample.Tokens))
		}
		if err = view.Close(); err != nil {
			return err
		}
	}
	return nil
}

func runSplit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.DsType = ""
	result, err := lazy_corpus.MakeDataset(cmd.Context(), cfg,
		lazy_corpus.Deps{})
	if err != nil {
		return err
	}
	defer result.Close()
	out := cmd.OutOrStdout()
	for i, split := range result.Splits {
		size := 0
		if split != nil {
			size = split.Len()
		}
		fmt.Fprintf(out, "split %d: %s documents\n", i,
			humanize.Comma(int64(size)))
	}
	return nil
}
