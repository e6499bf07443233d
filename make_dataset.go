// Package lazy_corpus assembles training datasets from named corpora: it
// builds each corpus's lazy store once, concatenates and splits the
// resulting views, and frames every split into fixed-length examples.
package lazy_corpus

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/lazy_corpus/config"
	"github.com/wbrown/lazy_corpus/coordinator"
	"github.com/wbrown/lazy_corpus/corpora"
	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/framing"
	"github.com/wbrown/lazy_corpus/tokenizer"
	"golang.org/x/sync/errgroup"
)

// Deps
// Collaborators MakeDataset would otherwise construct from the
// configuration.
type Deps struct {
	Tokenizer   tokenizer.Tokenizer
	Registry    *corpora.Registry
	Coordinator coordinator.Coordinator
	Logger      *log.Logger
}

// Datasets
// The result of MakeDataset. Splits holds one dataset per split proportion
// (nil where the proportion is zero), or a single dataset when nothing was
// split. Framed wraps every split with the configured framing and is nil
// when no framing was asked for.
type Datasets struct {
	Splits []datasets.Dataset
	Framed []framing.Transform
	views  []corpora.View
}

// Close unmaps every store the datasets read from.
func (d *Datasets) Close() error {
	var firstErr error
	for _, view := range d.views {
		if view == nil {
			continue
		}
		if err := view.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewRegistry declares every configured corpus. `seed` orders textdir
// sources sorted "random".
func NewRegistry(corpusConfigs []config.CorpusConfig, seed int64,
	logger *log.Logger) (*corpora.Registry, error) {
	registry := corpora.NewRegistry()
	for _, cc := range corpusConfigs {
		corpus := corpora.Corpus{Name: cc.Name, Path: cc.Path}
		switch cc.Shape {
		case "prompt":
			corpus.Shape = corpora.ShapePromptText
		case "mask":
			corpus.Shape = corpora.ShapeMaskText
		default:
			return nil, fmt.Errorf("corpus %q: unknown shape %q", cc.Name,
				cc.Shape)
		}
		switch cc.Format {
		case "textdir":
			if len(cc.Source) != 1 {
				return nil, fmt.Errorf("corpus %q: textdir takes one "+
					"directory, got %d", cc.Name, len(cc.Source))
			}
			corpus.Reader = corpora.TextDirReader{
				Dir:      cc.Source[0],
				Sanitize: cc.Sanitize,
				Sort:     cc.Sort,
				Seed:     seed,
				Logger:   logger,
			}
		case "jsonl":
			corpus.Reader = corpora.JSONLinesReader{Paths: cc.Source}
		default:
			return nil, fmt.Errorf("corpus %q: unknown format %q", cc.Name,
				cc.Format)
		}
		if err := registry.Register(corpus); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewCoordinator builds the file coordinator described by `cfg`.
func NewCoordinator(cfg config.CoordinatorConfig,
	logger *log.Logger) *coordinator.FileCoordinator {
	var elector coordinator.Elector = coordinator.RankElector{Rank: cfg.Rank}
	if cfg.Elect == "lock" {
		elector = coordinator.LockElector{}
	}
	c := coordinator.NewFileCoordinator(elector)
	if cfg.PollInterval > 0 {
		c.PollInterval = cfg.PollInterval
	}
	if cfg.FailureGrace > 0 {
		c.FailureGrace = cfg.FailureGrace
	}
	c.Timeout = cfg.Timeout
	c.DisableWatch = cfg.DisableWatch
	c.Logger = logger
	return c
}

// MakeDataset
// Loads every configured corpus in parallel, concatenates them, splits the
// result when the proportions call for it, optionally dumps the last split
// as text, and frames each split according to cfg.DsType.
func MakeDataset(ctx context.Context, cfg config.Config,
	deps Deps) (*Datasets, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	tok := deps.Tokenizer
	if tok == nil {
		var err error
		if tok, err = tokenizer.New(cfg.Tokenizer); err != nil {
			return nil, err
		}
	}
	registry := deps.Registry
	if registry == nil {
		var err error
		registry, err = NewRegistry(cfg.Corpora, cfg.Seed, logger)
		if err != nil {
			return nil, err
		}
	}
	coord := deps.Coordinator
	if coord == nil {
		coord = NewCoordinator(cfg.Coordinator, logger)
	}
	loader := &corpora.Loader{
		Registry:    registry,
		Coordinator: coord,
		Tokenizer:   tok,
		PreTokenize: cfg.PreTokenize,
		CacheSize:   cfg.CacheSize,
		Logger:      logger,
	}
	if cfg.Coordinator.Rank == 0 {
		loader.LogSamples = 10
	}

	result := &Datasets{views: make([]corpora.View, len(cfg.Corpora))}
	g, gctx := errgroup.WithContext(ctx)
	for i, cc := range cfg.Corpora {
		i, cc := i, cc
		g.Go(func() error {
			view, err := loader.Load(gctx, cc.Name)
			if err != nil {
				return err
			}
			result.views[i] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.Close()
		return nil, err
	}

	var ds datasets.Dataset = result.views[0]
	if len(result.views) > 1 {
		sources := make([]datasets.Dataset, len(result.views))
		for i, view := range result.views {
			sources[i] = view
		}
		ds = datasets.Concat(sources...)
	}
	logger.Printf("Loaded %d corpora with %s documents", len(cfg.Corpora),
		humanize.Comma(int64(ds.Len())))

	result.Splits = []datasets.Dataset{ds}
	if datasets.ShouldSplit(cfg.Split) {
		splits, err := datasets.Split(ds, cfg.Split, datasets.SplitOptions{
			Shuffle:  cfg.Shuffle,
			Seed:     cfg.Seed,
			SavePath: cfg.SaveSplits,
			LoadPath: cfg.LoadSplits,
			Logger:   logger,
		})
		if err != nil {
			result.Close()
			return nil, err
		}
		result.Splits = make([]datasets.Dataset, len(splits))
		for i, split := range splits {
			if split != nil {
				result.Splits[i] = split
			}
		}
		if cfg.SaveTestData != "" && cfg.Coordinator.Rank == 0 {
			if err = saveTestData(cfg.SaveTestData,
				result.Splits[len(splits)-1], tok); err != nil {
				result.Close()
				return nil, err
			}
			logger.Printf("Write test data to %s", cfg.SaveTestData)
		}
	}

	if cfg.DsType == "" {
		return result, nil
	}
	result.Framed = make([]framing.Transform, len(result.Splits))
	for i, split := range result.Splits {
		if split == nil {
			continue
		}
		framed, err := Frame(split, cfg, tok)
		if err != nil {
			result.Close()
			return nil, err
		}
		result.Framed[i] = framed
	}
	return result, nil
}

func saveTestData(path string, ds datasets.Dataset,
	tok tokenizer.Tokenizer) error {
	if ds == nil {
		return fmt.Errorf("test split is empty, nothing to write to %s", path)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = datasets.WriteDecoded(out, ds, tok); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Frame wraps `ds` in the transform named by cfg.DsType.
func Frame(ds datasets.Dataset, cfg config.Config,
	tok tokenizer.Tokenizer) (framing.Transform, error) {
	specials := tokenizer.Specials(tok)
	acrossDoc := !cfg.SampleOneDocument
	switch cfg.DsType {
	case "gpt2":
		return framing.NewContiguous(ds, framing.ContiguousConfig{
			MaxSeqLen:       cfg.SeqLength,
			SampleAcrossDoc: acrossDoc,
			NumSamples:      cfg.NumSamples,
			EosToken:        specials.Eos,
			AppendEos:       cfg.AppendEos,
			PadToken:        specials.Pad,
			Seed:            cfg.Seed,
		})
	case "block":
		return framing.NewBlock(ds, framing.BlockConfig{
			MaxSeqLen:       cfg.SeqLength,
			SampleAcrossDoc: acrossDoc,
			StartToken:      specials.Cls,
			PadToken:        specials.Pad,
			Decoder:         tok,
			NumSamples:      cfg.NumSamples,
			Seed:            cfg.Seed,
		})
	case "gpt-xl":
		if !cfg.PreTokenize {
			return nil, fmt.Errorf("%w: gpt-xl framing requires "+
				"pre-tokenized stores", config.ErrInvalidConfig)
		}
		return framing.NewRecurrent(ds, framing.RecurrentConfig{
			MaxSeqLen:       cfg.SeqLength,
			MemLen:          cfg.MemLength,
			SampleAcrossDoc: acrossDoc,
			EosToken:        specials.Eos,
			PadToken:        specials.Pad,
		})
	case "bert":
		vocabSize := 0
		if v, ok := tok.(tokenizer.Vocabulary); ok {
			vocabSize = v.VocabSize()
		}
		return framing.NewSentencePair(ds, tok, framing.SentencePairConfig{
			MaxSeqLen:         cfg.SeqLength,
			ShortSeqProb:      cfg.SentencePair.ShortSeqProb,
			PresplitSentences: cfg.PresplitSentences,
			MaskLMProb:        cfg.SentencePair.MaskLMProb,
			MaxPredsPerSeq:    cfg.SentencePair.MaxPredsPerSeq,
			ClsToken:          specials.Cls,
			SepToken:          specials.Sep,
			MaskToken:         specials.Mask,
			PadToken:          specials.Pad,
			VocabSize:         vocabSize,
			NumSamples:        cfg.NumSamples,
			Seed:              cfg.Seed,
		})
	default:
		return nil, fmt.Errorf("%w: unknown ds_type %q",
			config.ErrInvalidConfig, cfg.DsType)
	}
}
