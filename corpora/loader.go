package corpora

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/lazy_corpus/coordinator"
	"github.com/wbrown/lazy_corpus/lazy"
	"github.com/wbrown/lazy_corpus/tokenizer"
	"github.com/wbrown/lazy_corpus/types"
)

// Loader
// Resolves corpus names to views, building the backing stores through the
// Coordinator the first time a corpus is requested.
type Loader struct {
	Registry    *Registry
	Coordinator coordinator.Coordinator
	Tokenizer   tokenizer.Tokenizer
	PreTokenize bool
	// Width of pre-tokenized arrays; zero derives it from the tokenizer.
	Width types.Width
	// MapFn is applied to raw prompt/text records of prompt-shaped corpora.
	MapFn     lazy.MapFunc
	CacheSize int
	// LogSamples is how many decoded documents to log after loading, the
	// first half in order and the rest at random.
	LogSamples int
	Logger     *log.Logger
}

func (l *Loader) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Default()
}

// Load
// Returns the view of corpus `name`. Unknown names fail before any I/O.
func (l *Loader) Load(ctx context.Context, name string) (View, error) {
	if l.Registry == nil {
		return nil, fmt.Errorf("corpora: loader has no registry")
	}
	corpus, err := l.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	coord := l.Coordinator
	if coord == nil {
		coord = coordinator.NewFileCoordinator(coordinator.RankElector{})
	}
	build := func(ctx context.Context) error {
		return Build(ctx, corpus, l.Tokenizer, BuildOptions{
			PreTokenize: l.PreTokenize,
			Width:       l.Width,
			Logger:      l.Logger,
		})
	}
	if err = coord.Ensure(ctx, corpus.Path, corpus.Shape.Tags(),
		build); err != nil {
		return nil, fmt.Errorf("corpora: %s: %w", name, err)
	}

	view, err := l.open(corpus)
	if err != nil {
		return nil, fmt.Errorf("corpora: %s: %w", name, err)
	}
	l.logger().Printf("Create dataset %s with %s documents", name,
		humanize.Comma(int64(view.Len())))
	l.logSamples(view)
	return view, nil
}

func (l *Loader) open(corpus Corpus) (View, error) {
	var streams []*lazy.Reader
	closeAll := func() {
		for _, s := range streams {
			s.Close()
		}
	}
	for _, tag := range corpus.Shape.Tags() {
		isArray := l.PreTokenize || tag == TagMask
		var mapFn lazy.MapFunc
		if corpus.Shape == ShapePromptText {
			mapFn = l.MapFn
		}
		r, err := lazy.OpenReader(corpus.Path, tag, isArray, mapFn)
		if err != nil {
			closeAll()
			return nil, err
		}
		streams = append(streams, r)
	}

	var view View
	var err error
	switch corpus.Shape {
	case ShapePromptText:
		view, err = NewPromptDataset(streams[0], streams[1], l.Tokenizer,
			!l.PreTokenize, l.CacheSize)
	case ShapeMaskText:
		view, err = NewKeyDataset(streams[0], streams[1], l.Tokenizer,
			!l.PreTokenize, l.CacheSize)
	}
	if err != nil {
		closeAll()
		return nil, err
	}
	return view, nil
}

func (l *Loader) logSamples(view View) {
	if l.LogSamples <= 0 || view.Len() == 0 || l.Tokenizer == nil {
		return
	}
	logger := l.logger()
	for i := 0; i < l.LogSamples; i++ {
		idx := i
		if i >= l.LogSamples/2 || idx >= view.Len() {
			idx = rand.Intn(view.Len())
		}
		sample, err := view.Get(idx)
		if err != nil {
			logger.Printf("Sample %d: %v", idx, err)
			continue
		}
		tokens := sample.Tokens
		if len(tokens) > 1024 {
			tokens = tokens[:1024]
		}
		logger.Printf("Sample %d: %v", idx, tokens)
		logger.Printf("Sample %d: %q", idx, l.Tokenizer.Decode(tokens))
	}
}
