package corpora

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/lazy_corpus/lazy"
	"github.com/wbrown/lazy_corpus/tokenizer"
	"github.com/wbrown/lazy_corpus/types"
)

// BuildOptions
// Controls how Build stores a corpus. With PreTokenize the text and prompt
// streams hold token arrays of width Width (derived from the tokenizer's
// vocabulary when zero); otherwise they hold UTF-8 text.
type BuildOptions struct {
	PreTokenize bool
	Width       types.Width
	Logger      *log.Logger
}

// TokenWidth picks the array width for tokens of `tok`.
func TokenWidth(tok tokenizer.Tokenizer, width types.Width) types.Width {
	if width != 0 {
		return width
	}
	if v, ok := tok.(tokenizer.Vocabulary); ok {
		return types.WidthFor(v.VocabSize())
	}
	return types.DefaultWidth
}

// MaskRuns
// Collapses loss-tagged spans of the given sizes into alternating run
// lengths, starting with a non-loss run. Zero-sized spans are dropped.
func MaskRuns(sizes []int, loss []bool) types.Tokens {
	runs := make(types.Tokens, 0, len(sizes)+1)
	current := false
	length := 0
	for i, size := range sizes {
		if size == 0 {
			continue
		}
		if loss[i] != current {
			runs = append(runs, types.Token(length))
			current = loss[i]
			length = 0
		}
		length += size
	}
	return append(runs, types.Token(length))
}

// segments returns the spans of a mask-shaped document.
func (d *Document) segments() []Segment {
	if len(d.Segments) > 0 {
		return d.Segments
	}
	return []Segment{{Text: d.Text, Loss: true}}
}

// Build
// Reads every document of `corpus` and writes its streams under
// corpus.Path. Every stream is aborted if any document fails, so a failed
// build never leaves a finalized index behind.
func Build(ctx context.Context, corpus Corpus, tok tokenizer.Tokenizer,
	opts BuildOptions) (err error) {
	tags := corpus.Shape.Tags()
	if tags == nil {
		return fmt.Errorf("corpora: corpus %q has invalid shape %v",
			corpus.Name, corpus.Shape)
	}
	if tok == nil && opts.PreTokenize {
		return fmt.Errorf("corpora: building %q requires a tokenizer",
			corpus.Name)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	width := types.Width(0)
	if opts.PreTokenize {
		width = TokenWidth(tok, opts.Width)
	}
	writers := make(map[string]*lazy.Writer, len(tags))
	var finalized []string
	defer func() {
		if err == nil {
			return
		}
		for _, w := range writers {
			w.Abort()
		}
		// A sibling stream that finalized must not read as ready alone.
		for _, tag := range finalized {
			lazy.Invalidate(corpus.Path, tag)
		}
	}()
	for _, tag := range tags {
		isArray := opts.PreTokenize
		tagWidth := width
		if tag == TagMask {
			isArray, tagWidth = true, types.Width32
		}
		w, openErr := lazy.NewWriter(corpus.Path, tag, isArray, tagWidth)
		if openErr != nil {
			return openErr
		}
		w.Logger = logger
		writers[tag] = w
	}

	next, err := corpus.Reader.Documents(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	var docs, tokens int
	for {
		if err = ctx.Err(); err != nil {
			return err
		}
		doc, nextErr := next()
		if nextErr != nil {
			return nextErr
		}
		if doc == nil {
			break
		}
		var n int
		switch corpus.Shape {
		case ShapePromptText:
			n, err = writePromptText(writers, doc, tok, opts.PreTokenize)
		case ShapeMaskText:
			n, err = writeMaskText(writers, doc, tok, opts.PreTokenize)
		}
		if err != nil {
			return fmt.Errorf("corpora: %s document %d: %w", corpus.Name,
				docs, err)
		}
		docs++
		tokens += n
	}

	for _, tag := range tags {
		if err = writers[tag].Close(); err != nil {
			return err
		}
		delete(writers, tag)
		finalized = append(finalized, tag)
	}
	elapsed := time.Since(start)
	if opts.PreTokenize {
		logger.Printf("Built %s: %s documents, %s tokens in %s",
			corpus.Name, humanize.Comma(int64(docs)),
			humanize.Comma(int64(tokens)), elapsed)
	} else {
		logger.Printf("Built %s: %s documents in %s", corpus.Name,
			humanize.Comma(int64(docs)), elapsed)
	}
	return nil
}

func writePromptText(writers map[string]*lazy.Writer, doc *Document,
	tok tokenizer.Tokenizer, preTokenize bool) (int, error) {
	if !preTokenize {
		if err := writers[TagPrompt].AppendText(doc.Prompt); err != nil {
			return 0, err
		}
		return 0, writers[TagText].AppendText(doc.Text)
	}
	prompt := tok.Encode(doc.Prompt)
	text := tok.Encode(doc.Text)
	if err := writers[TagPrompt].AppendTokens(prompt); err != nil {
		return 0, err
	}
	return len(prompt) + len(text), writers[TagText].AppendTokens(text)
}

// writeMaskText stores run lengths in tokens when pre-tokenized and in bytes
// otherwise, so raw runs can be re-encoded one at a time on access.
func writeMaskText(writers map[string]*lazy.Writer, doc *Document,
	tok tokenizer.Tokenizer, preTokenize bool) (int, error) {
	segments := doc.segments()
	sizes := make([]int, len(segments))
	loss := make([]bool, len(segments))
	var text strings.Builder
	var tokens types.Tokens
	for i, segment := range segments {
		loss[i] = segment.Loss
		if preTokenize {
			encoded := tok.Encode(segment.Text)
			sizes[i] = len(encoded)
			tokens = append(tokens, encoded...)
		} else {
			sizes[i] = len(segment.Text)
			text.WriteString(segment.Text)
		}
	}
	if err := writers[TagMask].AppendTokens(MaskRuns(sizes, loss)); err != nil {
		return 0, err
	}
	if preTokenize {
		return len(tokens), writers[TagText].AppendTokens(tokens)
	}
	return 0, writers[TagText].AppendText(text.String())
}
