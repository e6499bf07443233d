package corpora

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/tokenizer"
	"github.com/wbrown/lazy_corpus/types"
)

const DefaultCacheSize = 4096

// Stream is the read side of one lazy store, as implemented by lazy.Reader.
type Stream interface {
	Len() int
	IsArray() bool
	RecordLen(i int) (int, error)
	Raw(i int) ([]byte, error)
	Text(i int) (string, error)
	Tokens(i int) (types.Tokens, error)
	Close() error
}

// View
// A dataset joined from the aligned streams of one corpus. Samples returned
// by Get may be shared with the view's cache and must not be modified.
type View interface {
	datasets.Dataset
	datasets.DocLener
	Shape() Shape
	Close() error
}

type streamView struct {
	streams    []Stream
	tok        tokenizer.Tokenizer
	toTokenize bool
	cache      *lru.ARCCache
}

func newStreamView(tok tokenizer.Tokenizer, toTokenize bool, cacheSize int,
	streams ...Stream) (streamView, error) {
	v := streamView{streams: streams, tok: tok, toTokenize: toTokenize}
	if toTokenize && tok == nil {
		return v, fmt.Errorf("corpora: raw text streams need a tokenizer")
	}
	if err := v.aligned(); err != nil {
		return v, err
	}
	if toTokenize {
		if cacheSize == 0 {
			cacheSize = DefaultCacheSize
		}
		if cacheSize > 0 {
			cache, err := lru.NewARC(cacheSize)
			if err != nil {
				return v, err
			}
			v.cache = cache
		}
	}
	return v, nil
}

func (v *streamView) aligned() error {
	for _, s := range v.streams[1:] {
		if s.Len() != v.streams[0].Len() {
			return fmt.Errorf("%w: %d records vs %d records",
				ErrStreamMisalignment, v.streams[0].Len(), s.Len())
		}
	}
	return nil
}

func (v *streamView) Len() int {
	return v.streams[0].Len()
}

func (v *streamView) check(i int) error {
	if err := v.aligned(); err != nil {
		return err
	}
	if i < 0 || i >= v.Len() {
		return fmt.Errorf("%w: %d not in [0, %d)", datasets.ErrOutOfRange, i,
			v.Len())
	}
	return nil
}

// tokens reads record i of a text-or-token stream as tokens.
func (v *streamView) tokens(s Stream, i int) (types.Tokens, error) {
	if s.IsArray() {
		return s.Tokens(i)
	}
	text, err := s.Text(i)
	if err != nil {
		return nil, err
	}
	return v.tok.Encode(text), nil
}

func (v *streamView) cached(i int) (datasets.Sample, bool) {
	if v.cache == nil {
		return datasets.Sample{}, false
	}
	if sample, ok := v.cache.Get(i); ok {
		return sample.(datasets.Sample), true
	}
	return datasets.Sample{}, false
}

func (v *streamView) remember(i int, sample datasets.Sample) {
	if v.cache != nil {
		v.cache.Add(i, sample)
	}
}

func (v *streamView) Close() error {
	var firstErr error
	for _, s := range v.streams {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PromptDataset
// Joins a prompt stream and a text stream. The prompt tokens come first
// and carry no loss.
type PromptDataset struct {
	streamView
}

// NewPromptDataset
// Wraps aligned `prompts` and `texts` streams. With `toTokenize` the streams
// hold raw text that is encoded by `tok` on access.
func NewPromptDataset(prompts, texts Stream, tok tokenizer.Tokenizer,
	toTokenize bool, cacheSize int) (*PromptDataset, error) {
	if prompts.IsArray() == toTokenize || texts.IsArray() == toTokenize {
		return nil, fmt.Errorf("corpora: prompt/text streams do not match "+
			"toTokenize=%v", toTokenize)
	}
	v, err := newStreamView(tok, toTokenize, cacheSize, prompts, texts)
	if err != nil {
		return nil, err
	}
	return &PromptDataset{v}, nil
}

func (d *PromptDataset) Shape() Shape { return ShapePromptText }

func (d *PromptDataset) Get(i int) (datasets.Sample, error) {
	if err := d.check(i); err != nil {
		return datasets.Sample{}, err
	}
	if sample, ok := d.cached(i); ok {
		return sample, nil
	}
	prompt, err := d.tokens(d.streams[0], i)
	if err != nil {
		return datasets.Sample{}, err
	}
	text, err := d.tokens(d.streams[1], i)
	if err != nil {
		return datasets.Sample{}, err
	}
	tokens := make(types.Tokens, 0, len(prompt)+len(text))
	tokens = append(append(tokens, prompt...), text...)
	mask := make([]uint8, len(tokens))
	for idx := len(prompt); idx < len(mask); idx++ {
		mask[idx] = 1
	}
	sample := datasets.Sample{
		Tokens:    tokens,
		LossMask:  mask,
		PromptLen: len(prompt),
	}
	d.remember(i, sample)
	return sample, nil
}

// DocLen reads the token count from the length indices when pre-tokenized.
func (d *PromptDataset) DocLen(i int) (int, error) {
	if d.toTokenize {
		sample, err := d.Get(i)
		return len(sample.Tokens), err
	}
	if err := d.check(i); err != nil {
		return 0, err
	}
	promptLen, err := d.streams[0].RecordLen(i)
	if err != nil {
		return 0, err
	}
	textLen, err := d.streams[1].RecordLen(i)
	return promptLen + textLen, err
}

// KeyDataset
// Joins a text stream with a mask stream of alternating run lengths: even
// runs carry no loss, odd runs do. Runs count tokens when the text is
// pre-tokenized and bytes when it is raw.
type KeyDataset struct {
	streamView
}

// NewKeyDataset wraps aligned `texts` and `masks` streams.
func NewKeyDataset(texts, masks Stream, tok tokenizer.Tokenizer,
	toTokenize bool, cacheSize int) (*KeyDataset, error) {
	if !masks.IsArray() {
		return nil, fmt.Errorf("corpora: mask stream must be an array store")
	}
	if texts.IsArray() == toTokenize {
		return nil, fmt.Errorf("corpora: text stream does not match "+
			"toTokenize=%v", toTokenize)
	}
	v, err := newStreamView(tok, toTokenize, cacheSize, texts, masks)
	if err != nil {
		return nil, err
	}
	return &KeyDataset{v}, nil
}

func (d *KeyDataset) Shape() Shape { return ShapeMaskText }

func (d *KeyDataset) Get(i int) (datasets.Sample, error) {
	if err := d.check(i); err != nil {
		return datasets.Sample{}, err
	}
	if sample, ok := d.cached(i); ok {
		return sample, nil
	}
	runs, err := d.streams[1].Tokens(i)
	if err != nil {
		return datasets.Sample{}, err
	}
	total := 0
	for _, run := range runs {
		total += int(run)
	}

	var sample datasets.Sample
	if !d.toTokenize {
		tokens, err := d.streams[0].Tokens(i)
		if err != nil {
			return datasets.Sample{}, err
		}
		if total != len(tokens) {
			return datasets.Sample{}, fmt.Errorf(
				"%w: record %d has %d tokens, mask covers %d",
				ErrStreamMisalignment, i, len(tokens), total)
		}
		mask := make([]uint8, 0, len(tokens))
		for runIdx, run := range runs {
			mask = appendRun(mask, runIdx, int(run))
		}
		sample = datasets.Sample{Tokens: tokens, LossMask: mask}
	} else {
		// Runs count stored bytes, so they are cut before UTF-8 repair.
		raw, err := d.streams[0].Raw(i)
		if err != nil {
			return datasets.Sample{}, err
		}
		if total != len(raw) {
			return datasets.Sample{}, fmt.Errorf(
				"%w: record %d has %d bytes, mask covers %d",
				ErrStreamMisalignment, i, len(raw), total)
		}
		pos := 0
		for runIdx, run := range runs {
			encoded := d.tok.Encode(strings.ToValidUTF8(
				string(raw[pos:pos+int(run)]), "\uFFFD"))
			pos += int(run)
			sample.Tokens = append(sample.Tokens, encoded...)
			sample.LossMask = appendRun(sample.LossMask, runIdx,
				len(encoded))
		}
	}
	d.remember(i, sample)
	return sample, nil
}

func appendRun(mask []uint8, runIdx int, n int) []uint8 {
	bit := uint8(runIdx % 2)
	for ; n > 0; n-- {
		mask = append(mask, bit)
	}
	return mask
}

func (d *KeyDataset) DocLen(i int) (int, error) {
	if d.toTokenize {
		sample, err := d.Get(i)
		return len(sample.Tokens), err
	}
	if err := d.check(i); err != nil {
		return 0, err
	}
	return d.streams[0].RecordLen(i)
}
