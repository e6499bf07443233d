// Package framing turns variable-length tokenized documents into
// fixed-length training examples.
//
// Every transform is deterministic per example index: the same index always
// yields the same example, whatever order examples are requested in.
package framing

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/types"
)

var ErrCorpusTooSmall = errors.New("framing: corpus too small")

// Sentence-pair labels.
const (
	LabelIsNext  = 0
	LabelNotNext = 1
)

// Origin
// Records that a span of an example came from document Doc, positions
// [Start, End). Positions are tokens, except for sentence pairs where they
// are sentence indices.
type Origin struct {
	Doc   int
	Start int
	End   int
}

// Example
// One fixed-length training example. Fields that a transform does not
// produce are left nil.
type Example struct {
	Tokens   types.Tokens
	LossMask []uint8
	// Targets holds the next token for every position (recurrent window).
	Targets types.Tokens
	// Memory always holds MemLen tokens; only the last MemoryVisible of
	// them belong to the current document.
	Memory        types.Tokens
	MemoryVisible int
	TokenTypes    []uint8
	Label         int
	// PadMask is 1 at padding positions.
	PadMask       []uint8
	MaskPositions []int
	MaskLabels    types.Tokens
	Sources       []Origin
}

// Transform is an indexable sequence of examples.
type Transform interface {
	Len() int
	Example(idx int) (*Example, error)
}

func newRand(seed int64, idx int) *rand.Rand {
	return rand.New(rand.NewSource(seed*1000003 + int64(idx)))
}

func checkIndex(idx int, n int) error {
	if idx < 0 || idx >= n {
		return fmt.Errorf("%w: example %d not in [0, %d)",
			datasets.ErrOutOfRange, idx, n)
	}
	return nil
}

// docSampler picks documents with probability proportional to their
// token count.
type docSampler struct {
	lens  []int
	cum   []int64
	total int64
}

func newDocSampler(ds datasets.Dataset) (*docSampler, error) {
	lens, err := datasets.DocLens(ds)
	if err != nil {
		return nil, err
	}
	s := &docSampler{lens: lens, cum: make([]int64, len(lens))}
	for i, l := range lens {
		s.total += int64(l)
		s.cum[i] = s.total
	}
	return s, nil
}

func (s *docSampler) pick(rng *rand.Rand) int {
	x := rng.Int63n(s.total)
	return sort.Search(len(s.cum), func(i int) bool { return s.cum[i] > x })
}

// window accumulates tokens and loss bits up to a fixed length.
type window struct {
	tokens  types.Tokens
	mask    []uint8
	sources []Origin
	size    int
}

func newWindow(size int) *window {
	return &window{
		tokens: make(types.Tokens, 0, size),
		mask:   make([]uint8, 0, size),
		size:   size,
	}
}

func (w *window) room() int {
	return w.size - len(w.tokens)
}

// add appends tokens[start:end] of document `doc`.
func (w *window) add(doc int, sample datasets.Sample, start int, end int) {
	w.tokens = append(w.tokens, sample.Tokens[start:end]...)
	w.mask = append(w.mask, sample.LossMask[start:end]...)
	w.sources = append(w.sources, Origin{Doc: doc, Start: start, End: end})
}

func (w *window) push(token types.Token, loss uint8) {
	w.tokens = append(w.tokens, token)
	w.mask = append(w.mask, loss)
}

func (w *window) pad(token types.Token) {
	for w.room() > 0 {
		w.push(token, 0)
	}
}

func (w *window) example() *Example {
	return &Example{Tokens: w.tokens, LossMask: w.mask, Sources: w.sources}
}

// withEos returns the document with `eos` appended as a loss-bearing token.
func withEos(sample datasets.Sample, eos types.Token) datasets.Sample {
	tokens := make(types.Tokens, len(sample.Tokens), len(sample.Tokens)+1)
	copy(tokens, sample.Tokens)
	mask := make([]uint8, len(sample.LossMask), len(sample.LossMask)+1)
	copy(mask, sample.LossMask)
	return datasets.Sample{
		Tokens:    append(tokens, eos),
		LossMask:  append(mask, 1),
		PromptLen: sample.PromptLen,
	}
}
