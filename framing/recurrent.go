package framing

import (
	"fmt"
	"sort"

	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/types"
)

// RecurrentConfig configures the recurrent-memory window.
type RecurrentConfig struct {
	MaxSeqLen       int
	MemLen          int
	SampleAcrossDoc bool
	EosToken        types.Token
	PadToken        types.Token
}

// Recurrent
// Walks the corpus in order as one stream of EOS-terminated documents and
// cuts it into consecutive MaxSeqLen windows, each with the MemLen stream
// tokens that precede it as memory. Without SampleAcrossDoc every document
// is its own stream, so no window spans two documents and memory starts
// empty at each document's first window.
type Recurrent struct {
	cfg RecurrentConfig
	ds  datasets.Dataset
	// offsets[d] is the stream position of document d's first token.
	offsets []int
	windows []recurrentWindow
}

type recurrentWindow struct {
	start int
	// first and limit bound the stream the window belongs to.
	first int
	limit int
}

func NewRecurrent(ds datasets.Dataset, cfg RecurrentConfig) (*Recurrent,
	error) {
	if cfg.MaxSeqLen <= 0 || cfg.MemLen < 0 {
		return nil, fmt.Errorf("framing: invalid window %d with memory %d",
			cfg.MaxSeqLen, cfg.MemLen)
	}
	lens, err := datasets.DocLens(ds)
	if err != nil {
		return nil, err
	}
	r := &Recurrent{cfg: cfg, ds: ds, offsets: make([]int, len(lens)+1)}
	for d, l := range lens {
		r.offsets[d+1] = r.offsets[d] + l + 1
	}
	add := func(first int, limit int) {
		for start := first; start < limit; start += cfg.MaxSeqLen {
			r.windows = append(r.windows,
				recurrentWindow{start: start, first: first, limit: limit})
		}
	}
	if cfg.SampleAcrossDoc {
		add(0, r.offsets[len(lens)])
	} else {
		for d := range lens {
			add(r.offsets[d], r.offsets[d+1])
		}
	}
	return r, nil
}

func (r *Recurrent) Len() int {
	return len(r.windows)
}

// locate returns the document holding stream position `pos`.
func (r *Recurrent) locate(pos int) int {
	return sort.Search(len(r.offsets)-1, func(d int) bool {
		return r.offsets[d+1] > pos
	})
}

// span reads stream positions [from, to) as tokens and loss bits, with
// the EOS closing each document.
func (r *Recurrent) span(from int, to int) (types.Tokens, []uint8,
	[]Origin, error) {
	tokens := make(types.Tokens, 0, to-from)
	mask := make([]uint8, 0, to-from)
	var sources []Origin
	for pos := from; pos < to; {
		d := r.locate(pos)
		sample, err := r.ds.Get(d)
		if err != nil {
			return nil, nil, nil, err
		}
		start := pos - r.offsets[d]
		end := min(to, r.offsets[d+1]) - r.offsets[d]
		docEnd := min(end, len(sample.Tokens))
		tokens = append(tokens, sample.Tokens[start:docEnd]...)
		mask = append(mask, sample.LossMask[start:docEnd]...)
		if end > len(sample.Tokens) {
			tokens = append(tokens, r.cfg.EosToken)
			mask = append(mask, 1)
		}
		if start < docEnd {
			sources = append(sources, Origin{Doc: d, Start: start, End: docEnd})
		}
		pos = r.offsets[d] + end
	}
	return tokens, mask, sources, nil
}

// Example
// Window idx holds stream positions [start, start+MaxSeqLen) and targets
// the following position. The final position of a stream targets the pad
// token without loss, as do padded positions.
func (r *Recurrent) Example(idx int) (*Example, error) {
	if err := checkIndex(idx, r.Len()); err != nil {
		return nil, err
	}
	win := r.windows[idx]
	end := min(win.start+r.cfg.MaxSeqLen, win.limit)
	tokens, _, sources, err := r.span(win.start, end)
	if err != nil {
		return nil, err
	}
	targets, targetMask, _, err := r.span(win.start+1, min(end+1, win.limit))
	if err != nil {
		return nil, err
	}
	memStart := max(win.first, win.start-r.cfg.MemLen)
	memory, _, _, err := r.span(memStart, win.start)
	if err != nil {
		return nil, err
	}

	ex := &Example{
		Tokens:        padRight(tokens, r.cfg.MaxSeqLen, r.cfg.PadToken),
		Targets:       padRight(targets, r.cfg.MaxSeqLen, r.cfg.PadToken),
		LossMask:      make([]uint8, r.cfg.MaxSeqLen),
		Memory:        padLeft(memory, r.cfg.MemLen, r.cfg.PadToken),
		MemoryVisible: win.start - max(memStart, r.offsets[r.locate(win.start)]),
		Sources:       sources,
	}
	copy(ex.LossMask, targetMask)
	return ex, nil
}

func padRight(tokens types.Tokens, size int, pad types.Token) types.Tokens {
	for len(tokens) < size {
		tokens = append(tokens, pad)
	}
	return tokens
}

func padLeft(tokens types.Tokens, size int, pad types.Token) types.Tokens {
	if len(tokens) >= size {
		return tokens
	}
	padded := make(types.Tokens, size-len(tokens), size)
	for i := range padded {
		padded[i] = pad
	}
	return append(padded, tokens...)
}
