package framing

import (
	"fmt"
	"math/rand"

	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/types"
)

// ContiguousConfig
// Configures the GPT-2 style window. NumSamples defaults to 1000 examples
// per document.
type ContiguousConfig struct {
	MaxSeqLen       int
	SampleAcrossDoc bool
	// RandomAcrossDoc refills from a weighted random document instead of
	// the next one in order.
	RandomAcrossDoc bool
	NumSamples      int
	EosToken        types.Token
	AppendEos       bool
	PadToken        types.Token
	Seed            int64
}

// Contiguous
// Cuts MaxSeqLen windows out of documents picked by length. A long document
// is entered at a random offset; short ones are followed by further
// documents when SampleAcrossDoc is set, otherwise padded.
type Contiguous struct {
	cfg     ContiguousConfig
	ds      datasets.Dataset
	sampler *docSampler
}

func NewContiguous(ds datasets.Dataset, cfg ContiguousConfig) (*Contiguous,
	error) {
	if cfg.MaxSeqLen <= 0 {
		return nil, fmt.Errorf("framing: MaxSeqLen must be positive, got %d",
			cfg.MaxSeqLen)
	}
	sampler, err := newDocSampler(ds)
	if err != nil {
		return nil, err
	}
	if sampler.total == 0 {
		return nil, fmt.Errorf("%w: no tokens in %d documents",
			ErrCorpusTooSmall, ds.Len())
	}
	if cfg.NumSamples == 0 {
		cfg.NumSamples = 1000 * ds.Len()
	}
	return &Contiguous{cfg: cfg, ds: ds, sampler: sampler}, nil
}

func (c *Contiguous) Len() int {
	return c.cfg.NumSamples
}

func (c *Contiguous) doc(i int) (datasets.Sample, error) {
	sample, err := c.ds.Get(i)
	if err != nil {
		return sample, err
	}
	if c.cfg.AppendEos {
		sample = withEos(sample, c.cfg.EosToken)
	}
	return sample, nil
}

func (c *Contiguous) next(rng *rand.Rand, docIdx int) int {
	if c.cfg.RandomAcrossDoc {
		return c.sampler.pick(rng)
	}
	return (docIdx + 1) % c.ds.Len()
}

func (c *Contiguous) Example(idx int) (*Example, error) {
	if err := checkIndex(idx, c.Len()); err != nil {
		return nil, err
	}
	rng := newRand(c.cfg.Seed, idx)
	docIdx := c.sampler.pick(rng)
	sample, err := c.doc(docIdx)
	if err != nil {
		return nil, err
	}
	w := newWindow(c.cfg.MaxSeqLen)
	start := 0
	if excess := len(sample.Tokens) - c.cfg.MaxSeqLen; excess > 0 {
		start = rng.Intn(excess + 1)
	}
	w.add(docIdx, sample, start, min(len(sample.Tokens), start+w.room()))

	for c.cfg.SampleAcrossDoc && w.room() > 0 {
		docIdx = c.next(rng, docIdx)
		if sample, err = c.doc(docIdx); err != nil {
			return nil, err
		}
		if len(sample.Tokens) == 0 {
			continue
		}
		w.add(docIdx, sample, 0, min(len(sample.Tokens), w.room()))
	}
	w.pad(c.cfg.PadToken)
	return w.example(), nil
}
