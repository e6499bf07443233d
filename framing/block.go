package framing

import (
	"fmt"
	"strings"

	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/types"
)

const sentenceEnds = ".?!;:\n"

// BlockConfig
// Configures the block window. Decoder is used to recognize tokens that end
// a sentence; without one, windows are cut at exact offsets.
type BlockConfig struct {
	MaxSeqLen       int
	SampleAcrossDoc bool
	StartToken      types.Token
	PadToken        types.Token
	Decoder         datasets.Decoder
	// NonSentenceStart is the probability of keeping a random start offset
	// instead of moving it to a sentence boundary.
	NonSentenceStart float64
	NumSamples       int
	Seed             int64
}

// Block
// Frames every document as StartToken followed by its tokens. Long
// documents are entered near a sentence boundary and cut after a sentence
// end; short ones are followed by further documents when SampleAcrossDoc is
// set. Windows are padded to MaxSeqLen.
type Block struct {
	cfg     BlockConfig
	ds      datasets.Dataset
	sampler *docSampler
}

func NewBlock(ds datasets.Dataset, cfg BlockConfig) (*Block, error) {
	if cfg.MaxSeqLen < 2 {
		return nil, fmt.Errorf("framing: MaxSeqLen must be at least 2, got %d",
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
	return &Block{cfg: cfg, ds: ds, sampler: sampler}, nil
}

func (b *Block) Len() int {
	return b.cfg.NumSamples
}

func (b *Block) sentenceEnd(token types.Token) bool {
	return strings.ContainsAny(b.cfg.Decoder.Decode(types.Tokens{token}),
		sentenceEnds)
}

// rightStrip
// Returns how many leading tokens to keep so that at most `limit` remain,
// preferring to stop right after a sentence end unless that would keep
// less than half of `limit`.
func (b *Block) rightStrip(tokens types.Tokens, limit int) int {
	n := len(tokens)
	strip := n - limit
	if strip <= 0 {
		return n
	}
	if b.cfg.Decoder != nil {
		for strip < n-1 && !b.sentenceEnd(tokens[n-strip-1]) {
			strip++
		}
		if n-strip < limit/2 {
			strip = n - limit
		}
	}
	return n - strip
}

func (b *Block) Example(idx int) (*Example, error) {
	if err := checkIndex(idx, b.Len()); err != nil {
		return nil, err
	}
	maxLen := b.cfg.MaxSeqLen
	rng := newRand(b.cfg.Seed, idx)
	docIdx := b.sampler.pick(rng)
	sample, err := b.ds.Get(docIdx)
	if err != nil {
		return nil, err
	}
	tokens := sample.Tokens
	w := newWindow(maxLen)

	if excess := len(tokens) - maxLen + 1; excess > 0 {
		start := rng.Intn(excess)
		if b.cfg.Decoder != nil && rng.Float64() > b.cfg.NonSentenceStart {
			moved := 0
			if rng.Float64() < 0.5 {
				for moved < maxLen/2 && start > 0 &&
					!b.sentenceEnd(tokens[start-1]) {
					start--
					moved++
				}
			} else {
				for moved < maxLen/2 && start > 0 && start < len(tokens) &&
					!b.sentenceEnd(tokens[start-1]) {
					start++
					moved++
				}
			}
		}
		end := start + b.rightStrip(tokens[start:], maxLen-1)
		w.push(b.cfg.StartToken, 0)
		w.add(docIdx, sample, start, end)
	} else {
		w.push(b.cfg.StartToken, 0)
		w.add(docIdx, sample, 0, len(tokens))
		for b.cfg.SampleAcrossDoc && w.room() >= 2 {
			docIdx = b.sampler.pick(rng)
			if sample, err = b.ds.Get(docIdx); err != nil {
				return nil, err
			}
			last := len(sample.Tokens)+1 >= w.room()
			keep := b.rightStrip(sample.Tokens, w.room()-1)
			w.push(b.cfg.StartToken, 0)
			w.add(docIdx, sample, 0, keep)
			if last {
				break
			}
		}
	}
	w.pad(b.cfg.PadToken)
	return w.example(), nil
}
