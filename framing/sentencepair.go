package framing

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/wbrown/lazy_corpus/datasets"
	"github.com/wbrown/lazy_corpus/tokenizer"
	"github.com/wbrown/lazy_corpus/types"
)

const (
	DefaultSentenceCacheSize = 1024
	maxPairAttempts          = 100
)

// SentencePairConfig
// Configures next-sentence-prediction pairs. MaskLMProb of zero disables
// masked-LM corruption. NumSamples defaults to n*(n-1) for n documents.
type SentencePairConfig struct {
	MaxSeqLen    int
	ShortSeqProb float64
	// PresplitSentences treats every line of a document as one sentence.
	PresplitSentences bool
	MaskLMProb        float64
	MaxPredsPerSeq    int
	ClsToken          types.Token
	SepToken          types.Token
	MaskToken         types.Token
	PadToken          types.Token
	VocabSize         int
	NumSamples        int
	Seed              int64
	CacheSize         int
}

// SentencePair
// Builds `[CLS] A [SEP] B [SEP]` examples. A is a run of sentences from a
// document picked by length; B either continues A in the same document
// (LabelIsNext) or is taken from a different document (LabelNotNext).
type SentencePair struct {
	cfg     SentencePairConfig
	ds      datasets.Dataset
	tok     tokenizer.Tokenizer
	sampler *docSampler
	cache   *lru.ARCCache
}

func NewSentencePair(ds datasets.Dataset, tok tokenizer.Tokenizer,
	cfg SentencePairConfig) (*SentencePair, error) {
	if ds.Len() < 2 {
		return nil, fmt.Errorf("%w: sentence pairs need 2 documents, got %d",
			ErrCorpusTooSmall, ds.Len())
	}
	if cfg.MaxSeqLen < 5 {
		return nil, fmt.Errorf("framing: MaxSeqLen must be at least 5, got %d",
			cfg.MaxSeqLen)
	}
	if tok == nil {
		return nil, fmt.Errorf("framing: sentence pairs need a tokenizer")
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
		cfg.NumSamples = ds.Len() * (ds.Len() - 1)
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultSentenceCacheSize
	}
	cache, err := lru.NewARC(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &SentencePair{
		cfg:     cfg,
		ds:      ds,
		tok:     tok,
		sampler: sampler,
		cache:   cache,
	}, nil
}

func (p *SentencePair) Len() int {
	return p.cfg.NumSamples
}

// sentences returns the encoded, non-empty sentences of document `doc`.
func (p *SentencePair) sentences(doc int) ([]types.Tokens, error) {
	if cached, ok := p.cache.Get(doc); ok {
		return cached.([]types.Tokens), nil
	}
	sample, err := p.ds.Get(doc)
	if err != nil {
		return nil, err
	}
	text := p.tok.Decode(sample.Tokens)
	var parts []string
	if p.cfg.PresplitSentences {
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				parts = append(parts, line)
			}
		}
	} else if parts, err = SplitSentences(text); err != nil {
		return nil, err
	}
	encoded := make([]types.Tokens, 0, len(parts))
	for _, part := range parts {
		if tokens := p.tok.Encode(part); len(tokens) > 0 {
			encoded = append(encoded, tokens)
		}
	}
	p.cache.Add(doc, encoded)
	return encoded, nil
}

// pickDoc draws documents with `draw` until one has a sentence.
func (p *SentencePair) pickDoc(draw func() int) (int, []types.Tokens,
	error) {
	for attempt := 0; attempt < maxPairAttempts; attempt++ {
		doc := draw()
		sentences, err := p.sentences(doc)
		if err != nil {
			return 0, nil, err
		}
		if len(sentences) > 0 {
			return doc, sentences, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: no document with sentences found",
		ErrCorpusTooSmall)
}

func concat(parts []types.Tokens) types.Tokens {
	var out types.Tokens
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

type sentencePair struct {
	a, b    types.Tokens
	label   int
	sources []Origin
}

func (p *SentencePair) pair(rng *rand.Rand, target int) (*sentencePair,
	error) {
	docA, sentsA, err := p.pickDoc(func() int { return p.sampler.pick(rng) })
	if err != nil {
		return nil, err
	}
	startA := rng.Intn(len(sentsA))
	runLen, runEnd := 0, startA
	for runEnd < len(sentsA) {
		runLen += len(sentsA[runEnd])
		runEnd++
		if runLen >= target {
			break
		}
	}
	run := sentsA[startA:runEnd]
	numA := 1
	if len(run) >= 2 {
		numA = 1 + rng.Intn(len(run)-1)
	}
	pair := &sentencePair{
		a:       concat(run[:numA]),
		sources: []Origin{{Doc: docA, Start: startA, End: startA + numA}},
	}

	if len(run) > 1 && rng.Float64() >= 0.5 {
		pair.label = LabelIsNext
		pair.b = concat(run[numA:])
		pair.sources = append(pair.sources,
			Origin{Doc: docA, Start: startA + numA, End: runEnd})
		return pair, nil
	}

	pair.label = LabelNotNext
	targetB := target - len(pair.a)
	docB, sentsB, err := p.pickDoc(func() int {
		doc := rng.Intn(p.ds.Len() - 1)
		if doc >= docA {
			doc++
		}
		return doc
	})
	if err != nil {
		return nil, err
	}
	startB := rng.Intn(len(sentsB))
	endB := startB
	for endB < len(sentsB) {
		pair.b = append(pair.b, sentsB[endB]...)
		endB++
		if len(pair.b) >= targetB {
			break
		}
	}
	pair.sources = append(pair.sources,
		Origin{Doc: docB, Start: startB, End: endB})
	return pair, nil
}

// truncate trims the longer side until the pair fits `limit`: A loses its
// first token and B its last, keeping the A|B junction intact.
func truncate(a, b types.Tokens, limit int) (types.Tokens, types.Tokens) {
	for len(a)+len(b) > limit {
		if len(a) > len(b) {
			a = a[1:]
		} else {
			b = b[:len(b)-1]
		}
	}
	return a, b
}

func (p *SentencePair) Example(idx int) (*Example, error) {
	if err := checkIndex(idx, p.Len()); err != nil {
		return nil, err
	}
	rng := newRand(p.cfg.Seed, idx)
	limit := p.cfg.MaxSeqLen - 3
	target := limit
	if rng.Float64() < p.cfg.ShortSeqProb {
		target = 2 + rng.Intn(limit-1)
	}

	var pair *sentencePair
	for attempt := 0; attempt < maxPairAttempts; attempt++ {
		candidate, err := p.pair(rng, target)
		if err != nil {
			return nil, err
		}
		if len(candidate.a) > 0 && len(candidate.b) > 0 {
			pair = candidate
			break
		}
	}
	if pair == nil {
		return nil, fmt.Errorf("%w: no sentence pair found for example %d",
			ErrCorpusTooSmall, idx)
	}
	a, b := truncate(pair.a, pair.b, limit)

	size := p.cfg.MaxSeqLen
	ex := &Example{
		Tokens:     make(types.Tokens, 0, size),
		TokenTypes: make([]uint8, size),
		PadMask:    make([]uint8, size),
		LossMask:   make([]uint8, size),
		Label:      pair.label,
		Sources:    pair.sources,
	}
	ex.Tokens = append(ex.Tokens, p.cfg.ClsToken)
	ex.Tokens = append(ex.Tokens, a...)
	ex.Tokens = append(ex.Tokens, p.cfg.SepToken)
	bStart := len(ex.Tokens)
	ex.Tokens = append(ex.Tokens, b...)
	ex.Tokens = append(ex.Tokens, p.cfg.SepToken)
	used := len(ex.Tokens)
	for pos := bStart; pos < used; pos++ {
		ex.TokenTypes[pos] = 1
	}
	for pos := used; pos < size; pos++ {
		ex.PadMask[pos] = 1
	}
	ex.Tokens = padRight(ex.Tokens, size, p.cfg.PadToken)

	if p.cfg.MaskLMProb > 0 {
		p.maskTokens(rng, ex, len(a), len(b), used)
	}
	return ex, nil
}

// maskTokens
// Picks prediction positions among the A and B tokens and corrupts them:
// 80% become MaskToken, 10% a random token, 10% stay as they are.
func (p *SentencePair) maskTokens(rng *rand.Rand, ex *Example, lenA int,
	lenB int, used int) {
	candidates := make([]int, 0, lenA+lenB)
	for i := 0; i < lenA; i++ {
		candidates = append(candidates, i+1)
	}
	for i := 0; i < lenB; i++ {
		candidates = append(candidates, i+2+lenA)
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	count := max(1, int(math.Round(float64(used)*p.cfg.MaskLMProb)))
	if p.cfg.MaxPredsPerSeq > 0 {
		count = min(count, p.cfg.MaxPredsPerSeq)
	}
	positions := candidates[:min(count, len(candidates))]
	sort.Ints(positions)

	for _, pos := range positions {
		label := ex.Tokens[pos]
		if rng.Float64() < 0.8 {
			ex.Tokens[pos] = p.cfg.MaskToken
		} else if rng.Float64() >= 0.5 && p.cfg.VocabSize > 0 {
			ex.Tokens[pos] = types.Token(rng.Intn(p.cfg.VocabSize))
		}
		ex.LossMask[pos] = 1
		ex.MaskPositions = append(ex.MaskPositions, pos)
		ex.MaskLabels = append(ex.MaskLabels, label)
	}
}
