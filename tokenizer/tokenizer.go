// Package tokenizer adapts encoders to the encode/decode capability the
// stores, views and framing transforms consume.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wbrown/gpt_bpe"
	"github.com/wbrown/lazy_corpus/types"
)

// Tokenizer is a deterministic text <-> token id mapping.
type Tokenizer interface {
	Encode(text string) types.Tokens
	Decode(tokens types.Tokens) string
}

// Vocabulary is implemented by tokenizers that know their vocabulary size.
type Vocabulary interface {
	VocabSize() int
}

// New
// Returns the tokenizer for `id`: "bytes" for the byte-level tokenizer,
// anything else is resolved as a gpt_bpe vocabulary.
func New(id string) (Tokenizer, error) {
	if id == "bytes" {
		return Bytes{}, nil
	}
	return NewBPE(id)
}

// BPE wraps a gpt_bpe encoder.
type BPE struct {
	VocabId string
	encoder *gpt_bpe.GPTEncoder
}

// NewBPE
// Loads a gpt_bpe vocabulary. Internal references such as "gpt2" are tried
// as "gpt2-tokenizer" first, then `vocabId` is used as is (a path or a
// HuggingFace id).
func NewBPE(vocabId string) (*BPE, error) {
	encoder, err := gpt_bpe.NewEncoder(vocabId + "-tokenizer")
	if err != nil {
		var fallbackErr error
		encoder, fallbackErr = gpt_bpe.NewEncoder(vocabId)
		if fallbackErr != nil {
			return nil, fmt.Errorf("tokenizer: cannot load %q: %w", vocabId,
				errors.Join(err, fallbackErr))
		}
	}
	return &BPE{VocabId: vocabId, encoder: encoder}, nil
}

func (b *BPE) Encode(text string) types.Tokens {
	encoded := b.encoder.Encode(&text)
	if encoded == nil {
		return types.Tokens{}
	}
	tokens := make(types.Tokens, len(*encoded))
	for idx, t := range *encoded {
		tokens[idx] = types.Token(t)
	}
	return tokens
}

func (b *BPE) Decode(tokens types.Tokens) string {
	encoded := make(gpt_bpe.Tokens, len(tokens))
	for idx, t := range tokens {
		encoded[idx] = gpt_bpe.Token(t)
	}
	return b.encoder.Decode(&encoded)
}

func (b *BPE) VocabSize() int {
	return len(b.encoder.Encoder)
}

func (b *BPE) EosToken() types.Token {
	return types.Token(b.encoder.EosToken)
}

func (b *BPE) PadToken() types.Token {
	return types.Token(b.encoder.PadToken)
}

// Special
// Resolves `s` to a single token, either by vocabulary lookup or by
// encoding it and checking that exactly one token comes back. An escaped
// "\n" is accepted for a newline.
func (b *BPE) Special(s string) (types.Token, error) {
	s = strings.ReplaceAll(s, "\\n", "\n")
	if token := b.encoder.Get(s); token != nil {
		return types.Token(*token), nil
	}
	tokens := b.Encode(s)
	if len(tokens) != 1 {
		return 0, fmt.Errorf("tokenizer: '%s' is not a single token for %s",
			s, b.VocabId)
	}
	return tokens[0], nil
}

// Bytes
// A byte-level tokenizer: every byte is its own token, with a handful of
// control tokens above the byte range. It needs no vocabulary files.
type Bytes struct{}

const (
	BytesEos types.Token = 256 + iota
	BytesPad
	BytesCls
	BytesSep
	BytesMask
	bytesVocabSize
)

func (Bytes) Encode(text string) types.Tokens {
	tokens := make(types.Tokens, len(text))
	for idx := 0; idx < len(text); idx++ {
		tokens[idx] = types.Token(text[idx])
	}
	return tokens
}

// Decode drops control tokens.
func (Bytes) Decode(tokens types.Tokens) string {
	buf := make([]byte, 0, len(tokens))
	for _, t := range tokens {
		if t < 256 {
			buf = append(buf, byte(t))
		}
	}
	return string(buf)
}

func (Bytes) VocabSize() int {
	return int(bytesVocabSize)
}
