package tokenizer

import "github.com/wbrown/lazy_corpus/types"

// SpecialTokens are the control tokens the framing transforms insert.
type SpecialTokens struct {
	Eos  types.Token
	Pad  types.Token
	Cls  types.Token
	Sep  types.Token
	Mask types.Token
}

// Specials
// Returns the control tokens of `tok`. BERT-style tokens missing from a BPE
// vocabulary fall back to its EOS token.
func Specials(tok Tokenizer) SpecialTokens {
	switch t := tok.(type) {
	case Bytes:
		return SpecialTokens{Eos: BytesEos, Pad: BytesPad, Cls: BytesCls,
			Sep: BytesSep, Mask: BytesMask}
	case *BPE:
		specials := SpecialTokens{Eos: t.EosToken(), Pad: t.PadToken()}
		lookup := func(names ...string) types.Token {
			for _, name := range names {
				if token, err := t.Special(name); err == nil {
					return token
				}
			}
			return specials.Eos
		}
		specials.Cls = lookup("[CLS]", "<s>", "<|startoftext|>")
		specials.Sep = lookup("[SEP]", "</s>", "<|endoftext|>")
		specials.Mask = lookup("[MASK]", "<mask>")
		return specials
	default:
		return SpecialTokens{}
	}
}
