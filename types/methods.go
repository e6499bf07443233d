package types

import (
	"encoding/binary"
	"fmt"
)

// ToBin
// Packs the tokens as little-endian integers of the given width.
func (tokens Tokens) ToBin(width Width) ([]byte, error) {
	buf := make([]byte, len(tokens)*int(width))
	if err := tokens.PutBin(buf, width); err != nil {
		return nil, err
	}
	return buf, nil
}

// PutBin
// Packs the tokens into `buf`, which must hold len(tokens)*width bytes.
func (tokens Tokens) PutBin(buf []byte, width Width) error {
	if !width.Valid() {
		return fmt.Errorf("invalid token width %d", width)
	}
	if len(buf) < len(tokens)*int(width) {
		return fmt.Errorf("buffer of %d bytes too small for %d tokens",
			len(buf), len(tokens))
	}
	switch width {
	case Width16:
		for idx, t := range tokens {
			if t > 65535 {
				return fmt.Errorf("integer overflow: tried to write "+
					"token ID %d as unsigned 16-bit", t)
			}
			binary.LittleEndian.PutUint16(buf[idx*2:], uint16(t))
		}
	case Width32:
		for idx, t := range tokens {
			binary.LittleEndian.PutUint32(buf[idx*4:], uint32(t))
		}
	}
	return nil
}

// TokensFromBin
// Decodes little-endian integers of the given width. Trailing bytes that do
// not make up a whole token are ignored.
func TokensFromBin(bin []byte, width Width) Tokens {
	if !width.Valid() {
		return nil
	}
	count := len(bin) / int(width)
	tokens := make(Tokens, count)
	switch width {
	case Width16:
		for idx := range tokens {
			tokens[idx] = Token(binary.LittleEndian.Uint16(bin[idx*2:]))
		}
	case Width32:
		for idx := range tokens {
			tokens[idx] = Token(binary.LittleEndian.Uint32(bin[idx*4:]))
		}
	}
	return tokens
}

// Clone returns a copy that does not alias the receiver.
func (tokens Tokens) Clone() Tokens {
	if tokens == nil {
		return nil
	}
	out := make(Tokens, len(tokens))
	copy(out, tokens)
	return out
}
