package types

import "fmt"

type Token uint32
type Tokens []Token

// Width
// Number of bytes a single token occupies in an array store.
type Width uint8

const (
	Width16 Width = 2
	Width32 Width = 4
)

// DefaultWidth is used when a caller does not ask for a specific width.
const DefaultWidth = Width32

// Valid reports whether w is a width the codec can read and write.
func (w Width) Valid() bool {
	return w == Width16 || w == Width32
}

func (w Width) String() string {
	switch w {
	case Width16:
		return "uint16"
	case Width32:
		return "uint32"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(w))
	}
}

// WidthFor
// Returns the narrowest width that can hold every id of a vocabulary of
// `vocabSize` entries.
func WidthFor(vocabSize int) Width {
	if vocabSize <= 65536 {
		return Width16
	}
	return Width32
}
