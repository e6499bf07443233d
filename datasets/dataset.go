// Package datasets composes record sources: a common Dataset interface,
// concatenation, and reproducible train/val/test splits over index views.
package datasets

import (
	"errors"
	"fmt"
	"io"

	"github.com/wbrown/lazy_corpus/types"
)

var (
	ErrOutOfRange   = errors.New("datasets: index out of range")
	ErrInvalidSplit = errors.New("datasets: invalid split")
)

// Sample
// One tokenized document. LossMask has one entry per token, 1 where the
// token contributes to the loss. PromptLen counts leading prompt tokens.
type Sample struct {
	Tokens    types.Tokens
	LossMask  []uint8
	PromptLen int
}

// Dataset is an indexable sequence of samples sharing one schema.
type Dataset interface {
	Len() int
	Get(i int) (Sample, error)
}

// DocLener
// Implemented by datasets that can report a document's token count without
// decoding it.
type DocLener interface {
	DocLen(i int) (int, error)
}

// DocLen returns the token count of document i, decoding it if the dataset
// cannot answer cheaply.
func DocLen(ds Dataset, i int) (int, error) {
	if dl, ok := ds.(DocLener); ok {
		return dl.DocLen(i)
	}
	sample, err := ds.Get(i)
	if err != nil {
		return 0, err
	}
	return len(sample.Tokens), nil
}

// DocLens returns the token count of every document.
func DocLens(ds Dataset) ([]int, error) {
	lens := make([]int, ds.Len())
	for i := range lens {
		n, err := DocLen(ds, i)
		if err != nil {
			return nil, err
		}
		lens[i] = n
	}
	return lens, nil
}

func checkIndex(i int, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i, n)
	}
	return nil
}

// Decoder turns tokens back into text.
type Decoder interface {
	Decode(tokens types.Tokens) string
}

// WriteDecoded
// Writes every sample of `ds` as decoded text, one document per line.
func WriteDecoded(w io.Writer, ds Dataset, dec Decoder) error {
	for i := 0; i < ds.Len(); i++ {
		sample, err := ds.Get(i)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, dec.Decode(sample.Tokens)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// sliceDataset holds samples in memory.
type sliceDataset []Sample

// FromTokens
// Builds an in-memory dataset where every token carries loss. It is handy
// for small corpora and tests.
func FromTokens(docs ...types.Tokens) Dataset {
	ds := make(sliceDataset, len(docs))
	for i, doc := range docs {
		mask := make([]uint8, len(doc))
		for j := range mask {
			mask[j] = 1
		}
		ds[i] = Sample{Tokens: doc, LossMask: mask}
	}
	return ds
}

func (ds sliceDataset) Len() int {
	return len(ds)
}

func (ds sliceDataset) Get(i int) (Sample, error) {
	if err := checkIndex(i, len(ds)); err != nil {
		return Sample{}, err
	}
	return ds[i], nil
}
