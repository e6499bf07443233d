package lazy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/wbrown/lazy_corpus/types"
)

// MapFunc post-processes decoded text records.
type MapFunc func(string) string

// Reader
// Random access over a finalized stream. The data blob is memory mapped and
// only the length index is loaded, so the store size is not bounded by
// process memory.
//
// Stores are immutable once finalized, so any number of goroutines and
// processes may read concurrently without locking. Close must not race
// with reads.
type Reader struct {
	path     string
	tag      string
	index    *Index
	offsets  []uint64
	elemSize int
	file     *os.File
	data     []byte
	unmap    func() error
	mapFn    MapFunc
}

// OpenReader
// Opens the finalized (path, tag) stream. `mapFn` may be nil. An index that
// is missing or disagrees with the data blob yields ErrNotReady, never an
// empty store.
func OpenReader(path string, tag string, isArray bool,
	mapFn MapFunc) (*Reader, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}
	index, err := ReadIndex(path, tag)
	if err != nil {
		return nil, err
	}
	if index.IsArray != isArray {
		return nil, fmt.Errorf("%w: stream %q has isArray=%v, opened with %v",
			ErrTypeMismatch, tag, index.IsArray, isArray)
	}
	offsets := index.Offsets()
	elemSize := index.ElemSize()
	wantSize := int64(offsets[len(offsets)-1]) * int64(elemSize)

	dataPath := DataPath(path, tag)
	file, err := os.Open(dataPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrNotReady, dataPath)
	} else if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if stat.Size() < wantSize {
		file.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, index expects %d",
			ErrNotReady, dataPath, stat.Size(), wantSize)
	}
	r := &Reader{
		path:     path,
		tag:      tag,
		index:    index,
		offsets:  offsets,
		elemSize: elemSize,
		file:     file,
		mapFn:    mapFn,
		unmap:    func() error { return nil },
	}
	// Zero-length files cannot be mapped.
	if stat.Size() > 0 {
		data, unmap, mapErr := mapFile(file)
		if mapErr != nil {
			file.Close()
			return nil, mapErr
		}
		r.data = data
		r.unmap = unmap
	}
	storesOpened.WithLabelValues(tag).Inc()
	return r, nil
}

func (r *Reader) Tag() string {
	return r.tag
}

func (r *Reader) IsArray() bool {
	return r.index.IsArray
}

// Width returns the token width of an array stream, 0 for text streams.
func (r *Reader) Width() types.Width {
	return r.index.Width
}

// Len returns the number of records in the store.
func (r *Reader) Len() int {
	return r.index.Count()
}

// Lengths returns the length index. The slice must not be modified.
func (r *Reader) Lengths() []uint64 {
	return r.index.Lengths
}

// RecordLen
// Returns the length of record i in elements: tokens for array stores,
// bytes for text stores.
func (r *Reader) RecordLen(i int) (int, error) {
	if err := r.check(i); err != nil {
		return 0, err
	}
	return int(r.index.Lengths[i]), nil
}

// Raw
// Returns the encoded bytes of record i. The slice aliases the mapped file
// and is only valid until Close.
func (r *Reader) Raw(i int) ([]byte, error) {
	if err := r.check(i); err != nil {
		return nil, err
	}
	start := r.offsets[i] * uint64(r.elemSize)
	end := r.offsets[i+1] * uint64(r.elemSize)
	return r.data[start:end:end], nil
}

// Text
// Decodes record i of a text store as UTF-8, replacing invalid sequences,
// and applies the reader's MapFunc.
func (r *Reader) Text(i int) (string, error) {
	if r.index.IsArray {
		return "", fmt.Errorf("%w: Text on array stream %q",
			ErrTypeMismatch, r.tag)
	}
	raw, err := r.Raw(i)
	if err != nil {
		return "", err
	}
	text := strings.ToValidUTF8(string(raw), "\uFFFD")
	if r.mapFn != nil {
		text = r.mapFn(text)
	}
	return text, nil
}

// Tokens decodes record i of an array store straight from the mapped region.
func (r *Reader) Tokens(i int) (types.Tokens, error) {
	if !r.index.IsArray {
		return nil, fmt.Errorf("%w: Tokens on text stream %q",
			ErrTypeMismatch, r.tag)
	}
	raw, err := r.Raw(i)
	if err != nil {
		return nil, err
	}
	return types.TokensFromBin(raw, r.index.Width), nil
}

func (r *Reader) check(i int) error {
	if r.file == nil {
		return ErrClosed
	}
	if i < 0 || i >= r.index.Count() {
		return fmt.Errorf("%w: %d not in [0, %d) of stream %q",
			ErrOutOfRange, i, r.index.Count(), r.tag)
	}
	return nil
}

// Close unmaps the data blob and closes its file.
func (r *Reader) Close() error {
	if r.file == nil {
		return ErrClosed
	}
	unmapErr := r.unmap()
	closeErr := r.file.Close()
	r.file = nil
	r.data = nil
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}
