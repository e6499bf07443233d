package lazy

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/lazy_corpus/types"
)

const writeBufSz = 8 * 1024 * 1024

// Writer
// Streams records of one (path, tag) stream into its data blob and keeps
// the per-record lengths in memory until Close finalizes the index.
//
// A Writer does not guard against other writers on the same stream; only
// the builder elected by the coordinator may open one.
type Writer struct {
	Logger *log.Logger

	path      string
	tag       string
	isArray   bool
	width     types.Width
	blob      *os.File
	buf       *bufio.Writer
	lengths   []uint64
	written   uint64
	scratch   []byte
	closed    bool
	finalized bool
}

// NewWriter
// Creates the (path, tag) stream, truncating any earlier data blob and
// removing any earlier index so that the stream reads as not ready until
// Close. `width` only applies to array stores; 0 selects
// types.DefaultWidth.
func NewWriter(path string, tag string, isArray bool,
	width types.Width) (*Writer, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}
	if isArray {
		if width == 0 {
			width = types.DefaultWidth
		} else if !width.Valid() {
			return nil, fmt.Errorf("lazy: invalid token width %d", width)
		}
	} else {
		width = 0
	}
	if err := os.MkdirAll(StoreDir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.Remove(LenPath(path, tag)); err != nil &&
		!errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	blob, err := os.OpenFile(DataPath(path, tag),
		os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		path:    path,
		tag:     tag,
		isArray: isArray,
		width:   width,
		blob:    blob,
		buf:     bufio.NewWriterSize(blob, writeBufSz),
		lengths: make([]uint64, 0, 1024),
	}, nil
}

// Tag returns the stream tag the writer was opened for.
func (w *Writer) Tag() string {
	return w.tag
}

// IsArray reports whether the stream holds token arrays.
func (w *Writer) IsArray() bool {
	return w.isArray
}

// Len returns the number of records appended so far.
func (w *Writer) Len() int {
	return len(w.lengths)
}

// AppendText appends one raw text record.
func (w *Writer) AppendText(text string) error {
	if w.closed {
		return ErrClosed
	}
	if w.isArray {
		return fmt.Errorf("%w: text record for array stream %q",
			ErrTypeMismatch, w.tag)
	}
	n, err := w.buf.WriteString(text)
	if err != nil {
		return err
	}
	w.record(uint64(n), n)
	return nil
}

// AppendTokens appends one token array record.
func (w *Writer) AppendTokens(tokens types.Tokens) error {
	if w.closed {
		return ErrClosed
	}
	if !w.isArray {
		return fmt.Errorf("%w: token record for text stream %q",
			ErrTypeMismatch, w.tag)
	}
	size := len(tokens) * int(w.width)
	if cap(w.scratch) < size {
		w.scratch = make([]byte, size)
	}
	bin := w.scratch[:size]
	if err := tokens.PutBin(bin, w.width); err != nil {
		return err
	}
	if _, err := w.buf.Write(bin); err != nil {
		return err
	}
	w.record(uint64(len(tokens)), size)
	return nil
}

func (w *Writer) record(length uint64, size int) {
	w.lengths = append(w.lengths, length)
	w.written += uint64(size)
	recordsWritten.WithLabelValues(w.tag).Inc()
	bytesWritten.WithLabelValues(w.tag).Add(float64(size))
}

// Close
// Flushes and syncs the data blob, then writes the finalized length index.
// Writing the index is always the last action, as its existence is the
// stream's completion signal.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		w.blob.Close()
		return err
	}
	if err := w.blob.Sync(); err != nil {
		w.blob.Close()
		return err
	}
	if err := w.blob.Close(); err != nil {
		return err
	}
	idx := &Index{IsArray: w.isArray, Width: w.width, Lengths: w.lengths}
	if err := writeIndex(w.path, w.tag, idx); err != nil {
		return err
	}
	w.finalized = true
	w.logger().Printf("Finalized %s: %s records, %s",
		DataPath(w.path, w.tag), humanize.Comma(int64(len(w.lengths))),
		humanize.Bytes(w.written))
	return nil
}

// Abort
// Discards a stream that will not be finalized, removing its data blob. It
// also cleans up after a Close that failed.
func (w *Writer) Abort() error {
	if w.finalized {
		return ErrClosed
	}
	var closeErr error
	if !w.closed {
		w.closed = true
		closeErr = w.blob.Close()
	}
	for _, name := range []string{
		DataPath(w.path, w.tag), LenPath(w.path, w.tag) + tmpSuffix,
	} {
		if err := os.Remove(name); err != nil &&
			!errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return closeErr
}

func (w *Writer) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}
