package lazy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/wbrown/lazy_corpus/types"
)

const (
	indexMagic      = "LZIX"
	indexVersion    = uint16(1)
	indexHeaderSize = 16
	indexTrailer    = 8
	flagIsArray     = uint8(1)
)

// Index
// The length index of one stream: a count and the length of every record,
// in elements (tokens for array stores, bytes for text stores).
type Index struct {
	IsArray bool
	Width   types.Width
	Lengths []uint64
}

// Count returns the number of records described by the index.
func (idx *Index) Count() int {
	return len(idx.Lengths)
}

// ElemSize returns the byte size of one element in the data blob.
func (idx *Index) ElemSize() int {
	if !idx.IsArray {
		return 1
	}
	return int(idx.Width)
}

// Offsets
// Returns the prefix sums of the lengths, one more entry than there are
// records; record i spans elements [offsets[i], offsets[i+1]).
func (idx *Index) Offsets() []uint64 {
	offsets := make([]uint64, len(idx.Lengths)+1)
	for i, l := range idx.Lengths {
		offsets[i+1] = offsets[i] + l
	}
	return offsets
}

// MarshalBinary encodes the index header, lengths and checksum.
func (idx *Index) MarshalBinary() ([]byte, error) {
	if idx.IsArray && !idx.Width.Valid() {
		return nil, fmt.Errorf("lazy: invalid index width %d", idx.Width)
	}
	buf := make([]byte, indexHeaderSize+8*len(idx.Lengths)+indexTrailer)
	copy(buf, indexMagic)
	binary.LittleEndian.PutUint16(buf[4:], indexVersion)
	var flags uint8
	width := uint8(1)
	if idx.IsArray {
		flags |= flagIsArray
		width = uint8(idx.Width)
	}
	buf[6] = flags
	buf[7] = width
	binary.LittleEndian.PutUint64(buf[8:], uint64(len(idx.Lengths)))
	pos := indexHeaderSize
	for _, l := range idx.Lengths {
		binary.LittleEndian.PutUint64(buf[pos:], l)
		pos += 8
	}
	binary.LittleEndian.PutUint64(buf[pos:], xxhash.Sum64(buf[:pos]))
	return buf, nil
}

// UnmarshalBinary decodes and verifies an encoded index.
func (idx *Index) UnmarshalBinary(buf []byte) error {
	count, err := parseIndexHeader(buf, int64(len(buf)))
	if err != nil {
		return err
	}
	end := indexHeaderSize + 8*int(count)
	if sum := binary.LittleEndian.Uint64(buf[end:]); sum != xxhash.Sum64(buf[:end]) {
		return fmt.Errorf("%w: index checksum mismatch", ErrNotReady)
	}
	idx.IsArray = buf[6]&flagIsArray != 0
	idx.Width = types.Width(buf[7])
	if !idx.IsArray {
		idx.Width = 0
	}
	idx.Lengths = make([]uint64, count)
	for i := range idx.Lengths {
		idx.Lengths[i] = binary.LittleEndian.Uint64(
			buf[indexHeaderSize+8*i:])
	}
	return nil
}

// parseIndexHeader validates the header against the total file size and
// returns the record count.
func parseIndexHeader(header []byte, size int64) (uint64, error) {
	if len(header) < indexHeaderSize || string(header[:4]) != indexMagic {
		return 0, fmt.Errorf("%w: bad index header", ErrNotReady)
	}
	if version := binary.LittleEndian.Uint16(header[4:]); version != indexVersion {
		return 0, fmt.Errorf("lazy: unsupported index version %d", version)
	}
	if header[6]&flagIsArray != 0 && !types.Width(header[7]).Valid() {
		return 0, fmt.Errorf("%w: bad index width %d", ErrNotReady, header[7])
	}
	count := binary.LittleEndian.Uint64(header[8:])
	if count > uint64(size) {
		return 0, fmt.Errorf("%w: index truncated", ErrNotReady)
	}
	if want := int64(indexHeaderSize + 8*count + indexTrailer); want != size {
		return 0, fmt.Errorf("%w: index is %d bytes, expected %d",
			ErrNotReady, size, want)
	}
	return count, nil
}

// ReadIndex
// Loads the finalized length index of the (path, tag) stream. A missing,
// partial or corrupt file is reported as ErrNotReady.
func ReadIndex(path string, tag string) (*Index, error) {
	lenPath := LenPath(path, tag)
	buf, err := os.ReadFile(lenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrNotReady, lenPath)
	} else if err != nil {
		return nil, err
	}
	idx := &Index{}
	if err := idx.UnmarshalBinary(buf); err != nil {
		return nil, fmt.Errorf("%s: %w", lenPath, err)
	}
	return idx, nil
}

// Exists
// Reports whether the (path, tag) stream has a finalized index whose size
// and checksum are valid.
func Exists(path string, tag string) bool {
	_, err := ReadIndex(path, tag)
	return err == nil
}

// Invalidate
// Removes the finalized index of the (path, tag) stream so that it reads as
// not ready. The data blob is left for the next writer to truncate.
func Invalidate(path string, tag string) error {
	if err := checkTag(tag); err != nil {
		return err
	}
	err := os.Remove(LenPath(path, tag))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// writeIndex writes the index next to its final name, syncs it, and renames
// it into place so readers never observe a partially written index.
func writeIndex(path string, tag string, idx *Index) (err error) {
	buf, err := idx.MarshalBinary()
	if err != nil {
		return err
	}
	lenPath := LenPath(path, tag)
	tmpPath := lenPath + tmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err = f.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, lenPath); err != nil {
		return err
	}
	return syncDir(filepath.Dir(lenPath))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Directory fsync is unsupported on some platforms.
	_ = d.Sync()
	return nil
}
