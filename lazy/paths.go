package lazy

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	storeSuffix = ".lazy"
	indexSuffix = ".len"
	tmpSuffix   = ".tmp"
)

// StoreDir
// Returns the directory that holds every stream stored under `path`.
func StoreDir(path string) string {
	return path + storeSuffix
}

// DataPath
// Returns the data blob file for the (path, tag) stream.
func DataPath(path string, tag string) string {
	return filepath.Join(StoreDir(path), tag)
}

// LenPath
// Returns the length index file for the (path, tag) stream. Its presence in
// finalized form is what marks the stream as ready.
func LenPath(path string, tag string) string {
	return DataPath(path, tag) + indexSuffix
}

func checkTag(tag string) error {
	if tag == "" || strings.HasPrefix(tag, ".") ||
		strings.ContainsAny(tag, `/\`) ||
		strings.HasSuffix(tag, indexSuffix) ||
		strings.HasSuffix(tag, tmpSuffix) {
		return fmt.Errorf("lazy: invalid stream tag %q", tag)
	}
	return nil
}
