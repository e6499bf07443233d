package corpora

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/yargevad/filepathx"
)

type PathInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// GlobTexts
// Given a directory path, recursively finds all `.txt` files, returning a
// slice of PathInfo.
func GlobTexts(dirPath string) (pathInfos []PathInfo, err error) {
	textPaths, err := filepathx.Glob(dirPath + "/**/*.txt")
	if err != nil {
		return nil, err
	}
	if len(textPaths) == 0 {
		return nil, fmt.Errorf("%s does not contain any .txt files", dirPath)
	}
	pathInfos = make([]PathInfo, 0, len(textPaths))
	for _, currPath := range textPaths {
		stat, statErr := os.Stat(currPath)
		if statErr != nil {
			return nil, statErr
		}
		if stat.IsDir() {
			continue
		}
		pathInfos = append(pathInfos, PathInfo{
			Path:    currPath,
			Size:    stat.Size(),
			ModTime: stat.ModTime(),
		})
	}
	return pathInfos, nil
}

// SortPathInfos
// Orders `pathInfos` in place according to `sortSpec`. An empty spec keeps
// glob order.
func SortPathInfos(pathInfos []PathInfo, sortSpec string, seed int64) error {
	switch sortSpec {
	case "", "none":
	case "size_ascending":
		sort.SliceStable(pathInfos, func(i, j int) bool {
			return pathInfos[i].Size < pathInfos[j].Size
		})
	case "size_descending":
		sort.SliceStable(pathInfos, func(i, j int) bool {
			return pathInfos[i].Size > pathInfos[j].Size
		})
	case "path_ascending":
		sort.Slice(pathInfos, func(i, j int) bool {
			return pathInfos[i].Path < pathInfos[j].Path
		})
	case "path_descending":
		sort.Slice(pathInfos, func(i, j int) bool {
			return pathInfos[i].Path > pathInfos[j].Path
		})
	case "random":
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(pathInfos), func(i, j int) {
			pathInfos[i], pathInfos[j] = pathInfos[j], pathInfos[i]
		})
	default:
		return fmt.Errorf("invalid sort spec: %s", sortSpec)
	}
	return nil
}

// TextDirReader
// Reads every `.txt` file below Dir as one document. Prompt-shaped corpora
// get an empty prompt.
type TextDirReader struct {
	Dir      string
	Sanitize bool
	Sort     string
	Seed     int64
	Logger   *log.Logger
}

// Documents
// Globs the directory and returns an iterator over its files. Files are read
// ahead on a goroutine while the prior one is being consumed.
func (r TextDirReader) Documents(ctx context.Context) (DocumentIterator,
	error) {
	matches, err := GlobTexts(r.Dir)
	if err != nil {
		return nil, err
	}
	if err = SortPathInfos(matches, r.Sort, r.Seed); err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}

	type loaded struct {
		path string
		doc  *Document
		err  error
	}
	docs := make(chan loaded, 4)
	go func() {
		defer close(docs)
		for _, match := range matches {
			item := loaded{path: match.Path}
			if raw, readErr := os.ReadFile(match.Path); readErr != nil {
				item.err = readErr
			} else {
				text := string(raw)
				if r.Sanitize {
					text = SanitizeText(text)
				}
				item.doc = &Document{Text: text}
			}
			select {
			case docs <- item:
			case <-ctx.Done():
				return
			}
			if item.err != nil {
				return
			}
		}
	}()

	return func() (*Document, error) {
		select {
		case item, ok := <-docs:
			if !ok {
				return nil, ctx.Err()
			}
			if item.err != nil {
				return nil, item.err
			}
			logger.Print("Reading ", item.path)
			return item.doc, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil
}

// NewestText
// Given a directory, recursively scans and returns the newest `.txt` file.
func NewestText(dirPath string) (*PathInfo, error) {
	matches, err := GlobTexts(dirPath)
	if err != nil {
		return nil, err
	}
	var newest *PathInfo
	for idx := range matches {
		if newest == nil || newest.ModTime.Before(matches[idx].ModTime) {
			newest = &matches[idx]
		}
	}
	return newest, nil
}
