package corpora

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const maxLineSize = 64 * 1024 * 1024

// JSONLinesReader
// Reads documents from JSON lines files, one Document object per line.
// Blank lines are skipped. Files are read in the order given.
type JSONLinesReader struct {
	Paths []string
}

func parseDocumentLine(line string, path string, lineNo int) (*Document,
	error) {
	var doc Document
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return nil, fmt.Errorf("%s: invalid JSON at line %d: %w", path,
			lineNo, err)
	}
	if doc.Text == "" && doc.Prompt == "" && len(doc.Segments) == 0 {
		return nil, fmt.Errorf("%s: line %d has no content", path, lineNo)
	}
	return &doc, nil
}

func (r JSONLinesReader) Documents(ctx context.Context) (DocumentIterator,
	error) {
	if len(r.Paths) == 0 {
		return nil, fmt.Errorf("corpora: JSON lines reader has no paths")
	}
	for _, path := range r.Paths {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}

	var (
		pathIdx int
		file    *os.File
		scanner *bufio.Scanner
		lineNo  int
	)
	return func() (*Document, error) {
		for {
			if err := ctx.Err(); err != nil {
				if file != nil {
					file.Close()
					file, scanner = nil, nil
				}
				return nil, err
			}
			if scanner == nil {
				if pathIdx >= len(r.Paths) {
					return nil, nil
				}
				var err error
				if file, err = os.Open(r.Paths[pathIdx]); err != nil {
					return nil, err
				}
				scanner = bufio.NewScanner(file)
				scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
				lineNo = 0
			}
			if !scanner.Scan() {
				err := scanner.Err()
				file.Close()
				file, scanner = nil, nil
				if err != nil {
					return nil, fmt.Errorf("%s: %w", r.Paths[pathIdx], err)
				}
				pathIdx++
				continue
			}
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			doc, err := parseDocumentLine(line, r.Paths[pathIdx], lineNo)
			if err != nil {
				file.Close()
				file, scanner = nil, nil
				pathIdx = len(r.Paths)
				return nil, err
			}
			return doc, nil
		}
	}, nil
}
