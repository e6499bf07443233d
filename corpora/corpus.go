// Package corpora declares named corpora, builds their lazy stores, and
// joins aligned streams back into tokenized samples.
package corpora

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownCorpus is returned for names that were never registered.
	ErrUnknownCorpus = errors.New("corpora: unknown corpus")
	// ErrStreamMisalignment is returned when aligned streams disagree on
	// record count or content size.
	ErrStreamMisalignment = errors.New("corpora: stream misalignment")
)

// Shape
// Declares which pair of streams a corpus produces. Loaders switch on it to
// pick the writers to create and the view to construct.
type Shape int

const (
	ShapeInvalid Shape = iota
	// ShapePromptText stores a "prompt" and a "text" stream.
	ShapePromptText
	// ShapeMaskText stores a "text" stream and a "mask" stream of
	// alternating run lengths.
	ShapeMaskText
)

const (
	TagPrompt = "prompt"
	TagText   = "text"
	TagMask   = "mask"
)

// Tags returns the stream tags of the shape in the order they are closed.
func (s Shape) Tags() []string {
	switch s {
	case ShapePromptText:
		return []string{TagPrompt, TagText}
	case ShapeMaskText:
		return []string{TagText, TagMask}
	default:
		return nil
	}
}

func (s Shape) String() string {
	switch s {
	case ShapePromptText:
		return "prompt+text"
	case ShapeMaskText:
		return "mask+text"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// Segment is a span of a mask-shaped document. Loss marks target spans.
type Segment struct {
	Text string `json:"text"`
	Loss bool   `json:"loss"`
}

// Document
// One raw corpus item. Prompt-shaped corpora fill Prompt and Text;
// mask-shaped corpora fill Segments, or Text alone for a document that is
// entirely loss-bearing.
type Document struct {
	Prompt   string    `json:"prompt,omitempty"`
	Text     string    `json:"text,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// DocumentIterator
// Yields documents one at a time and returns nil, nil once exhausted.
type DocumentIterator func() (*Document, error)

// CorpusReader iterates the raw documents of a corpus.
type CorpusReader interface {
	Documents(ctx context.Context) (DocumentIterator, error)
}

// Corpus
// A named corpus: where its store lives, what shape it has and how to read
// its raw documents.
type Corpus struct {
	Name   string
	Path   string
	Shape  Shape
	Reader CorpusReader
}

// Registry
// Maps corpus names to declarations. It is an ordinary value handed to the
// loader, so tests and jobs can hold different registries.
type Registry struct {
	mu      sync.RWMutex
	corpora map[string]Corpus
}

func NewRegistry() *Registry {
	return &Registry{corpora: make(map[string]Corpus)}
}

// Register adds `c`; names must be unique.
func (r *Registry) Register(c Corpus) error {
	if c.Name == "" || c.Path == "" {
		return fmt.Errorf("corpora: corpus needs a name and a path")
	}
	if c.Shape.Tags() == nil {
		return fmt.Errorf("corpora: corpus %q has invalid shape %v",
			c.Name, c.Shape)
	}
	if c.Reader == nil {
		return fmt.Errorf("corpora: corpus %q has no reader", c.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.corpora[c.Name]; ok {
		return fmt.Errorf("corpora: corpus %q already registered", c.Name)
	}
	r.corpora[c.Name] = c
	return nil
}

// Lookup returns the declaration of `name` or ErrUnknownCorpus.
func (r *Registry) Lookup(name string) (Corpus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.corpora[name]
	if !ok {
		return Corpus{}, fmt.Errorf("%w: %q is not supported", ErrUnknownCorpus,
			name)
	}
	return c, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.corpora))
	for name := range r.corpora {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
