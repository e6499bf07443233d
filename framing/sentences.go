//go:build !wasip1 && !js

package framing

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

// SplitSentences segments `text` into sentences with prose.
func SplitSentences(text string) ([]string, error) {
	doc, err := prose.NewDocument(
		text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return nil, err
	}
	sentences := make([]string, 0, len(doc.Sentences()))
	for _, sentence := range doc.Sentences() {
		if s := strings.TrimSpace(sentence.Text); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences, nil
}
