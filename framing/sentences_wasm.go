//go:build wasip1 || js

package framing

import (
	"regexp"
	"strings"
)

var sentencePat = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

// SplitSentences cuts `text` after terminal punctuation; prose is not
// available on this platform.
func SplitSentences(text string) ([]string, error) {
	sentences := make([]string, 0)
	for _, match := range sentencePat.FindAllString(text, -1) {
		if s := strings.TrimSpace(match); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences, nil
}
