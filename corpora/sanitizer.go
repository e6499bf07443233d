package corpora

import (
	"regexp"
	"strings"
)

var extraWhiteSpace = regexp.MustCompile("[[:space:]]+")

// SanitizeText
// Normalizes scraped text: drops `\r`, collapses blank lines, unescapes
// literal `\n`, pulls colons onto the preceding word, turns tabs into spaces
// and squeezes whitespace runs within each line.
func SanitizeText(text string) string {
	runes := make([]rune, 0, len(text))
	last := rune(0)
	for _, r := range text {
		switch {
		case r == '\r':
			// Silently drop Windows `\r`
			continue
		case r == '\n' && last == '\n':
			// Drop additional newlines.
			continue
		case r == 'n' && last == '\\':
			runes[len(runes)-1] = '\n'
		case r == ':' && last == ' ':
			runes[len(runes)-1] = ':'
		case r == '\t':
			runes = append(runes, ' ')
		default:
			runes = append(runes, r)
		}
		last = runes[len(runes)-1]
	}
	lines := strings.Split(string(runes), "\n")
	for lineIdx := range lines {
		line := extraWhiteSpace.ReplaceAllString(lines[lineIdx], " ")
		lines[lineIdx] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
