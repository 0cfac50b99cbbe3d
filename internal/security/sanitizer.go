package security

import (
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRunRe = regexp.MustCompile(`\s+`)

// SanitizePatchText normalizes raw patch text before it enters the segment
// processor: strips null bytes and control characters (keeping newlines,
// tabs, and carriage returns), collapses whitespace runs, and trims.
// Complexity: O(n) where n is the length of input
func SanitizePatchText(input string) string {
	sanitized := removeNullBytes(input)
	sanitized = removeControlCharacters(sanitized)
	sanitized = whitespaceRunRe.ReplaceAllString(sanitized, " ")
	return strings.TrimSpace(sanitized)
}

func removeControlCharacters(input string) string {
	return strings.Map(func(r rune) rune {
		// Keep newlines, tabs, and carriage returns
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		// Remove other control characters
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

func removeNullBytes(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}
