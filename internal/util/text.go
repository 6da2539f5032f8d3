package util

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// ContainsAnyFold returns true if text contains any of the needles (case-insensitive).
func ContainsAnyFold(text string, needles []string) bool {
	lt := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(lt, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// Tokenize splits on spaces and punctuation.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	repl := strings.NewReplacer(
		",", " ", ".", " ", "!", " ", "?", " ", ":", " ", ";", " ",
		"\n", " ", "\t", " ", "\r", " ", "(", " ", ")", " ", "[", " ", "]", " ",
	)
	s = repl.Replace(s)
	return strings.Fields(s)
}

// TruncateWithSuffix returns body+suffix fitted into limit runes. The suffix is
// always kept whole; the body is cut to make room. Truncation is preferred over
// refusing to produce output.
func TruncateWithSuffix(body, suffix string, limit int) string {
	br := []rune(body)
	sr := []rune(suffix)
	if len(sr) >= limit {
		return string(sr[:limit])
	}
	room := limit - len(sr)
	if len(br) > room {
		br = br[:room]
	}
	return strings.TrimRight(string(br), " ") + string(sr)
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
