// Package normalize cleans extracted document text and user queries.
//
// Every transform is total: it never fails and maps "" to "".
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	hyphenWrap     = regexp.MustCompile(`([\p{L}\p{N}_])-\s+([\p{L}\p{N}_])`)
	spaceBeforePun = regexp.MustCompile(`\s+([,.;:!?])`)
	noSpaceAfter   = regexp.MustCompile(`([,.;:!?])(\S)`)
	queryStrip     = regexp.MustCompile(`[^\p{L}\p{N}_\s\-'"]`)
)

// Document normalizes running text: collapses whitespace (newlines included),
// joins words split by a line-wrap hyphen, fixes spacing around punctuation and
// collapses runs of four or more identical characters to two.
func Document(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	s := CollapseWhitespace(text)
	s = hyphenWrap.ReplaceAllString(s, "$1$2")
	s = spaceBeforePun.ReplaceAllString(s, "$1")
	s = noSpaceAfter.ReplaceAllString(s, "$1 $2")
	s = CollapseRuns(s, 4, 2)
	return strings.TrimSpace(s)
}

// Query normalizes a search query: lower-cases, replaces punctuation other than
// hyphens, apostrophes and quotes with spaces, and drops one-character tokens
// that are not letters.
func Query(q string) string {
	if strings.TrimSpace(q) == "" {
		return ""
	}
	s := CollapseWhitespace(strings.ToLower(q))
	s = queryStrip.ReplaceAllString(s, " ")
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if utf8.RuneCountInString(w) > 1 || isAlpha(w) {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// CollapseWhitespace trims s and replaces every run of whitespace with one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CollapseRuns replaces every run of at least minRun identical runes with keep copies.
func CollapseRuns(s string, minRun, keep int) string {
	if s == "" || minRun <= 1 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	run := 0
	flush := func() {
		n := run
		if run >= minRun {
			n = keep
		}
		for i := 0; i < n; i++ {
			b.WriteRune(prev)
		}
	}
	for i, r := range s {
		if i > 0 && r == prev {
			run++
			continue
		}
		if run > 0 {
			flush()
		}
		prev, run = r, 1
	}
	if run > 0 {
		flush()
	}
	return b.String()
}

func isAlpha(w string) bool {
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return w != ""
}
