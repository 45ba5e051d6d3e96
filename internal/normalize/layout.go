package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Options tunes StripRepeatingLines.
type Options struct {
	Threshold   int // occurrences at which a line counts as repeating
	MinLineLen  int // a repeating line must be longer than this to be removed
	MinCountLen int // only lines longer than this are counted at all
	MinTextLen  int // texts shorter than this are returned unchanged
	MinLines    int // texts with fewer lines are returned unchanged
}

// DefaultOptions returns the standard header/footer detection settings.
func DefaultOptions() Options {
	return Options{
		Threshold:   3,
		MinLineLen:  10,
		MinCountLen: 5,
		MinTextLen:  50,
		MinLines:    10,
	}
}

// StripRepeatingLines removes page headers and footers: trimmed lines that occur at
// least Threshold times. Short texts and texts with few lines are left alone.
func StripRepeatingLines(text string, opts Options) string {
	if text == "" || utf8.RuneCountInString(text) < opts.MinTextLen {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < opts.MinLines {
		return text
	}

	counts := make(map[string]int)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if utf8.RuneCountInString(trimmed) > opts.MinCountLen {
			counts[trimmed]++
		}
	}
	repeating := make(map[string]struct{})
	for line, n := range counts {
		if n >= opts.Threshold && utf8.RuneCountInString(line) > opts.MinLineLen {
			repeating[line] = struct{}{}
		}
	}
	if len(repeating) == 0 {
		return text
	}

	kept := lines[:0:0]
	for _, line := range lines {
		if _, drop := repeating[strings.TrimSpace(line)]; !drop {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

var (
	numberedItem = regexp.MustCompile(`^(\d+)[.)]?\s+(.*)$`)
	bulletItem   = regexp.MustCompile(`^[•\-*]\s+`)
	indentedItem = regexp.MustCompile(`^\s{2,}\S`)
	numberedLead = regexp.MustCompile(`^\s*\d+[.)]`)
	nestedItem   = regexp.MustCompile(`^  - \S`)
)

// ListsToMarkdown rewrites numbered items as "N. x", bullets (•, -, *) as "- x" and
// other indented lines as nested "  - x" items. Blank lines and lines already in the
// nested form are kept as they are, so a second pass changes nothing.
func ListsToMarkdown(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			out = append(out, line)
			continue
		}
		if nestedItem.MatchString(line) {
			out = append(out, line)
			continue
		}
		if m := numberedItem.FindStringSubmatch(stripped); m != nil {
			out = append(out, m[1]+". "+m[2])
			continue
		}
		if loc := bulletItem.FindStringIndex(stripped); loc != nil {
			out = append(out, "- "+stripped[loc[1]:])
			continue
		}
		if indentedItem.MatchString(line) && !numberedLead.MatchString(line) &&
			!strings.HasPrefix(stripped, "-") && !strings.HasPrefix(stripped, "*") {
			out = append(out, "  - "+stripped)
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
