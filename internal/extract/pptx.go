package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// atTag matches <a:t>text</a:t> with any attributes.
var atTag = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)

var slidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX emits one paragraph per slide, in slide order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", err
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePath.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var out []string
	for _, s := range slides {
		data, err := readPart(zr, s.name)
		if err != nil {
			return "", err
		}
		if t := innerText(atTag, string(data), " "); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, "\n\n"), nil
}
