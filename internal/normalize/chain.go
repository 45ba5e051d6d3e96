package normalize

import "strings"

// Transform is one text-to-text step of a Chain.
type Transform struct {
	Name  string
	Apply func(string) string
}

// Chain applies transforms in order. Order matters: header stripping and list
// conversion need line structure, which Document collapses.
type Chain []Transform

// DefaultChain returns strip-headers, lists-to-markdown, document normalization.
func DefaultChain(opts Options) Chain {
	return append(LayoutChain(opts), Transform{Name: "document", Apply: Document})
}

// LayoutChain returns the line-preserving prefix of the default chain.
func LayoutChain(opts Options) Chain {
	return Chain{
		{Name: "strip_repeating", Apply: func(s string) string { return StripRepeatingLines(s, opts) }},
		{Name: "lists_to_markdown", Apply: ListsToMarkdown},
	}
}

// Apply runs every transform. Blank input short-circuits to "".
func (c Chain) Apply(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	for _, t := range c {
		text = t.Apply(text)
	}
	return text
}

// Names returns the transform names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, t := range c {
		names[i] = t.Name
	}
	return names
}
