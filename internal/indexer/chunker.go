// Package indexer splits normalized documents into chunks and keeps the lexical
// and vector backends in step for each document.
package indexer

import (
	"regexp"
	"strings"

	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/normalize"
)

const (
	defaultMaxFallbackChars = 500
	defaultTokensPerWord    = 1.3
	fallbackTokenCap        = 150
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// Chunker splits text into paragraph chunks.
type Chunker struct {
	// MaxFallbackChars bounds the single chunk produced when no paragraph survives.
	MaxFallbackChars int
	// TokensPerWord estimates tokens from whitespace-separated words.
	TokensPerWord float64
	// MaxChunks caps the number of chunks per document; 0 means unlimited.
	MaxChunks int
	// Normalize is applied to each paragraph. Defaults to normalize.Document.
	Normalize func(string) string
}

// NewChunker returns a chunker with the default settings.
func NewChunker() *Chunker {
	return &Chunker{
		MaxFallbackChars: defaultMaxFallbackChars,
		TokensPerWord:    defaultTokensPerWord,
		Normalize:        normalize.Document,
	}
}

// Build splits text on blank lines and returns one chunk per non-empty paragraph with
// dense chunk ids starting at "0000". text should still carry its line structure; each
// paragraph is normalized on its own. Blank text yields no chunks.
//
// When text contains models.PageBreak markers, chunks carry the 1-based page they
// came from. Otherwise pages are left unset.
func (c *Chunker) Build(docID, text string, tags models.Tags) []*models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	norm := c.Normalize
	if norm == nil {
		norm = normalize.Document
	}

	pages := strings.Split(text, models.PageBreak)
	paged := len(pages) > 1

	var chunks []*models.Chunk
	var section []string
pages:
	for i, pageText := range pages {
		page := 0
		if paged {
			page = i + 1
		}
		for _, para := range paragraphBreak.Split(pageText, -1) {
			raw := strings.TrimSpace(para)
			if raw == "" {
				continue
			}
			if heading, ok := headingOf(raw); ok {
				section = []string{heading}
			}
			body := norm(raw)
			if body == "" {
				continue
			}
			if c.MaxChunks > 0 && len(chunks) >= c.MaxChunks {
				break pages
			}
			ch := c.newChunk(docID, len(chunks), body, isTable(raw), section, tags, c.tokens(body))
			if page > 0 {
				ch.PageStart, ch.PageEnd = intPtr(page), intPtr(page)
			}
			chunks = append(chunks, ch)
		}
	}

	if len(chunks) == 0 {
		body := truncateRunes(norm(text), c.maxFallback())
		if body == "" {
			return nil
		}
		tokens := c.tokens(body)
		if tokens > fallbackTokenCap {
			tokens = fallbackTokenCap
		}
		chunks = append(chunks, c.newChunk(docID, 0, body, false, nil, tags, tokens))
	}
	return chunks
}

func (c *Chunker) newChunk(docID string, ordinal int, text string, table bool, section []string, tags models.Tags, tokens float64) *models.Chunk {
	sectionPath := []string{}
	if len(section) > 0 {
		sectionPath = append(sectionPath, section...)
	}
	return &models.Chunk{
		DocID:       docID,
		ChunkID:     models.ChunkOrdinal(ordinal),
		Text:        text,
		IsTable:     table,
		SectionPath: sectionPath,
		TokensEst:   tokens,
		Metadata:    tags.Clone(),
	}
}

func intPtr(n int) *int { return &n }

func (c *Chunker) tokens(text string) float64 {
	perWord := c.TokensPerWord
	if perWord <= 0 {
		perWord = defaultTokensPerWord
	}
	return float64(len(strings.Fields(text))) * perWord
}

func (c *Chunker) maxFallback() int {
	if c.MaxFallbackChars <= 0 {
		return defaultMaxFallbackChars
	}
	return c.MaxFallbackChars
}

// headingOf returns the text of a markdown heading on the paragraph's first line.
func headingOf(para string) (string, bool) {
	first, _, _ := strings.Cut(para, "\n")
	first = strings.TrimSpace(first)
	if !strings.HasPrefix(first, "#") {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimLeft(first, "#"))
	if title == "" {
		return "", false
	}
	return title, true
}

// isTable reports whether every line of a multi-line paragraph is tab or pipe delimited.
func isTable(para string) bool {
	lines := strings.Split(para, "\n")
	if len(lines) < 2 {
		return false
	}
	for _, line := range lines {
		if !strings.ContainsAny(line, "\t|") {
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
