// Package extract turns raw document bytes into plain text for the ingestion
// pipeline. Formats are looked up by file extension or MIME type.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ErrExtractionFailed wraps every failure returned by Extract.
var ErrExtractionFailed = errors.New("extraction failed")

// Func extracts text from the raw bytes of one format.
type Func func(content []byte) (string, error)

// mimeFormats maps MIME types onto the format keys used by the registry.
var mimeFormats = map[string]string{
	"text/plain":               "txt",
	"text/markdown":            "md",
	"text/x-markdown":          "md",
	"text/x-rst":               "rst",
	"text/csv":                 "txt",
	"application/pdf":          "pdf",
	"application/octet-stream": "",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.oasis.opendocument.presentation":                           "odp",
	"application/vnd.oasis.opendocument.spreadsheet":                            "ods",
}

// Extractor dispatches to a per-format Func.
type Extractor struct {
	formats map[string]Func
	logger  *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor returns an Extractor with plain text, PDF, DOCX, XLSX, PPTX,
// ODP and ODS registered.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		formats: map[string]Func{
			"txt":  extractPlain,
			"md":   extractPlain,
			"rst":  extractPlain,
			"pdf":  extractPDF,
			"docx": extractDOCX,
			"xlsx": extractExcel,
			"pptx": extractPPTX,
			"odp":  extractODF,
			"ods":  extractODF,
		},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Register adds or replaces the extractor for a format key (e.g. "html").
func (e *Extractor) Register(format string, fn Func) {
	e.formats[strings.ToLower(strings.TrimPrefix(format, "."))] = fn
}

// Formats returns the registered format keys, sorted.
func (e *Extractor) Formats() []string {
	out := make([]string, 0, len(e.formats))
	for k := range e.formats {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Extract returns the text of content. contentType is either a file extension
// (".pdf", "pdf") or a MIME type ("application/pdf; charset=binary").
// Unknown types are accepted as plain text when the bytes are valid UTF-8.
func (e *Extractor) Extract(ctx context.Context, content []byte, contentType string) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	format := formatOf(contentType)
	fn, ok := e.formats[format]
	if !ok {
		if !utf8.Valid(content) {
			return "", fmt.Errorf("%w: unsupported content type %q", ErrExtractionFailed, contentType)
		}
		e.logger.Debug("unknown content type, reading as text", zap.String("content_type", contentType))
		fn = extractPlain
		format = "txt"
	}

	// Some parsers panic on malformed input.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %s: %v", ErrExtractionFailed, format, r)
		}
	}()
	text, err = fn(content)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExtractionFailed, format, err)
	}
	return text, nil
}

// formatOf normalizes a content type or extension into a registry key.
func formatOf(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(ct, "/") {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			ct = mt
		}
		return mimeFormats[ct]
	}
	return strings.TrimPrefix(ct, ".")
}
