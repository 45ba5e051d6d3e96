package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/hyperjump/ingestd/internal/models"
	"github.com/ledongthuc/pdf"
)

// pageSeparator keeps each page its own paragraph and marks the boundary.
const pageSeparator = "\n\n" + models.PageBreak + "\n\n"

// extractPDF returns the plain text of every page joined by pageSeparator.
// Empty pages keep their slot so page numbers stay aligned.
func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	pages := make([]string, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		pages[i-1] = strings.TrimSpace(text)
	}
	if strings.TrimSpace(strings.Join(pages, "")) == "" {
		return "", nil
	}
	return strings.Join(pages, pageSeparator), nil
}
