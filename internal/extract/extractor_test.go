package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func docxBody(paras ...string) string {
	var b bytes.Buffer
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paras {
		b.WriteString(`<w:p w:rsidR="00A1"><w:pPr><w:pStyle w:val="Normal"/></w:pPr>` + p + `</w:p>`)
	}
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func TestExtract_plain(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name        string
		content     string
		contentType string
		want        string
	}{
		{"txt extension", "Hello world\nLine 2", ".txt", "Hello world\nLine 2"},
		{"bare extension", "caf\xc3\xa9", "md", "café"},
		{"invalid utf8", "hello\x80world", ".rst", "hello\ufffdworld"},
		{"bom", "\xef\xbb\xbfbody", "text/plain", "body"},
		{"mime with params", "x", "text/plain; charset=utf-8", "x"},
		{"unknown type is text", "raw content", ".xyz", "raw content"},
		{"empty type", "raw", "", "raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(context.Background(), []byte(tt.content), tt.contentType)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_unknownBinary(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract(context.Background(), []byte{0xff, 0xfe, 0x00, 0x81}, "application/octet-stream")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
}

func TestExtract_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractor().Extract(ctx, []byte("x"), ".txt")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestExtract_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	if _, err := f.NewSheet("Sheet2"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Sheet2", "A1", "q")
	f.SetCellValue("Sheet2", "B1", "r")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().Extract(context.Background(), buf.Bytes(), "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Title\nValue 1\tValue 2\n\nq\tr" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_docxParagraphs(t *testing.T) {
	content := zipOf(t, map[string]string{
		"word/document.xml": docxBody(
			`<w:r><w:t>Search</w:t></w:r><w:r><w:t xml:space="preserve">able </w:t></w:r><w:r><w:t>docx</w:t></w:r>`,
			`<w:r><w:t>Fish &amp; chips</w:t></w:r>`,
		),
	})
	got, err := NewExtractor().Extract(context.Background(), content, ".docx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Searchable docx\n\nFish & chips" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_docxContentTypes(t *testing.T) {
	tests := []struct {
		name     string
		override string
	}{
		{"part name first", `<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`},
		{"content type first", `<Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := zipOf(t, map[string]string{
				contentTypesPath:     `<?xml version="1.0"?><Types>` + tt.override + `</Types>`,
				"word/document2.xml": docxBody(`<w:r><w:t>Content from document2</w:t></w:r>`),
			})
			got, err := NewExtractor().Extract(context.Background(), content, ".docx")
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != "Content from document2" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtract_docxMissingBody(t *testing.T) {
	content := zipOf(t, map[string]string{"docProps/core.xml": "<x/>"})
	_, err := NewExtractor().Extract(context.Background(), content, ".docx")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestExtract_pptxSlideOrder(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	content := zipOf(t, map[string]string{
		"ppt/slides/slide10.xml":            slide("Tenth"),
		"ppt/slides/slide2.xml":             slide("Second"),
		"ppt/slides/slide1.xml":             slide("First"),
		"ppt/slides/_rels/slide1.xml.rels":  "<Relationships/>",
		"ppt/slideLayouts/slideLayout1.xml": slide("Layout"),
	})
	got, err := NewExtractor().Extract(context.Background(), content, ".pptx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "First\n\nSecond\n\nTenth" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_pptxNotZip(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), []byte("not a zip"), ".pptx")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestExtract_odf(t *testing.T) {
	tests := []struct {
		format string
		xml    string
		want   string
	}{
		{
			"odp",
			`<office:document><office:body><draw:page><text:h>Slide title</text:h><text:p>Body text</text:p></draw:page></office:body></office:document>`,
			"Slide title\nBody text",
		},
		{
			"ods",
			`<office:document><table:table-row><table:table-cell><text:p>Cell A</text:p></table:table-cell><table:table-cell><text:span>Cell B</text:span></table:table-cell></table:table-row></office:document>`,
			"Cell A\nCell B",
		},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			content := zipOf(t, map[string]string{odfContentPath: tt.xml})
			got, err := NewExtractor().Extract(context.Background(), content, tt.format)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_odfContentMissing(t *testing.T) {
	content := zipOf(t, map[string]string{"other.xml": "<x/>"})
	_, err := NewExtractor().Extract(context.Background(), content, ".ods")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestExtract_pdfInvalid(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), []byte("%PDF-1.4 truncated"), "application/pdf")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegister(t *testing.T) {
	e := NewExtractor()
	e.Register(".html", func(b []byte) (string, error) { return "html:" + string(b), nil })
	got, err := e.Extract(context.Background(), []byte("x"), "HTML")
	if err != nil {
		t.Fatal(err)
	}
	if got != "html:x" {
		t.Errorf("got %q", got)
	}
	e.Register("bad", func([]byte) (string, error) { panic("boom") })
	if _, err := e.Extract(context.Background(), nil, "bad"); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("panic not converted: %v", err)
	}
	found := false
	for _, f := range e.Formats() {
		if f == "html" {
			found = true
		}
	}
	if !found {
		t.Errorf("Formats() = %v", e.Formats())
	}
}
