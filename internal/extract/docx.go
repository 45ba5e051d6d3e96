package extract

import (
	"archive/zip"
	"fmt"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// wtTag matches <w:t>text</w:t> with any attributes.
	wtTag = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	// wpTag matches one paragraph body. Neither <w:pPr> nor a self-closing
	// <w:p/> opens a match.
	wpTag = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*[^/])?>(.*?)</w:p>`)

	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// docxMainPart reads the main document path from [Content_Types].xml, falling
// back to word/document.xml.
func docxMainPart(zr *zip.Reader) string {
	ct, err := readPart(zr, contentTypesPath)
	if err != nil || ct == nil {
		return docxDocumentXMLPath
	}
	for _, re := range []*regexp.Regexp{partNameRe, partNameRe2} {
		if m := re.FindSubmatch(ct); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDocumentXMLPath
}

// extractDOCX reads the <w:t> runs of each <w:p> paragraph. Runs are joined
// directly since Word splits words across runs; paragraphs are separated by
// a blank line.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", err
	}
	docPath := docxMainPart(zr)
	docXML, err := readPart(zr, docPath)
	if err != nil {
		return "", err
	}
	if docXML == nil {
		return "", fmt.Errorf("%s not found", docPath)
	}

	var paras []string
	for _, p := range wpTag.FindAllStringSubmatch(string(docXML), -1) {
		if t := innerText(wtTag, p[1], ""); t != "" {
			paras = append(paras, t)
		}
	}
	if len(paras) == 0 {
		return innerText(wtTag, string(docXML), " "), nil
	}
	return strings.Join(paras, "\n\n"), nil
}
