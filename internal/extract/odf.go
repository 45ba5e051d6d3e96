package extract

import (
	"fmt"
	"regexp"
)

const odfContentPath = "content.xml"

// odfText matches text:h, text:p and text:span elements whose body has no
// nested markup, in document order.
var odfText = regexp.MustCompile(`<text:(?:h|p|span)(?:\s[^>]*)?>([^<]*)</text:(?:h|p|span)>`)

// extractODF reads content.xml of an OpenDocument presentation or
// spreadsheet, one line per text element.
func extractODF(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", err
	}
	data, err := readPart(zr, odfContentPath)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", fmt.Errorf("%s not found", odfContentPath)
	}
	return innerText(odfText, string(data), "\n"), nil
}
