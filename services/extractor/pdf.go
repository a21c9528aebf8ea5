package extractor

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"

	ierrors "github.com/customeros/rfqstack/internal/errors"
)

func extractPDF(filename string, data []byte, _ string) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
		}
		pages = append(pages, strings.TrimSpace(text))
	}

	// form feed between pages
	return strings.Join(pages, "\n\f\n"), nil
}
