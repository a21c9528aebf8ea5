package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	ierrors "github.com/customeros/rfqstack/internal/errors"
)

const docxBodyPart = "word/document.xml"

func extractDOCX(filename string, data []byte, _ string) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}

	var body *zip.File
	for _, f := range archive.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: errors.New("missing " + docxBodyPart)}
	}

	rc, err := body.Open()
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}
	defer rc.Close()

	text, err := walkDocumentXML(rc)
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}
	return text, nil
}

// walkDocumentXML emits one line per paragraph and one tab-joined line per table row.
func walkDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var (
		lines      []string
		para       strings.Builder
		cell       strings.Builder
		row        []string
		tableDepth int
		inText     bool
	)

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				row = row[:0]
			case "tc":
				cell.Reset()
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				if tableDepth > 0 {
					para.WriteByte(' ')
				} else {
					para.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if tableDepth > 0 {
					if text != "" {
						if cell.Len() > 0 {
							cell.WriteByte(' ')
						}
						cell.WriteString(text)
					}
				} else if text != "" {
					lines = append(lines, text)
				}
			case "tc":
				row = append(row, cell.String())
			case "tr":
				if line := joinCells(row); line != "" {
					lines = append(lines, line)
				}
			case "tbl":
				if tableDepth > 0 {
					tableDepth--
				}
			}
		}
	}

	return strings.Join(lines, "\n"), nil
}
