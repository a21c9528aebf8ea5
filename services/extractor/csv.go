package extractor

import (
	"encoding/csv"
	"io"
	"strings"

	ierrors "github.com/customeros/rfqstack/internal/errors"
)

func extractCSV(filename string, data []byte, charsetLabel string) (string, error) {
	decoded, err := decodeText(data, charsetLabel)
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}

	reader := csv.NewReader(strings.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.Comma = detectDelimiter(decoded)

	var lines []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
		}
		if line := joinCells(record); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// detectDelimiter picks between comma, semicolon and tab from the first line.
func detectDelimiter(text string) rune {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	best, bestCount := ',', strings.Count(first, ",")
	for _, candidate := range []rune{';', '\t'} {
		if n := strings.Count(first, string(candidate)); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}
