package extractor

import (
	"bytes"
	"strings"

	"github.com/xuri/excelize/v2"

	ierrors "github.com/customeros/rfqstack/internal/errors"
)

func extractXLSX(filename string, data []byte, _ string) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}
	defer book.Close()

	var sb strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
		}
		if len(rows) == 0 {
			continue
		}

		sb.WriteString("## ")
		sb.WriteString(sheet)
		sb.WriteString("\n")
		for _, row := range rows {
			line := joinCells(row)
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// joinCells tab-joins a row, dropping trailing empty cells. An all-empty row yields "".
func joinCells(cells []string) string {
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}
	if end == 0 {
		return ""
	}
	trimmed := make([]string, end)
	for i := 0; i < end; i++ {
		trimmed[i] = strings.Join(strings.Fields(cells[i]), " ")
	}
	return strings.Join(trimmed, "\t")
}
