package extractor

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	ierrors "github.com/customeros/rfqstack/internal/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractText(filename string, data []byte, charsetLabel string) (string, error) {
	text, err := decodeText(data, charsetLabel)
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}
	return text, nil
}

// decodeText converts data to UTF-8 using the declared charset, or a best guess.
func decodeText(data []byte, charsetLabel string) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	if charsetLabel != "" {
		reader, err := charset.NewReaderLabel(charsetLabel, bytes.NewReader(data))
		if err == nil {
			decoded, err := io.ReadAll(reader)
			if err != nil {
				return "", err
			}
			return string(decoded), nil
		}
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	encoding, _, _ := charset.DetermineEncoding(data, "text/plain")
	decoded, err := encoding.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
