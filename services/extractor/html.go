package extractor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	ierrors "github.com/customeros/rfqstack/internal/errors"
)

var blockSelectors = "p, div, li, h1, h2, h3, h4, h5, h6, tr, section, article, blockquote, pre"

func extractHTML(filename string, data []byte, charsetLabel string) (string, error) {
	contentType := "text/html"
	if charsetLabel != "" {
		contentType += "; charset=" + charsetLabel
	}
	reader, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return "", &ierrors.CorruptFileError{Filename: filename, Err: err}
	}
	return HTMLDocumentText(doc), nil
}

// HTMLDocumentText flattens a document into lines. Table rows become
// tab-joined cells and scripts, styles and head content are dropped.
func HTMLDocumentText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, head, template").Remove()

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
		})
		row.ReplaceWithNodes(textNode("\n" + joinCells(cells) + "\n"))
	})

	doc.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithNodes(textNode("\n"))
	})
	doc.Find(blockSelectors).Each(func(_ int, block *goquery.Selection) {
		block.AppendNodes(textNode("\n"))
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, "\t") {
			out = append(out, strings.TrimSpace(line))
			continue
		}
		out = append(out, strings.Join(strings.Fields(line), " "))
	}
	return strings.Join(out, "\n")
}

func textNode(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}
