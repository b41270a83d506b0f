package sources

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"fabricsync/internal"
)

// PDFGrid extracts the text layer of a PDF price list line by line.
// Scanned PDFs without a text layer yield an empty grid.
func PDFGrid(content []byte) (internal.Grid, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &internal.SourceUnavailableError{Source: "pdf", Err: fmt.Errorf("open pdf: %w", err)}
	}

	lines := []string{}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			text, perr := p.GetPlainText(nil)
			if perr != nil {
				continue
			}
			lines = append(lines, splitLines(text)...)
			continue
		}
		for _, row := range rows {
			var b strings.Builder
			prevX := -1.0
			for _, word := range row.Content {
				// a wide horizontal jump separates columns
				if prevX >= 0 && word.X-prevX > word.FontSize*2 {
					b.WriteString("  ")
				}
				b.WriteString(word.S)
				prevX = word.X + word.W
			}
			if line := strings.TrimSpace(b.String()); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return linesGrid(lines), nil
}
