package sources

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"fabricsync/internal"
	"fabricsync/internal/util"
)

func isCSV(doc internal.Document) bool {
	if strings.EqualFold(filepath.Ext(doc.Name), ".csv") {
		return true
	}
	return strings.Contains(strings.ToLower(doc.ContentType), "text/csv")
}

// CSVGrid reads a delimited export. The delimiter is sniffed from the first
// lines: tab, semicolon or comma, whichever appears on most of them.
func CSVGrid(body []byte, encoding string) (internal.Grid, error) {
	text := DecodeText(body, encoding)
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var grid internal.Grid
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &internal.SourceFormatError{Source: "csv", Reason: fmt.Sprintf("read csv: %v", err)}
		}
		blank := true
		for i := range rec {
			rec[i] = util.NormalizeSpaces(util.CleanSpaces(rec[i]))
			if rec[i] != "" {
				blank = false
			}
		}
		if !blank {
			grid = append(grid, rec)
		}
	}
	return grid, nil
}

func sniffDelimiter(text string) rune {
	lines := splitLines(text)
	if len(lines) > 10 {
		lines = lines[:10]
	}
	best, bestScore := ',', 0
	for _, d := range []rune{'\t', ';', ','} {
		score := 0
		for _, line := range lines {
			if strings.ContainsRune(line, d) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}
