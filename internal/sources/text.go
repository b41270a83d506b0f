package sources

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"fabricsync/internal"
	"fabricsync/internal/util"
)

var reWideGap = regexp.MustCompile(`\s{2,}`)

// DecodeText returns UTF-8 text. encoding may be "utf-8", "windows-1251"
// (alias "cp1251") or empty for detection: bytes that are not valid UTF-8
// are read as Windows-1251.
func DecodeText(body []byte, encoding string) string {
	body = bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})
	enc := strings.ToLower(strings.TrimSpace(encoding))
	useCP1251 := enc == "windows-1251" || enc == "cp1251" || (enc == "" && !utf8.Valid(body))
	if useCP1251 {
		if decoded, err := charmap.Windows1251.NewDecoder().Bytes(body); err == nil {
			return string(decoded)
		}
	}
	return string(body)
}

// TextGrid splits a plain-text list into rows; cells are separated by tabs,
// semicolons or runs of two or more spaces, in that order of preference.
func TextGrid(body []byte, encoding string) internal.Grid {
	return linesGrid(splitLines(DecodeText(body, encoding)))
}

func linesGrid(lines []string) internal.Grid {
	grid := make(internal.Grid, 0, len(lines))
	for _, line := range lines {
		var cells []string
		switch {
		case strings.Contains(line, "\t"):
			cells = strings.Split(line, "\t")
		case strings.Contains(line, ";"):
			cells = strings.Split(line, ";")
		default:
			cells = reWideGap.Split(line, -1)
		}
		for i := range cells {
			cells[i] = util.NormalizeSpaces(util.CleanSpaces(cells[i]))
		}
		grid = append(grid, cells)
	}
	return grid
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimRight(p, " "))
		}
	}
	return out
}
