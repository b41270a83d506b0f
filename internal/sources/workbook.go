package sources

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"fabricsync/internal"
	"fabricsync/internal/util"
)

var biffMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// IsLegacyXLS reports a BIFF (pre-2007) workbook.
func IsLegacyXLS(body []byte) bool {
	return bytes.HasPrefix(body, biffMagic)
}

// WorkbookGrid reads the named worksheet, or the first one when sheet is empty.
// Merged and missing cells read as blank strings.
func WorkbookGrid(body []byte, sheet string) (internal.Grid, error) {
	if IsLegacyXLS(body) {
		return nil, &internal.SourceFormatError{
			Source: "workbook",
			Reason: "legacy .xls workbook; re-export as .xlsx or publish through Google Sheets",
		}
	}

	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, &internal.SourceUnavailableError{Source: "workbook", Err: fmt.Errorf("open workbook: %w", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &internal.SourceFormatError{Source: "workbook", Reason: "workbook has no worksheets"}
	}

	target := sheets[0]
	if sheet != "" {
		target = ""
		for _, name := range sheets {
			if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(sheet)) {
				target = name
				break
			}
		}
		if target == "" {
			return nil, &internal.SourceFormatError{
				Source: "workbook",
				Reason: fmt.Sprintf("worksheet %q not found", sheet),
				Found:  sheets,
			}
		}
	}

	rows, err := f.GetRows(target)
	if err != nil {
		return nil, &internal.SourceFormatError{Source: "workbook", Reason: err.Error(), Found: sheets}
	}

	grid := make(internal.Grid, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = util.NormalizeSpaces(util.CleanSpaces(c))
		}
		grid = append(grid, cells)
	}
	return grid, nil
}
