package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"fabricsync/internal"
)

const (
	sampleSheet  = "sample"
	columnsSheet = "columns"
)

// ExportAnalysisXLSX writes sample rows and the suggested column mapping for
// the rule-editing collaborator. The header row, if known, is highlighted.
func ExportAnalysisXLSX(an internal.Analysis, outputPath string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sampleSheet); err != nil {
		return err
	}
	width := 0
	for _, row := range an.SampleRows {
		if len(row) > width {
			width = len(row)
		}
	}

	cell, _ := excelize.CoordinatesToCellName(1, 1)
	_ = f.SetCellValue(sampleSheet, cell, "row")
	for c := 0; c < width; c++ {
		cell, _ := excelize.CoordinatesToCellName(c+2, 1)
		_ = f.SetCellValue(sampleSheet, cell, "col "+strconv.Itoa(c))
	}
	for i, row := range an.SampleRows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sampleSheet, cell, value)
		}
		set(1, i)
		for c, v := range row {
			set(c+2, v)
		}
	}
	if an.HeaderRow != nil && width > 0 {
		style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return err
		}
		from, _ := excelize.CoordinatesToCellName(1, *an.HeaderRow+2)
		to, _ := excelize.CoordinatesToCellName(width+1, *an.HeaderRow+2)
		_ = f.SetCellStyle(sampleSheet, from, to, style)
	}

	if _, err := f.NewSheet(columnsSheet); err != nil {
		return err
	}
	for i, h := range []string{"role", "column", "header"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(columnsSheet, cell, h)
	}
	roles := make([]string, 0, len(an.SuggestedColumns))
	for role := range an.SuggestedColumns {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	for i, role := range roles {
		r := i + 2
		col := an.SuggestedColumns[internal.ColumnRole(role)]
		header := ""
		if an.HeaderRow != nil && *an.HeaderRow < len(an.SampleRows) && col < len(an.SampleRows[*an.HeaderRow]) {
			header = an.SampleRows[*an.HeaderRow][col]
		}
		for c, v := range []any{role, col, header} {
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			_ = f.SetCellValue(columnsSheet, cell, v)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
