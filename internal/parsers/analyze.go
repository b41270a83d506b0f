package parsers

import (
	"fabricsync/internal"
	"fabricsync/internal/rules"
)

// Analyze returns sample rows and suggested columns for the rule-editing UI.
// It never persists anything. A stored mapping is echoed back; otherwise the
// header heuristic is consulted.
func Analyze(grid internal.Grid, rs *internal.ExtractionRuleSet, maxRows int) internal.Analysis {
	if maxRows <= 0 {
		maxRows = rules.DefaultMaxRows
	}
	n := maxRows
	if n > len(grid) {
		n = len(grid)
	}
	sample := make([][]string, n)
	for i := 0; i < n; i++ {
		sample[i] = append([]string(nil), grid[i]...)
	}

	an := internal.Analysis{SampleRows: sample}
	if rs != nil && len(rs.ColumnMappings) > 0 {
		an.SuggestedColumns = map[internal.ColumnRole]int{}
		for k, v := range rs.ColumnMappings {
			an.SuggestedColumns[k] = v
		}
		an.HeaderRow = rs.HeaderRow
		return an
	}
	an.SuggestedColumns, an.HeaderRow = rules.Suggest(grid, maxRows)
	return an
}
