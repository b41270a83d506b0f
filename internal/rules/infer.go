package rules

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"fabricsync/internal"
	"fabricsync/internal/util"
)

// DefaultMaxRows is how many leading rows are scanned for a header.
const DefaultMaxRows = 20

// minHeaderScore is the number of distinct roles a row must name to count as a header.
const minHeaderScore = 2

// Keywords that identify each column role in a header cell. Matching is on
// the case-folded cell text; single-word keywords of five or more runes also
// match a header token one edit away ("колекция").
var Keywords = map[internal.ColumnRole][]string{
	internal.RoleCollection:      {"коллекция", "collection", "наименование", "название", "ткань", "модель", "артикул"},
	internal.RoleColorNumber:     {"цвет", "color", "colour", "номер", "оттенок", "№"},
	internal.RoleInStock:         {"наличие", "в наличии", "stock", "availability", "статус"},
	internal.RoleMeterage:        {"метраж", "остаток", "метров", "кол-во", "количество", "qty", "meters"},
	internal.RolePrice:           {"цена", "price", "стоимость", "руб"},
	internal.RoleComment:         {"комментарий", "примечание", "comment", "note"},
	internal.RoleNextArrivalDate: {"поступление", "приход", "ожидается", "arrival", "eta"},
}

type Options struct {
	MaxRows       int
	StockSentinel float64
	Now           time.Time
}

// Suggest finds the most header-like row among the first maxRows rows and maps
// its cells to roles. It returns a nil header when no row names at least two roles.
func Suggest(grid internal.Grid, maxRows int) (map[internal.ColumnRole]int, *int) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if maxRows > len(grid) {
		maxRows = len(grid)
	}

	bestRow, bestScore := -1, 0
	var best map[internal.ColumnRole]int
	for r := 0; r < maxRows; r++ {
		mapping := mapHeaderRow(grid[r])
		if len(mapping) > bestScore {
			bestRow, bestScore, best = r, len(mapping), mapping
		}
	}
	if bestScore < minHeaderScore {
		return map[internal.ColumnRole]int{}, nil
	}
	return best, &bestRow
}

// Infer produces a provisional rule set from a sample grid. The result is not
// confirmed; callers keep it behind the guided Q&A step.
func Infer(supplier string, grid internal.Grid, opts Options) (*internal.ExtractionRuleSet, error) {
	mapping, header := Suggest(grid, opts.MaxRows)
	if header == nil {
		return nil, &internal.RuleMissingError{Supplier: supplier, Reason: "no header row found among the first rows"}
	}
	if _, ok := mapping[internal.RoleCollection]; !ok {
		return nil, &internal.RuleMissingError{Supplier: supplier, Reason: "header row has no collection column"}
	}

	rs := &internal.ExtractionRuleSet{
		ColumnMappings: mapping,
		HeaderRow:      header,
		SkipPatterns:   []string{`(?i)^итого`, `(?i)^всего`, `(?i)^total`},
		UpdatedAt:      opts.Now,
	}
	for r := 0; r <= *header; r++ {
		rs.SkipRows = append(rs.SkipRows, r)
	}
	rs.SpecialRules.StockSentinel = opts.StockSentinel
	if _, ok := mapping[internal.RoleColorNumber]; !ok {
		rs.SpecialRules.SplitCompound = true
	}
	if _, ok := mapping[internal.RoleInStock]; !ok {
		if _, ok := mapping[internal.RoleMeterage]; ok {
			rs.SpecialRules.MeterageIsStock = true
		}
	}
	return rs, nil
}

// mapHeaderRow assigns each role at most one column and each column at most
// one role; exact keyword hits are placed before fuzzy ones.
func mapHeaderRow(row []string) map[internal.ColumnRole]int {
	cells := make([]string, len(row))
	for i, c := range row {
		cells[i] = util.NormalizeKey(c)
	}

	mapping := map[internal.ColumnRole]int{}
	claimed := map[int]bool{}
	for _, fuzzy := range []bool{false, true} {
		for _, role := range internal.AllRoles {
			if _, done := mapping[role]; done {
				continue
			}
			for col, cell := range cells {
				if cell == "" || claimed[col] {
					continue
				}
				if matchesRole(cell, role, fuzzy) {
					mapping[role] = col
					claimed[col] = true
					break
				}
			}
		}
	}
	return mapping
}

func matchesRole(cell string, role internal.ColumnRole, fuzzy bool) bool {
	for _, kw := range Keywords[role] {
		if !fuzzy {
			if strings.Contains(cell, kw) {
				return true
			}
			continue
		}
		if strings.Contains(kw, " ") || utf8.RuneCountInString(kw) < 5 {
			continue
		}
		for _, tok := range util.Tokenize(cell) {
			if levenshtein.ComputeDistance(tok, kw) <= 1 {
				return true
			}
		}
	}
	return false
}
