package parsers

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"fabricsync/internal"
	"fabricsync/internal/catalog"
	"fabricsync/internal/util"
)

var reTotals = regexp.MustCompile(`(?i)^(?:итого|всего|total|sum)(?:[^\p{L}]|$)`)

// layout is a rule set resolved against one grid.
type layout struct {
	cols         map[internal.ColumnRole]int
	special      internal.SpecialRules
	skipRows     map[int]bool
	skipPatterns []*regexp.Regexp
	header       []string
	sentinel     float64
	now          time.Time
}

func newLayout(grid internal.Grid, opts Options, defaults map[internal.ColumnRole]int) (*layout, error) {
	l := &layout{cols: defaults, skipRows: map[int]bool{}, now: opts.Now}
	if l.now.IsZero() {
		l.now = time.Now()
	}
	rs := opts.Rules
	if rs != nil {
		if len(rs.ColumnMappings) > 0 {
			l.cols = rs.ColumnMappings
		}
		l.special = rs.SpecialRules
		for _, r := range rs.SkipRows {
			l.skipRows[r] = true
		}
		for _, p := range rs.SkipPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("skip pattern %q: %w", p, err)
			}
			l.skipPatterns = append(l.skipPatterns, re)
		}
		if rs.HeaderRow != nil && *rs.HeaderRow < len(grid) {
			for _, c := range grid[*rs.HeaderRow] {
				l.header = append(l.header, util.NormalizeKey(c))
			}
		}
	}

	switch {
	case l.special.StockSentinel > 0:
		l.sentinel = l.special.StockSentinel
	case opts.DefaultSentinel > 0:
		l.sentinel = opts.DefaultSentinel
	default:
		l.sentinel = DefaultStockSentinel
	}
	return l, nil
}

func parseRules(grid internal.Grid, opts Options) (Result, error) {
	if opts.Rules == nil {
		return Result{}, &internal.RuleMissingError{Reason: "no rule set stored"}
	}
	if opts.Rules.Column(internal.RoleCollection) < 0 && !opts.Rules.SpecialRules.SectionCollections {
		return Result{}, &internal.RuleMissingError{Reason: "rule set has no collection column"}
	}
	l, err := newLayout(grid, opts, nil)
	if err != nil {
		return Result{}, err
	}
	return l.parseTable(grid), nil
}

// parseCompound handles sheets whose first cell holds "collection color".
func parseCompound(grid internal.Grid, opts Options) (Result, error) {
	l, err := newLayout(grid, opts, map[internal.ColumnRole]int{
		internal.RoleCollection: 0,
		internal.RoleInStock:    1,
		internal.RolePrice:      2,
	})
	if err != nil {
		return Result{}, err
	}
	l.special.SplitCompound = true
	return l.parseTable(grid), nil
}

// parseSectioned handles sheets where a one-cell row names the collection for
// the color rows under it.
func parseSectioned(grid internal.Grid, opts Options) (Result, error) {
	l, err := newLayout(grid, opts, map[internal.ColumnRole]int{
		internal.RoleColorNumber: 0,
		internal.RoleInStock:     1,
		internal.RolePrice:       2,
	})
	if err != nil {
		return Result{}, err
	}
	l.special.SectionCollections = true
	return l.parseTable(grid), nil
}

func (l *layout) parseTable(grid internal.Grid) Result {
	res := Result{}
	section := ""
	for r := range grid {
		if l.skipRows[r] {
			continue
		}
		populated := grid.Populated(r)
		if len(populated) == 0 {
			continue
		}
		if l.skipRow(grid[r]) {
			res.Skipped++
			continue
		}
		if l.special.SectionCollections {
			if title, ok := l.sectionTitle(grid, r, populated); ok {
				section = title
				continue
			}
		}
		rec, warns, ok := l.record(grid, r, section)
		if !ok {
			res.Skipped++
			continue
		}
		res.Warnings = append(res.Warnings, warns...)
		res.Records = append(res.Records, rec)
	}
	res.Records = catalog.Dedupe(res.Records)
	return res
}

func (l *layout) skipRow(row []string) bool {
	for _, c := range row {
		if c == "" {
			continue
		}
		for _, re := range l.skipPatterns {
			if re.MatchString(c) {
				return true
			}
		}
	}
	if len(l.header) == 0 {
		return false
	}
	// header repeated on every printed page
	matches := 0
	for i, c := range row {
		if i < len(l.header) && c != "" && util.NormalizeKey(c) == l.header[i] {
			matches++
		}
	}
	return matches >= 2
}

func (l *layout) sectionTitle(grid internal.Grid, r int, populated []int) (string, bool) {
	if len(populated) != 1 {
		return "", false
	}
	col := populated[0]
	cell := grid.Cell(r, col)
	if !util.HasLetters(cell) || reTotals.MatchString(cell) {
		return "", false
	}
	if c, ok := l.cols[internal.RoleColorNumber]; ok && c == col && util.HasDigits(cell) {
		return "", false
	}
	return util.NormalizeSpaces(cell), true
}

func (l *layout) cell(grid internal.Grid, r int, role internal.ColumnRole) (string, bool) {
	c, ok := l.cols[role]
	if !ok || c < 0 {
		return "", false
	}
	return strings.TrimSpace(grid.Cell(r, c)), true
}

// record extracts one row; ok is false when collection or color is missing.
func (l *layout) record(grid internal.Grid, r int, section string) (internal.FabricRecord, []internal.NormalizationWarning, bool) {
	coll, _ := l.cell(grid, r, internal.RoleCollection)
	color, hasColorCol := l.cell(grid, r, internal.RoleColorNumber)
	if l.special.SplitCompound && (!hasColorCol || color == "") {
		coll, color = util.SplitCompound(coll)
	}
	if coll == "" {
		coll = section
	}
	if coll == "" {
		coll = l.special.DefaultCollection
	}
	coll, color = util.NormalizeSpaces(coll), util.NormalizeSpaces(color)
	if coll == "" || color == "" || reTotals.MatchString(coll) || reTotals.MatchString(color) {
		return internal.FabricRecord{}, nil, false
	}

	rec := internal.FabricRecord{Collection: coll, ColorNumber: color}
	var warns []internal.NormalizationWarning
	var comments []string
	warn := func(role internal.ColumnRole, raw string) {
		warns = append(warns, internal.NormalizationWarning{Row: r, Field: role, Raw: raw})
	}

	stockCol := false
	stockEmpty := false
	if raw, ok := l.cell(grid, r, internal.RoleInStock); ok {
		stockCol = true
		stockEmpty = raw == ""
		if sv, ok := ReadStock(raw, l.special, l.sentinel, l.now); ok {
			rec.InStock, rec.Meterage, rec.NextArrivalDate = sv.InStock, sv.Meterage, sv.NextArrival
			if sv.Comment != nil {
				comments = append(comments, *sv.Comment)
			}
		} else {
			warn(internal.RoleInStock, raw)
		}
	}

	if raw, ok := l.cell(grid, r, internal.RoleMeterage); ok {
		switch {
		case raw != "":
			if m, ok := util.ParseMeterage(raw); ok {
				rec.Meterage = m
				if !stockCol || (stockEmpty && *m > 0) {
					rec.InStock = util.BoolPtr(*m > 0)
				}
			} else if sv, ok := ReadStock(raw, l.special, l.sentinel, l.now); ok && !stockCol {
				rec.InStock, rec.NextArrivalDate = sv.InStock, sv.NextArrival
				if sv.Comment != nil {
					comments = append(comments, *sv.Comment)
				}
			} else {
				warn(internal.RoleMeterage, raw)
			}
		case !stockCol && l.special.MeterageIsStock:
			rec.InStock = util.BoolPtr(false)
		}
	}

	if raw, ok := l.cell(grid, r, internal.RolePrice); ok && raw != "" {
		rec.Price = util.NormalizePrice(raw)
		if rec.Price == nil {
			warn(internal.RolePrice, raw)
		}
	}

	if raw, ok := l.cell(grid, r, internal.RoleNextArrivalDate); ok && raw != "" {
		if d, ok := ParseArrival(raw, l.now); ok {
			rec.NextArrivalDate = d
		} else {
			warn(internal.RoleNextArrivalDate, raw)
		}
	}

	if raw, ok := l.cell(grid, r, internal.RoleComment); ok && raw != "" {
		comments = append(comments, util.NormalizeSpaces(raw))
	}
	if len(comments) > 0 {
		rec.Comment = util.StringPtr(strings.Join(comments, "; "))
	}
	return rec, warns, true
}
