package parsers

import (
	"strings"

	"fabricsync/internal"
	"fabricsync/internal/catalog"
	"fabricsync/internal/util"
)

// parseTextList reads free-text lines such as "Velvet 12 35,5 м 1 200 р."
// (collection, color, meterage with unit, optional price) or
// "Velvet 14 нет" (trailing stock marker).
func parseTextList(grid internal.Grid, opts Options) (Result, error) {
	l, err := newLayout(grid, opts, nil)
	if err != nil {
		return Result{}, err
	}

	res := Result{}
	for r, row := range grid {
		if l.skipRows[r] || len(grid.Populated(r)) == 0 {
			continue
		}
		if l.skipRow(row) {
			res.Skipped++
			continue
		}
		rec, warns, ok := l.listLine(r, util.NormalizeSpaces(strings.Join(row, " ")))
		if !ok {
			res.Skipped++
			continue
		}
		res.Warnings = append(res.Warnings, warns...)
		res.Records = append(res.Records, rec)
	}
	res.Records = catalog.Dedupe(res.Records)
	return res, nil
}

func (l *layout) listLine(r int, line string) (internal.FabricRecord, []internal.NormalizationWarning, bool) {
	var (
		name, rest string
		stock      StockValue
		warns      []internal.NormalizationWarning
		found      bool
	)

	q := util.ParseQty(line)
	if q.Qty != nil && q.Unit != nil {
		name, rest = line[:q.Start], line[q.End:]
		stock, found = l.quantityStock(*q.Qty, *q.Unit)
	} else if n, sv, ok := l.trailingMarker(line); ok {
		name, stock, found = n, sv, true
	} else if q.Qty != nil {
		name = line[:q.Start]
		stock, found = l.quantityStock(*q.Qty, "м")
	}
	if !found {
		return internal.FabricRecord{}, nil, false
	}

	coll, color := util.SplitCompound(name)
	if l.special.DefaultCollection != "" {
		coll, color = l.special.DefaultCollection, util.NormalizeSpaces(name)
	}
	if coll == "" || color == "" || reTotals.MatchString(coll) {
		return internal.FabricRecord{}, nil, false
	}

	rec := internal.FabricRecord{
		Collection:      coll,
		ColorNumber:     color,
		InStock:         stock.InStock,
		Meterage:        stock.Meterage,
		Comment:         stock.Comment,
		NextArrivalDate: stock.NextArrival,
	}
	rest = strings.Trim(strings.TrimSpace(rest), ".,;")
	if util.HasDigits(rest) {
		rec.Price = util.NormalizePrice(rest)
		if rec.Price == nil {
			warns = append(warns, internal.NormalizationWarning{Row: r, Field: internal.RolePrice, Raw: rest})
		}
	}
	return rec, warns, true
}

func (l *layout) quantityStock(qty float64, unit string) (StockValue, bool) {
	if unit != "м" {
		return StockValue{InStock: util.BoolPtr(qty > 0), Comment: util.StringPtr(formatMeters(qty) + " " + unit)}, true
	}
	return ReadStock(formatMeters(qty), l.special, l.sentinel, l.now)
}

// trailingMarker recognises a stock marker or arrival date in the last one or
// two words of the line.
func (l *layout) trailingMarker(line string) (string, StockValue, bool) {
	words := strings.Fields(line)
	for k := 2; k >= 1; k-- {
		if len(words) <= k {
			continue
		}
		tail := strings.Join(words[len(words)-k:], " ")
		if util.HasDigits(tail) && !util.HasLetters(tail) {
			continue
		}
		if sv, ok := ReadStock(tail, l.special, l.sentinel, l.now); ok {
			return strings.Join(words[:len(words)-k], " "), sv, true
		}
	}
	return "", StockValue{}, false
}
