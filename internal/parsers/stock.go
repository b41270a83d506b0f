package parsers

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"fabricsync/internal"
	"fabricsync/internal/util"
)

// DefaultStockSentinel is used when neither the rule set nor the caller sets one.
const DefaultStockSentinel = 100

var (
	defaultInStockMarkers = []string{"v", "✓", "✔", "+", "да", "есть", "в наличии", "true", "yes", "имеется"}
	outOfStockMarkers     = []string{"нет", "нет в наличии", "-", "—", "–", "false", "no", "x", "х"}
	reAtLeast             = regexp.MustCompile(`(?i)^(?:>|более|больше|свыше|от|over)\s*(\d+(?:[.,]\d+)?)`)
)

// StockValue is the reading of one stock cell.
type StockValue struct {
	InStock     *bool
	Meterage    *float64
	Comment     *string
	NextArrival *time.Time
}

// ReadStock applies the stock-cell conventions shared by every supplier:
// an empty cell is out of stock with no ETA; a marker ("V", "TRUE", a check
// mark) is in stock with unknown meterage; a number is meterage unless it
// reaches the sentinel, which means "more than sentinel meters"; a date or
// month name is out of stock until that date. ok is false for text that
// fits none of these.
func ReadStock(cell string, sr internal.SpecialRules, sentinel float64, now time.Time) (StockValue, bool) {
	s := util.NormalizeSpaces(cell)
	if s == "" {
		return StockValue{InStock: util.BoolPtr(false)}, true
	}
	key := util.NormalizeKey(s)

	if isMarker(key, defaultInStockMarkers) || isMarker(key, sr.InStockMarkers) {
		return StockValue{InStock: util.BoolPtr(true)}, true
	}
	if isMarker(key, outOfStockMarkers) {
		return StockValue{InStock: util.BoolPtr(false)}, true
	}

	if m := reAtLeast.FindStringSubmatch(key); m != nil {
		return StockValue{InStock: util.BoolPtr(true), Comment: util.StringPtr("более " + m[1] + " м")}, true
	}

	if d, ok := ParseArrival(s, now); ok && !isPlainNumber(s) {
		return StockValue{InStock: util.BoolPtr(false), NextArrival: d}, true
	}

	if m, ok := util.ParseMeterage(s); ok {
		if sentinel > 0 && *m >= sentinel {
			return StockValue{InStock: util.BoolPtr(true), Comment: util.StringPtr("более " + formatMeters(sentinel) + " м")}, true
		}
		return StockValue{InStock: util.BoolPtr(*m > 0), Meterage: m}, true
	}

	return StockValue{}, false
}

func isMarker(key string, markers []string) bool {
	for _, m := range markers {
		if key == util.NormalizeKey(m) {
			return true
		}
	}
	return false
}

var rePlainNumber = regexp.MustCompile(`^[\d\s.,]+$`)

func isPlainNumber(s string) bool {
	return rePlainNumber.MatchString(s) && strings.Count(s, ".") < 2
}

func formatMeters(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
