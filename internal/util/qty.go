package util

import (
	"regexp"
	"strings"
)

var (
	unitPattern   = regexp.MustCompile(`(?i)(пог\.?\s?м|метр(?:ов|а)?|mt|м|m|рул|шт)\.?(?:[^\p{L}]|$)`)
	numberPattern = regexp.MustCompile(`(?:^|[^0-9.,])(\d+(?:[.,]\d+)?)`)
	withUnit      = regexp.MustCompile(`(?i)(?:^|[^0-9.,])(\d+(?:[.,]\d+)?)\s*(пог\.?\s?м|метр(?:ов|а)?|mt|м|m|рул|шт)\.?(?:[^\p{L}]|$)`)
)

type ParsedQty struct {
	Qty    *float64
	Unit   *string
	QtyRaw *string
	// Start and End are byte offsets of the quantity (and unit) in the
	// space-cleaned input, or -1 when nothing was found.
	Start, End int
}

// ParseQty finds the quantity in a free-text line, preferring a number
// followed by a unit and falling back to the last number on the line.
// Whitespace is never a thousands separator here: "Velvet 12 100 м" is color 12, 100 m.
func ParseQty(input string) ParsedQty {
	line := CleanSpaces(input)
	out := ParsedQty{Start: -1, End: -1}

	qtyToken := ""
	unit := ""
	if wm := withUnit.FindAllStringSubmatchIndex(line, -1); len(wm) > 0 {
		last := wm[len(wm)-1]
		qtyToken = line[last[2]:last[3]]
		unit = line[last[4]:last[5]]
		out.Start, out.End = last[2], last[5]
	} else if nm := numberPattern.FindAllStringSubmatchIndex(line, -1); len(nm) > 0 {
		last := nm[len(nm)-1]
		qtyToken = line[last[2]:last[3]]
		out.Start, out.End = last[2], last[3]
	}
	if qtyToken == "" {
		return out
	}

	raw := strings.TrimSpace(line[out.Start:out.End])
	out.QtyRaw = &raw
	if d, ok := ParseLocaleDecimal(qtyToken); ok {
		f := d.InexactFloat64()
		out.Qty = &f
	}
	if unit != "" {
		u := normalizeUnit(unit)
		out.Unit = &u
	}
	return out
}

// ParseMeterage reads a single stock cell such as "85,6", "85.6 м" or "1 200 пог.м".
// Zero is a valid meterage; negative or non-numeric text is rejected.
func ParseMeterage(cell string) (*float64, bool) {
	s := strings.TrimSpace(CleanSpaces(cell))
	if s == "" {
		return nil, false
	}
	s = strings.TrimSpace(unitPattern.ReplaceAllString(s, " "))
	if s == "" || reLetters.MatchString(s) {
		return nil, false
	}
	d, ok := ParseLocaleDecimal(s)
	if !ok || d.Sign() < 0 {
		return nil, false
	}
	f := d.InexactFloat64()
	return &f, true
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.TrimSuffix(u, ".")
	switch {
	case u == "шт":
		return "шт"
	case u == "рул":
		return "рул"
	case u == "m" || u == "mt" || u == "м" || strings.HasPrefix(u, "метр") || strings.HasPrefix(u, "пог"):
		return "м"
	default:
		return u
	}
}
