package util

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	reCurrency        = regexp.MustCompile(`(?i)(руб(?:лей|ля|ль)?\.?|р\.|₽|rub|rur|eur(?:o)?|евро|€|usd|\$|долл(?:аров|ара|ар)?\.?|у\.\s?е\.?)`)
	reLetters         = regexp.MustCompile(`\p{L}`)
	reThousandsDots   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandsCommas = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	rePlainDecimal    = regexp.MustCompile(`^(?:\d+\.?\d*|\.\d+)$`)
)

// NormalizePrice converts a native number or a locale-formatted currency string
// into a positive decimal rounded to kopecks. Empty, zero, negative and
// unparsable inputs yield nil.
func NormalizePrice(v any) *decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return nil
	case decimal.Decimal:
		return positive(t)
	case *decimal.Decimal:
		if t == nil {
			return nil
		}
		return positive(*t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return positive(decimal.NewFromFloat(t))
	case float32:
		return NormalizePrice(float64(t))
	case int:
		return positive(decimal.NewFromInt(int64(t)))
	case int64:
		return positive(decimal.NewFromInt(t))
	case int32:
		return positive(decimal.NewFromInt(int64(t)))
	case string:
		return parsePriceString(t)
	case []byte:
		return parsePriceString(string(t))
	default:
		return parsePriceString(fmt.Sprint(t))
	}
}

func parsePriceString(raw string) *decimal.Decimal {
	s := strings.TrimSpace(CleanSpaces(raw))
	if s == "" {
		return nil
	}
	s = strings.TrimSpace(reCurrency.ReplaceAllString(s, " "))
	// "100р" without the dot
	if strings.HasSuffix(s, "р") || strings.HasSuffix(s, "Р") {
		s = strings.TrimSpace(s[:len(s)-len("р")])
	}
	if reLetters.MatchString(s) {
		return nil
	}
	d, ok := ParseLocaleDecimal(s)
	if !ok {
		return nil
	}
	return positive(d)
}

// ParseLocaleDecimal parses a number written with any of the supplier
// conventions: "1 000", "1,000.50", "3.171,00", "3171,5".
// When both separators appear the later one is the decimal separator; a lone
// comma is decimal (Russian convention) unless it repeats as thousands grouping.
func ParseLocaleDecimal(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(CleanSpaces(raw))
	negative := false
	for _, minus := range []string{"-", "\u2212", "\u2013"} {
		if strings.HasPrefix(s, minus) {
			negative = true
			s = strings.TrimSpace(strings.TrimPrefix(s, minus))
			break
		}
	}
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\'' || r == '\u2019' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, false
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			if !reThousandsCommas.MatchString(s) {
				return decimal.Zero, false
			}
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0:
		if strings.Count(s, ".") > 1 {
			if !reThousandsDots.MatchString(s) {
				return decimal.Zero, false
			}
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	if !rePlainDecimal.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

func positive(d decimal.Decimal) *decimal.Decimal {
	r := d.Round(2)
	if r.Sign() <= 0 {
		return nil
	}
	return &r
}

// CleanSpaces maps the non-breaking and thin spaces spreadsheets emit to plain spaces.
func CleanSpaces(s string) string {
	return strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\u2009", " ", "\t", " ").Replace(s)
}
