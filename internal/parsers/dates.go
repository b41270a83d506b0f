package parsers

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"fabricsync/internal/util"
)

var (
	reDMY     = regexp.MustCompile(`(?:^|\D)(\d{1,2})[./](\d{1,2})[./](\d{2}|\d{4})(?:\D|$)`)
	reISODate = regexp.MustCompile(`(?:^|\D)(\d{4})-(\d{2})-(\d{2})(?:\D|$)`)
	// excelize renders built-in date format 14 as mm-dd-yy
	reMDYDash = regexp.MustCompile(`^(\d{2})-(\d{2})-(\d{2})$`)
	reYear    = regexp.MustCompile(`^20\d{2}$`)
	reDay     = regexp.MustCompile(`^\d{1,2}$`)
)

var monthStems = []struct {
	stem  string
	month time.Month
}{
	{"янв", time.January}, {"фев", time.February}, {"мар", time.March}, {"апр", time.April},
	{"мая", time.May}, {"май", time.May}, {"июн", time.June}, {"июл", time.July},
	{"авг", time.August}, {"сен", time.September}, {"окт", time.October}, {"ноя", time.November},
	{"дек", time.December},
	{"jan", time.January}, {"feb", time.February}, {"mar", time.March}, {"apr", time.April},
	{"may", time.May}, {"jun", time.June}, {"jul", time.July}, {"aug", time.August},
	{"sep", time.September}, {"oct", time.October}, {"nov", time.November}, {"dec", time.December},
}

// ParseArrival reads an expected-arrival cell: a full date ("15.03.2026",
// "2026-03-15") or a month name with optional day and year ("15 марта",
// "конец апреля", "May 2026"). A month without a year is the next occurrence
// of that month relative to now.
func ParseArrival(cell string, now time.Time) (*time.Time, bool) {
	s := util.NormalizeSpaces(cell)
	if s == "" {
		return nil, false
	}
	loc := now.Location()

	if m := reISODate.FindStringSubmatch(s); m != nil {
		return mkDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), loc)
	}
	if m := reDMY.FindStringSubmatch(s); m != nil {
		y := atoi(m[3])
		if y < 100 {
			y += 2000
		}
		return mkDate(y, atoi(m[2]), atoi(m[1]), loc)
	}
	if m := reMDYDash.FindStringSubmatch(s); m != nil {
		return mkDate(2000+atoi(m[3]), atoi(m[1]), atoi(m[2]), loc)
	}

	tokens := util.Tokenize(s)
	month := time.Month(0)
	monthAt := -1
	for i, tok := range tokens {
		for _, ms := range monthStems {
			if strings.HasPrefix(tok, ms.stem) {
				month, monthAt = ms.month, i
				break
			}
		}
		if monthAt >= 0 {
			break
		}
	}
	if monthAt < 0 {
		return nil, false
	}

	day := 1
	if monthAt > 0 && reDay.MatchString(tokens[monthAt-1]) {
		day = atoi(tokens[monthAt-1])
	}
	year := 0
	for _, tok := range tokens[monthAt:] {
		if reYear.MatchString(tok) {
			year = atoi(tok)
		}
	}
	if year == 0 {
		year = now.Year()
		if month < now.Month() {
			year++
		}
	}
	return mkDate(year, int(month), day, loc)
}

func mkDate(y, m, d int, loc *time.Location) (*time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return nil, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Day() != d {
		return nil, false
	}
	return &t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
