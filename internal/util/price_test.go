package util

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func TestNormalizePrice(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  string
	}{
		{name: "russian with kopecks and rub", input: "3 171,00р.", want: "3171"},
		{name: "english thousands", input: "3,171.00", want: "3171"},
		{name: "european thousands", input: "3.171,00", want: "3171"},
		{name: "plain integer", input: "1000", want: "1000"},
		{name: "rub suffix", input: "1000 руб", want: "1000"},
		{name: "space grouping", input: "1 000", want: "1000"},
		{name: "nbsp grouping", input: "1 250,50", want: "1250.5"},
		{name: "narrow nbsp grouping", input: "12 000 ₽", want: "12000"},
		{name: "english with cents", input: "1,000.50", want: "1000.5"},
		{name: "comma decimal", input: "850,5", want: "850.5"},
		{name: "dot decimal", input: "850.75", want: "850.75"},
		{name: "dot thousands repeated", input: "1.250.000", want: "1250000"},
		{name: "comma thousands repeated", input: "1,250,000", want: "1250000"},
		{name: "euro prefix", input: "€ 3.171,00", want: "3171"},
		{name: "dollar prefix", input: "$12.50", want: "12.5"},
		{name: "rub no dot", input: "450р", want: "450"},
		{name: "rubles word", input: "450 рублей", want: "450"},
		{name: "native float", input: 3171.0, want: "3171"},
		{name: "native int", input: 1000, want: "1000"},
		{name: "rounds to kopecks", input: "10,005", want: "10.01"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizePrice(tc.input)
			if got == nil {
				t.Fatalf("got nil for %v", tc.input)
			}
			want := decimal.RequireFromString(tc.want)
			if !got.Equal(want) {
				t.Fatalf("got %s want %s", got, want)
			}
		})
	}
}

func TestNormalizePriceRejects(t *testing.T) {
	for _, input := range []any{"", "   ", "-", "0", "0,00", "-500", "−3 171,00", "по запросу", "n/a", "1,2,3", "1.2.3.4", nil, 0, -1, -2.5} {
		t.Run(fmt.Sprintf("%v", input), func(t *testing.T) {
			if got := NormalizePrice(input); got != nil {
				t.Fatalf("got %s for %v, want nil", got, input)
			}
		})
	}
}

func TestParseLocaleDecimal(t *testing.T) {
	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"85,6", "85.6", true},
		{"-85,6", "-85.6", true},
		{"1'000", "1000", true},
		{"", "0", false},
		{"abc", "0", false},
		{"12,5,1", "0", false},
	}
	for _, tc := range cases {
		got, ok := ParseLocaleDecimal(tc.input)
		if ok != tc.ok {
			t.Fatalf("%q: ok=%v want %v", tc.input, ok, tc.ok)
		}
		if ok && !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("%q: got %s want %s", tc.input, got, tc.want)
		}
	}
}

func formatRU(kopecks int64) string {
	rub := fmt.Sprintf("%d", kopecks/100)
	var groups []string
	for len(rub) > 3 {
		groups = append([]string{rub[len(rub)-3:]}, groups...)
		rub = rub[:len(rub)-3]
	}
	groups = append([]string{rub}, groups...)
	return fmt.Sprintf("%s,%02d р.", strings.Join(groups, " "), kopecks%100)
}

func TestNormalizePriceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("russian formatted prices round-trip", prop.ForAll(
		func(kopecks int64) bool {
			got := NormalizePrice(formatRU(kopecks))
			return got != nil && got.Equal(decimal.New(kopecks, -2))
		},
		gen.Int64Range(1, 1_000_000_000),
	))

	properties.Property("result is nil or positive", prop.ForAll(
		func(s string) bool {
			got := NormalizePrice(s)
			return got == nil || got.Sign() > 0
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
