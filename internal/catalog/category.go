package catalog

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"fabricsync/internal"
)

// Classify returns the category of the first band (ascending) whose bound is
// >= price. Prices above every bound land in the highest band; an empty band
// list yields nil.
func Classify(price decimal.Decimal, bands []internal.PriceBand) *int {
	if len(bands) == 0 {
		return nil
	}
	sorted := SortBands(bands)
	for _, b := range sorted {
		if b.Price.GreaterThanOrEqual(price) {
			c := b.Category
			return &c
		}
	}
	c := sorted[len(sorted)-1].Category
	return &c
}

// SortBands returns a copy ordered by bound.
func SortBands(bands []internal.PriceBand) []internal.PriceBand {
	out := make([]internal.PriceBand, len(bands))
	copy(out, bands)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// ValidateBands enforces strictly increasing bounds and unique categories.
func ValidateBands(bands []internal.PriceBand) error {
	seen := map[int]struct{}{}
	sorted := SortBands(bands)
	for i, b := range sorted {
		if b.Price.Sign() <= 0 {
			return fmt.Errorf("category %d: bound must be positive", b.Category)
		}
		if _, ok := seen[b.Category]; ok {
			return fmt.Errorf("category %d listed twice", b.Category)
		}
		seen[b.Category] = struct{}{}
		if i > 0 && !sorted[i-1].Price.LessThan(b.Price) {
			return fmt.Errorf("categories %d and %d share bound %s", sorted[i-1].Category, b.Category, b.Price)
		}
	}
	return nil
}

// Derive computes pricePerMeter and category from price and meterage.
func Derive(price *decimal.Decimal, meterage *float64, bands []internal.PriceBand) (*decimal.Decimal, *int) {
	if price == nil {
		return nil, nil
	}
	if meterage != nil && *meterage > 0 {
		ppm := price.Div(decimal.NewFromFloat(*meterage)).Round(2)
		return &ppm, Classify(ppm, bands)
	}
	return nil, Classify(*price, bands)
}
