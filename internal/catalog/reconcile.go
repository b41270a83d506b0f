package catalog

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fabricsync/internal"
	"fabricsync/internal/util"
)

// Epsilon is the smallest numeric difference treated as a change.
const Epsilon = 0.01

var epsilonDecimal = decimal.NewFromFloat(Epsilon)

// Tracked field names, as reported in Change.Fields.
const (
	FieldInStock         = "inStock"
	FieldMeterage        = "meterage"
	FieldPrice           = "price"
	FieldComment         = "comment"
	FieldNextArrivalDate = "nextArrivalDate"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionNoop   Action = "noop"
)

// Change is one planned write. Record holds the full row as it will be stored.
type Change struct {
	Action Action
	Key    string
	ID     int64
	Record internal.FabricRecord
	Fields []string
	Held   []string
}

// Plan is the outcome of reconciling one parse against the catalog. Nothing
// is written until the plan is applied in a single transaction.
type Plan struct {
	SupplierID int64
	Creates    []Change
	Updates    []Change
	Counts     internal.RunCounts
	// Deactivate lists overrides superseded by newer parser data.
	Deactivate []int64
}

// Input is everything Reconcile needs; overrides must be read fresh for
// every run.
type Input struct {
	SupplierID int64
	Catalog    []internal.CatalogFabric
	Parsed     []internal.FabricRecord
	Overrides  []internal.ManualOverride
	Bands      []internal.PriceBand
	Now        time.Time
	// ParserNewer ignores manual overrides and retires them on apply.
	ParserNewer bool
}

// Reconcile classifies every parsed record as CREATE, UPDATE or NO-OP.
// Catalog rows absent from the parse are left untouched.
func Reconcile(in Input) Plan {
	plan := Plan{SupplierID: in.SupplierID}
	idx := BuildIndex(in.Catalog)

	var stockCov, priceCov *coverage
	if in.ParserNewer {
		for _, o := range in.Overrides {
			if o.IsActive {
				plan.Deactivate = append(plan.Deactivate, o.ID)
			}
		}
	} else {
		stockCov = buildCoverage(in.Overrides, internal.OverrideStock)
		priceCov = buildCoverage(in.Overrides, internal.OverridePrice)
	}

	for _, rec := range Dedupe(in.Parsed) {
		key := util.FabricKey(rec.Collection, rec.ColorNumber)
		existing, found := idx.ByKey[key]
		var current *internal.FabricRecord
		if found {
			current = &existing.FabricRecord
		}

		next, held := resolve(rec, current, stockCov, priceCov, key, in.Bands)

		if !found {
			next.LastUpdatedAt = in.Now
			plan.Creates = append(plan.Creates, Change{Action: ActionCreate, Key: key, Record: next, Held: held})
			plan.Counts.Created++
			continue
		}

		fields := diff(existing.FabricRecord, next)
		if len(held) > 0 && heldDiffers(rec, existing.FabricRecord, held) {
			plan.Counts.Held++
		}
		if len(fields) == 0 {
			plan.Counts.Unchanged++
			continue
		}
		next.Collection = existing.Collection
		next.ColorNumber = existing.ColorNumber
		next.LastUpdatedAt = in.Now
		plan.Updates = append(plan.Updates, Change{
			Action: ActionUpdate,
			Key:    key,
			ID:     existing.ID,
			Record: next,
			Fields: fields,
			Held:   held,
		})
		plan.Counts.Updated++
	}
	return plan
}

// Dedupe collapses records sharing a key; the last occurrence wins but keeps
// the position of the first.
func Dedupe(records []internal.FabricRecord) []internal.FabricRecord {
	pos := map[string]int{}
	out := make([]internal.FabricRecord, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Collection) == "" || strings.TrimSpace(r.ColorNumber) == "" {
			continue
		}
		key := util.FabricKey(r.Collection, r.ColorNumber)
		if i, ok := pos[key]; ok {
			out[i] = r
			continue
		}
		pos[key] = len(out)
		out = append(out, r)
	}
	return out
}

func resolve(rec internal.FabricRecord, current *internal.FabricRecord, stockCov, priceCov *coverage, key string, bands []internal.PriceBand) (internal.FabricRecord, []string) {
	next := internal.FabricRecord{
		Collection:      util.NormalizeSpaces(rec.Collection),
		ColorNumber:     util.NormalizeSpaces(rec.ColorNumber),
		Comment:         rec.Comment,
		NextArrivalDate: rec.NextArrivalDate,
	}
	var held []string

	stockEntry, stockHeld := stockCov.covers(key, current != nil)
	var holdInStock *bool
	var holdMeterage *float64
	if current != nil {
		holdInStock, holdMeterage = current.InStock, current.Meterage
	}
	if stockEntry != nil {
		if stockEntry.InStock != nil {
			holdInStock = stockEntry.InStock
		} else if current == nil {
			holdInStock = rec.InStock
		}
		if stockEntry.Meterage != nil {
			holdMeterage = stockEntry.Meterage
		} else if current == nil {
			holdMeterage = rec.Meterage
		}
	}
	next.InStock = Resolve(rec.InStock, holdInStock, stockHeld)
	next.Meterage = Resolve(rec.Meterage, holdMeterage, stockHeld)
	if stockHeld {
		held = append(held, FieldInStock, FieldMeterage)
	}

	priceEntry, priceHeld := priceCov.covers(key, current != nil)
	var holdPrice *decimal.Decimal
	if current != nil {
		holdPrice = current.Price
	}
	if priceEntry != nil {
		if priceEntry.Price != nil {
			holdPrice = priceEntry.Price
		} else if current == nil {
			holdPrice = rec.Price
		}
	}
	next.Price = Resolve(rec.Price, holdPrice, priceHeld)

	// a held price also holds its derived fields
	if priceHeld && current != nil && decimalEqual(next.Price, current.Price) {
		next.PricePerMeter, next.Category = current.PricePerMeter, current.Category
	} else {
		next.PricePerMeter, next.Category = Derive(next.Price, next.Meterage, bands)
	}
	if priceHeld {
		held = append(held, FieldPrice)
	}
	return next, held
}

// diff lists the tracked fields that differ between the stored row and the
// resolved one.
func diff(old, next internal.FabricRecord) []string {
	var fields []string
	if !boolEqual(old.InStock, next.InStock) {
		fields = append(fields, FieldInStock)
	}
	if !floatEqual(old.Meterage, next.Meterage) {
		fields = append(fields, FieldMeterage)
	}
	if !decimalEqual(old.Price, next.Price) {
		fields = append(fields, FieldPrice)
	}
	if !stringEqual(old.Comment, next.Comment) {
		fields = append(fields, FieldComment)
	}
	if !dateEqual(old.NextArrivalDate, next.NextArrivalDate) {
		fields = append(fields, FieldNextArrivalDate)
	}
	return fields
}

// heldDiffers reports whether the parser offered a value the override suppressed.
func heldDiffers(parsed, stored internal.FabricRecord, held []string) bool {
	for _, f := range held {
		switch f {
		case FieldInStock:
			if !boolEqual(parsed.InStock, stored.InStock) {
				return true
			}
		case FieldMeterage:
			if !floatEqual(parsed.Meterage, stored.Meterage) {
				return true
			}
		case FieldPrice:
			if !decimalEqual(parsed.Price, stored.Price) {
				return true
			}
		}
	}
	return false
}

func boolEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func floatEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) <= Epsilon+1e-9
}

func decimalEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Sub(*b).Abs().LessThanOrEqual(epsilonDecimal)
}

func stringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return strings.TrimSpace(*a) == strings.TrimSpace(*b)
}

func dateEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
