package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fabricsync/internal"
	"fabricsync/internal/catalog"
	"fabricsync/internal/util"
)

const fabricColumns = `id, supplier_id, collection, color_number, in_stock, meterage, price, price_per_meter, category, comment, next_arrival_date, last_updated_at`

// LoadCatalog returns every catalog row of the supplier.
func (d *DB) LoadCatalog(ctx context.Context, supplierID int64) ([]internal.CatalogFabric, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+fabricColumns+` FROM fabrics WHERE supplier_id = ? ORDER BY id`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.CatalogFabric
	for rows.Next() {
		f, err := scanFabric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ApplyResult describes a committed plan.
type ApplyResult struct {
	FabricsCount int
}

// ApplyPlan writes a reconciliation plan in one transaction: every create and
// update, the override retirements and the supplier status. Any failure rolls
// the whole batch back.
func (d *DB) ApplyPlan(ctx context.Context, plan catalog.Plan, now time.Time, document *string) (ApplyResult, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	for i, c := range plan.Creates {
		r := c.Record
		if _, err := tx.ExecContext(ctx, `
INSERT INTO fabrics (supplier_id, collection, color_number, norm_key, in_stock, meterage, price, price_per_meter, category, comment, next_arrival_date, last_updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, append([]any{plan.SupplierID, r.Collection, r.ColorNumber, util.FabricKey(r.Collection, r.ColorNumber)}, fabricValues(r)...)...); err != nil {
			return ApplyResult{}, fmt.Errorf("create %d (%s %s): %w", i+1, r.Collection, r.ColorNumber, err)
		}
	}

	for i, c := range plan.Updates {
		r := c.Record
		if _, err := tx.ExecContext(ctx, `
UPDATE fabrics SET in_stock = ?, meterage = ?, price = ?, price_per_meter = ?, category = ?, comment = ?, next_arrival_date = ?, last_updated_at = ?
WHERE id = ? AND supplier_id = ?
`, append(fabricValues(r), c.ID, plan.SupplierID)...); err != nil {
			return ApplyResult{}, fmt.Errorf("update %d (%s %s): %w", i+1, r.Collection, r.ColorNumber, err)
		}
	}

	for _, id := range plan.Deactivate {
		if _, err := tx.ExecContext(ctx, `UPDATE manual_overrides SET is_active = 0 WHERE id = ? AND supplier_id = ?`, id, plan.SupplierID); err != nil {
			return ApplyResult{}, fmt.Errorf("deactivate override %d: %w", id, err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM fabrics WHERE supplier_id = ?`, plan.SupplierID).Scan(&count); err != nil {
		return ApplyResult{}, err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE suppliers SET status = ?, error_message = NULL, fabrics_count = ?, last_updated_at = ?, last_document = COALESCE(?, last_document)
WHERE id = ?
`, string(internal.StatusActive), count, formatTime(now), nullString(document), plan.SupplierID); err != nil {
		return ApplyResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{FabricsCount: count}, nil
}

func (d *DB) PriceBands(ctx context.Context) ([]internal.PriceBand, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT category, price FROM price_categories ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.PriceBand
	for rows.Next() {
		var (
			b   internal.PriceBand
			raw string
		)
		if err := rows.Scan(&b.Category, &raw); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("price category %d: %w", b.Category, err)
		}
		b.Price = p
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetPriceBands replaces the category table and reclassifies every fabric.
// It returns the number of fabrics whose category changed.
func (d *DB) SetPriceBands(ctx context.Context, bands []internal.PriceBand) (int, error) {
	if err := catalog.ValidateBands(bands); err != nil {
		return 0, err
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_categories`); err != nil {
		return 0, err
	}
	for _, b := range bands {
		if _, err := tx.ExecContext(ctx, `INSERT INTO price_categories (category, price) VALUES (?, ?)`, b.Category, b.Price.String()); err != nil {
			return 0, err
		}
	}

	type recat struct {
		id  int64
		ppm *decimal.Decimal
		cat *int
	}
	rows, err := tx.QueryContext(ctx, `SELECT `+fabricColumns+` FROM fabrics`)
	if err != nil {
		return 0, err
	}
	var changed []recat
	for rows.Next() {
		f, err := scanFabric(rows)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		ppm, cat := catalog.Derive(f.Price, f.Meterage, bands)
		if !sameCategory(cat, f.Category) || !samePPM(ppm, f.PricePerMeter) {
			changed = append(changed, recat{id: f.ID, ppm: ppm, cat: cat})
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	for _, c := range changed {
		if _, err := tx.ExecContext(ctx, `UPDATE fabrics SET price_per_meter = ?, category = ? WHERE id = ?`,
			decimalValue(c.ppm), intValue(c.cat), c.id); err != nil {
			return 0, err
		}
	}
	return len(changed), tx.Commit()
}

func fabricValues(r internal.FabricRecord) []any {
	var arrival any
	if r.NextArrivalDate != nil {
		arrival = r.NextArrivalDate.Format(dateLayout)
	}
	var inStock any
	if r.InStock != nil {
		inStock = *r.InStock
	}
	var meterage any
	if r.Meterage != nil {
		meterage = *r.Meterage
	}
	return []any{
		inStock, meterage,
		decimalValue(r.Price), decimalValue(r.PricePerMeter), intValue(r.Category),
		nullString(r.Comment), arrival, formatTime(r.LastUpdatedAt),
	}
}

func decimalValue(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func intValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func scanFabric(s rowScanner) (internal.CatalogFabric, error) {
	var (
		f         internal.CatalogFabric
		inStock   sql.NullBool
		meterage  sql.NullFloat64
		price     sql.NullString
		ppm       sql.NullString
		category  sql.NullInt64
		comment   sql.NullString
		arrival   sql.NullString
		updatedAt sql.NullString
	)
	if err := s.Scan(&f.ID, &f.SupplierID, &f.Collection, &f.ColorNumber, &inStock, &meterage, &price, &ppm, &category, &comment, &arrival, &updatedAt); err != nil {
		return internal.CatalogFabric{}, err
	}
	if inStock.Valid {
		f.InStock = util.BoolPtr(inStock.Bool)
	}
	if meterage.Valid {
		f.Meterage = util.FloatPtr(meterage.Float64)
	}
	var err error
	if f.Price, err = scanDecimal(price); err != nil {
		return internal.CatalogFabric{}, fmt.Errorf("fabric %d price: %w", f.ID, err)
	}
	if f.PricePerMeter, err = scanDecimal(ppm); err != nil {
		return internal.CatalogFabric{}, fmt.Errorf("fabric %d price per meter: %w", f.ID, err)
	}
	if category.Valid {
		f.Category = util.IntPtr(int(category.Int64))
	}
	f.Comment = stringPtr(comment)
	if arrival.Valid {
		if t, err := time.Parse(dateLayout, arrival.String); err == nil {
			f.NextArrivalDate = &t
		}
	}
	f.LastUpdatedAt = parseTime(updatedAt)
	return f, nil
}

func scanDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func sameCategory(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func samePPM(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
