package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fabricsync/internal"
)

// ActiveOverrides always reads from the database; an operator may have
// deactivated an override since the previous run.
func (d *DB) ActiveOverrides(ctx context.Context, supplierID int64) ([]internal.ManualOverride, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, supplier_id, type, is_active, entries_json, created_at
FROM manual_overrides WHERE supplier_id = ? AND is_active = 1
ORDER BY created_at ASC, id ASC
`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ManualOverride
	for rows.Next() {
		var (
			o         internal.ManualOverride
			typ       string
			entries   string
			createdAt string
		)
		if err := rows.Scan(&o.ID, &o.SupplierID, &typ, &o.IsActive, &entries, &createdAt); err != nil {
			return nil, err
		}
		o.Type = internal.OverrideType(typ)
		if err := json.Unmarshal([]byte(entries), &o.Entries); err != nil {
			return nil, fmt.Errorf("override %d entries: %w", o.ID, err)
		}
		o.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// AddOverride activates a new override and retires older active overrides
// of the same type for the supplier.
func (d *DB) AddOverride(ctx context.Context, o internal.ManualOverride) (int64, error) {
	switch o.Type {
	case internal.OverrideStock, internal.OverridePrice:
	default:
		return 0, fmt.Errorf("unknown override type %q", o.Type)
	}
	entries := o.Entries
	if entries == nil {
		entries = []internal.OverrideEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return 0, err
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE manual_overrides SET is_active = 0 WHERE supplier_id = ? AND type = ? AND is_active = 1
`, o.SupplierID, string(o.Type)); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO manual_overrides (supplier_id, type, is_active, entries_json, created_at) VALUES (?, ?, 1, ?, ?)
`, o.SupplierID, string(o.Type), string(raw), formatTime(o.CreatedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// DeactivateOverrides retires every active override of typ; an empty typ
// retires both kinds. It returns the number of overrides retired.
func (d *DB) DeactivateOverrides(ctx context.Context, supplierID int64, typ internal.OverrideType) (int64, error) {
	query := `UPDATE manual_overrides SET is_active = 0 WHERE supplier_id = ? AND is_active = 1`
	args := []any{supplierID}
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, string(typ))
	}
	res, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
