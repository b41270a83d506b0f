package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fabricsync/internal"
)

const supplierColumns = `id, key, name, kind, status, error_message, fabrics_count, last_updated_at, last_document`

// UpsertSupplier registers a supplier by key and returns its row.
// Status and counts are left alone on conflict.
func (d *DB) UpsertSupplier(ctx context.Context, key, name, kind string) (internal.SupplierRow, error) {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO suppliers (key, name, kind) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET name = excluded.name, kind = excluded.kind
`, key, name, kind)
	if err != nil {
		return internal.SupplierRow{}, err
	}
	row, err := d.GetSupplier(ctx, key)
	if err != nil {
		return internal.SupplierRow{}, err
	}
	if row == nil {
		return internal.SupplierRow{}, fmt.Errorf("failed to upsert supplier %s", key)
	}
	return *row, nil
}

// GetSupplier returns nil when no supplier has key.
func (d *DB) GetSupplier(ctx context.Context, key string) (*internal.SupplierRow, error) {
	row, err := scanSupplier(d.conn.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) ListSuppliers(ctx context.Context) ([]internal.SupplierRow, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.SupplierRow
	for rows.Next() {
		row, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetSupplierError marks the supplier failed. Catalog rows are not touched.
func (d *DB) SetSupplierError(ctx context.Context, supplierID int64, msg string, at time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
UPDATE suppliers SET status = ?, error_message = ?, last_updated_at = ? WHERE id = ?
`, string(internal.StatusError), msg, formatTime(at), supplierID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSupplier(s rowScanner) (internal.SupplierRow, error) {
	var (
		row       internal.SupplierRow
		status    string
		errMsg    sql.NullString
		updatedAt sql.NullString
		lastDoc   sql.NullString
	)
	if err := s.Scan(&row.ID, &row.Key, &row.Name, &row.Kind, &status, &errMsg, &row.Status.FabricsCount, &updatedAt, &lastDoc); err != nil {
		return internal.SupplierRow{}, err
	}
	row.Status.Status = internal.SupplierState(status)
	row.Status.ErrorMessage = stringPtr(errMsg)
	row.Status.LastUpdatedAt = parseTime(updatedAt)
	row.LastDocument = stringPtr(lastDoc)
	return row, nil
}
