package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"fabricsync/internal"
)

// GetRules returns nil when the supplier has no stored rule set.
func (d *DB) GetRules(ctx context.Context, supplierID int64) (*internal.ExtractionRuleSet, error) {
	var raw string
	err := d.conn.QueryRowContext(ctx, `SELECT rules_json FROM extraction_rules WHERE supplier_id = ?`, supplierID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rs internal.ExtractionRuleSet
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (d *DB) SaveRules(ctx context.Context, supplierID int64, rs internal.ExtractionRuleSet) error {
	raw, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `
INSERT INTO extraction_rules (supplier_id, rules_json, confirmed, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(supplier_id) DO UPDATE SET
  rules_json = excluded.rules_json,
  confirmed = excluded.confirmed,
  updated_at = excluded.updated_at
`, supplierID, string(raw), rs.Confirmed, formatTime(rs.UpdatedAt))
	return err
}
