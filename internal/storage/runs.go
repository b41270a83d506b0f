package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"fabricsync/internal"
)

func (d *DB) RecordRun(ctx context.Context, run internal.RunRecord) error {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `
INSERT INTO runs (id, supplier_id, status, counts_json, document_path, error_message, started_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.SupplierID, string(run.Status), string(counts), nullString(run.DocumentPath), nullString(run.Error),
		formatTime(run.StartedAt), run.Duration.Milliseconds())
	return err
}

// ListRuns returns the latest runs of a supplier, newest first.
func (d *DB) ListRuns(ctx context.Context, supplierID int64, limit int) ([]internal.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, supplier_id, status, counts_json, document_path, error_message, started_at, duration_ms
FROM runs WHERE supplier_id = ? ORDER BY started_at DESC LIMIT ?
`, supplierID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRecord
	for rows.Next() {
		var (
			run       internal.RunRecord
			status    string
			counts    string
			docPath   sql.NullString
			errMsg    sql.NullString
			startedAt sql.NullString
			ms        int64
		)
		if err := rows.Scan(&run.ID, &run.SupplierID, &status, &counts, &docPath, &errMsg, &startedAt, &ms); err != nil {
			return nil, err
		}
		run.Status = internal.RunStatus(status)
		_ = json.Unmarshal([]byte(counts), &run.Counts)
		run.DocumentPath = stringPtr(docPath)
		run.Error = stringPtr(errMsg)
		run.StartedAt = parseTime(startedAt)
		run.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}
