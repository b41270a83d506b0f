package storage

import (
	"context"
	"time"
)

// fixed width so run_started_at compares as text
const leaseLayout = "2006-01-02T15:04:05.000000000Z"

func leaseTime(t time.Time) string {
	return t.UTC().Format(leaseLayout)
}

// ClaimRun takes the supplier's run lease for runID. It reports false when
// another run holds a lease younger than ttl. The lease lives in the
// database, so it holds across processes sharing the file.
func (d *DB) ClaimRun(ctx context.Context, supplierID int64, runID string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `
UPDATE suppliers SET running_run_id = ?, run_started_at = ?
WHERE id = ? AND (running_run_id IS NULL OR run_started_at IS NULL OR run_started_at < ?)
`, runID, leaseTime(now), supplierID, leaseTime(now.Add(-ttl)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseRun drops the lease if runID still holds it.
func (d *DB) ReleaseRun(ctx context.Context, supplierID int64, runID string) error {
	_, err := d.conn.ExecContext(ctx, `
UPDATE suppliers SET running_run_id = NULL, run_started_at = NULL
WHERE id = ? AND running_run_id = ?
`, supplierID, runID)
	return err
}
