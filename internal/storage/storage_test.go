package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fabricsync/internal"
	"fabricsync/internal/catalog"
	"fabricsync/internal/util"
)

var now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func parsed() []internal.FabricRecord {
	arrival := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)
	return []internal.FabricRecord{
		{Collection: "Velvet", ColorNumber: "12", InStock: util.BoolPtr(true), Meterage: util.FloatPtr(35.5), Price: dec("1200")},
		{Collection: "Velvet", ColorNumber: "14", InStock: util.BoolPtr(false), NextArrivalDate: &arrival, Comment: util.StringPtr("ожидается")},
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestSuppliers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	s, err := db.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)
	require.Equal(t, internal.StatusActive, s.Status.Status)

	again, err := db.UpsertSupplier(ctx, "textile-a", "Textile A LLC", "compound")
	require.NoError(t, err)
	require.Equal(t, s.ID, again.ID)
	require.Equal(t, "compound", again.Kind)

	require.NoError(t, db.SetSupplierError(ctx, s.ID, "source unavailable", now))
	got, err := db.GetSupplier(ctx, "textile-a")
	require.NoError(t, err)
	require.Equal(t, internal.StatusError, got.Status.Status)
	require.Equal(t, "source unavailable", *got.Status.ErrorMessage)
	require.True(t, got.Status.LastUpdatedAt.Equal(now))

	missing, err := db.GetSupplier(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)

	all, err := db.ListSuppliers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestApplyPlanRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := db.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)
	require.NoError(t, db.SetSupplierError(ctx, s.ID, "previous failure", now))

	plan := catalog.Reconcile(catalog.Input{SupplierID: s.ID, Parsed: parsed(), Now: now})
	doc := "raw/ab/abcdef.xlsx"
	res, err := db.ApplyPlan(ctx, plan, now, &doc)
	require.NoError(t, err)
	require.Equal(t, 2, res.FabricsCount)

	rows, err := db.LoadCatalog(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "1200", rows[0].Price.String())
	require.Equal(t, 35.5, *rows[0].Meterage)
	require.Nil(t, rows[1].Meterage)
	require.Equal(t, "2026-04-15", rows[1].NextArrivalDate.Format("2006-01-02"))

	sup, err := db.GetSupplier(ctx, "textile-a")
	require.NoError(t, err)
	require.Equal(t, internal.StatusActive, sup.Status.Status)
	require.Nil(t, sup.Status.ErrorMessage)
	require.Equal(t, 2, sup.Status.FabricsCount)
	require.Equal(t, doc, *sup.LastDocument)

	second := catalog.Reconcile(catalog.Input{SupplierID: s.ID, Catalog: rows, Parsed: parsed(), Now: now.Add(time.Hour)})
	require.Empty(t, second.Creates)
	require.Empty(t, second.Updates)
	require.Equal(t, 2, second.Counts.Unchanged)
}

func TestApplyPlanIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := db.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)

	_, err = db.ApplyPlan(ctx, catalog.Reconcile(catalog.Input{SupplierID: s.ID, Parsed: parsed(), Now: now}), now, nil)
	require.NoError(t, err)
	before, err := db.LoadCatalog(ctx, s.ID)
	require.NoError(t, err)

	_, err = db.conn.Exec(`
CREATE TRIGGER fail_on_boom BEFORE INSERT ON fabrics WHEN NEW.color_number = 'boom'
BEGIN SELECT RAISE(ABORT, 'boom'); END;`)
	require.NoError(t, err)

	next := parsed()
	next[0].Price = dec("1350")
	next = append(next,
		internal.FabricRecord{Collection: "Velvet", ColorNumber: "20", InStock: util.BoolPtr(true)},
		internal.FabricRecord{Collection: "Velvet", ColorNumber: "boom", InStock: util.BoolPtr(true)},
	)
	plan := catalog.Reconcile(catalog.Input{SupplierID: s.ID, Catalog: before, Parsed: next, Now: now.Add(time.Hour)})
	require.Len(t, plan.Creates, 2)
	require.Len(t, plan.Updates, 1)

	_, err = db.ApplyPlan(ctx, plan, now.Add(time.Hour), nil)
	require.Error(t, err)

	after, err := db.LoadCatalog(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)

	sup, err := db.GetSupplier(ctx, "textile-a")
	require.NoError(t, err)
	require.Equal(t, 2, sup.Status.FabricsCount)
}

func TestApplyPlanRollsBackOnWriteFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	plan := catalog.Reconcile(catalog.Input{SupplierID: 7, Parsed: parsed(), Now: now})
	require.Len(t, plan.Creates, 2)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fabrics").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO fabrics").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = New(conn).ApplyPlan(context.Background(), plan, now, nil)
	require.ErrorContains(t, err, "create 2 (Velvet 14)")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := db.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)

	first, err := db.AddOverride(ctx, internal.ManualOverride{SupplierID: s.ID, Type: internal.OverrideStock, CreatedAt: now})
	require.NoError(t, err)
	second, err := db.AddOverride(ctx, internal.ManualOverride{
		SupplierID: s.ID,
		Type:       internal.OverrideStock,
		Entries:    []internal.OverrideEntry{{Collection: "Velvet", ColorNumber: "12", Meterage: util.FloatPtr(100)}},
		CreatedAt:  now.Add(time.Minute),
	})
	require.NoError(t, err)
	_, err = db.AddOverride(ctx, internal.ManualOverride{SupplierID: s.ID, Type: internal.OverridePrice, CreatedAt: now})
	require.NoError(t, err)

	active, err := db.ActiveOverrides(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	ids := map[int64]internal.ManualOverride{}
	for _, o := range active {
		ids[o.ID] = o
	}
	require.NotContains(t, ids, first)
	require.Contains(t, ids, second)
	require.Equal(t, 100.0, *ids[second].Entries[0].Meterage)

	n, err := db.DeactivateOverrides(ctx, s.ID, internal.OverrideStock)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	active, err = db.ActiveOverrides(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, internal.OverridePrice, active[0].Type)

	_, err = db.AddOverride(ctx, internal.ManualOverride{SupplierID: s.ID, Type: "colour"})
	require.Error(t, err)
}

func TestParserNewerRetiresOverridesOnApply(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := db.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)
	_, err = db.AddOverride(ctx, internal.ManualOverride{SupplierID: s.ID, Type: internal.OverrideStock, CreatedAt: now})
	require.NoError(t, err)

	overrides, err := db.ActiveOverrides(ctx, s.ID)
	require.NoError(t, err)
	plan := catalog.Reconcile(catalog.Input{SupplierID: s.ID, Parsed: parsed(), Overrides: overrides, Now: now, ParserNewer: true})
	require.Len(t, plan.Deactivate, 1)

	_, err = db.ApplyPlan(ctx, plan, now, nil)
	require.NoError(t, err)
	overrides, err = db.ActiveOverrides(ctx, s.ID)
	require.NoError(t, err)
	require.Empty(t, overrides)
}

func TestSetPriceBandsReclassifies(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := db.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)
	_, err = db.ApplyPlan(ctx, catalog.Reconcile(catalog.Input{SupplierID: s.ID, Parsed: []internal.FabricRecord{
		{Collection: "Velvet", ColorNumber: "12", Price: dec("1200")},
		{Collection: "Velvet", ColorNumber: "14", Price: dec("400")},
	}, Now: now}), now, nil)
	require.NoError(t, err)

	bands := []internal.PriceBand{
		{Category: 1, Price: decimal.NewFromInt(500)},
		{Category: 2, Price: decimal.NewFromInt(1500)},
	}
	changed, err := db.SetPriceBands(ctx, bands)
	require.NoError(t, err)
	require.Equal(t, 2, changed)

	stored, err := db.PriceBands(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.True(t, stored[1].Price.Equal(decimal.NewFromInt(1500)))

	rows, err := db.LoadCatalog(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, 2, *rows[0].Category)
	require.Equal(t, 1, *rows[1].Category)

	changed, err = db.SetPriceBands(ctx, bands)
	require.NoError(t, err)
	require.Zero(t, changed)

	_, err = db.SetPriceBands(ctx, []internal.PriceBand{{Category: 1, Price: decimal.NewFromInt(-1)}})
	require.Error(t, err)
}

func TestRulesAndRuns(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := db.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)

	rs, err := db.GetRules(ctx, s.ID)
	require.NoError(t, err)
	require.Nil(t, rs)

	header := 2
	require.NoError(t, db.SaveRules(ctx, s.ID, internal.ExtractionRuleSet{
		ColumnMappings: map[internal.ColumnRole]int{internal.RoleCollection: 0, internal.RolePrice: 3},
		HeaderRow:      &header,
		SpecialRules:   internal.SpecialRules{StockSentinel: 50},
		UpdatedAt:      now,
	}))
	rs, err = db.GetRules(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, 3, rs.Column(internal.RolePrice))
	require.Equal(t, 2, *rs.HeaderRow)
	require.False(t, rs.Confirmed)
	require.Equal(t, 50.0, rs.SpecialRules.StockSentinel)

	msg := "no extraction rules"
	require.NoError(t, db.RecordRun(ctx, internal.RunRecord{
		ID: "run-1", SupplierID: s.ID, Status: internal.RunFailed, Error: &msg, StartedAt: now, Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, db.RecordRun(ctx, internal.RunRecord{
		ID: "run-2", SupplierID: s.ID, Status: internal.RunOK, Counts: internal.RunCounts{Created: 3}, StartedAt: now.Add(time.Hour),
	}))
	runs, err := db.ListRuns(ctx, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, 3, runs[0].Counts.Created)
	require.Equal(t, 1500*time.Millisecond, runs[1].Duration)
	require.Equal(t, msg, *runs[1].Error)
}

func TestRunLeaseIsSharedAcrossConnections(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")
	a, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	s, err := a.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)

	ok, err := a.ClaimRun(ctx, s.ID, "run-a", now, 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.ClaimRun(ctx, s.ID, "run-b", now.Add(time.Minute), 30*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// releasing with the wrong id keeps the lease
	require.NoError(t, b.ReleaseRun(ctx, s.ID, "run-b"))
	ok, err = b.ClaimRun(ctx, s.ID, "run-b", now.Add(2*time.Minute), 30*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, a.ReleaseRun(ctx, s.ID, "run-a"))
	ok, err = b.ClaimRun(ctx, s.ID, "run-b", now.Add(3*time.Minute), 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStaleRunLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := db.UpsertSupplier(ctx, "textile-a", "Textile A", "rules")
	require.NoError(t, err)

	ok, err := db.ClaimRun(ctx, s.ID, "crashed", now, 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = db.ClaimRun(ctx, s.ID, "next", now.Add(29*time.Minute), 30*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = db.ClaimRun(ctx, s.ID, "next", now.Add(31*time.Minute), 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
