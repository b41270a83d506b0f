package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"fabricsync/internal"
	"fabricsync/internal/config"
	"fabricsync/internal/connectors"
	"fabricsync/internal/rules"
	"fabricsync/internal/storage"
)

type fakeLoader struct {
	mu      sync.Mutex
	grids   map[string]internal.Grid
	errs    map[string]error
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeLoader) setGrid(url string, g internal.Grid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grids[url] = g
}

func (f *fakeLoader) Load(ctx context.Context, spec internal.SourceSpec) (internal.Grid, internal.Document, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[spec.URL]; err != nil {
		return nil, internal.Document{}, err
	}
	g := f.grids[spec.URL]
	return g, internal.Document{Name: "stock.html", Body: []byte(fmt.Sprint(g))}, nil
}

type harness struct {
	path   string
	db     *storage.DB
	loader *fakeLoader
	svc    *RunService
	clock  time.Time
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	tmp := t.TempDir()
	return openHarness(t, filepath.Join(tmp, "catalog.db"), filepath.Join(tmp, "raw"), cfg)
}

// openHarness builds a RunService with its own connection to the database at path.
func openHarness(t *testing.T, path, rawDir string, cfg config.Config) *harness {
	t.Helper()
	db, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		path:   path,
		db:     db,
		loader: &fakeLoader{grids: map[string]internal.Grid{}, errs: map[string]error{}},
		clock:  time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC),
	}
	if cfg.MaxConcurrentRuns == 0 {
		cfg.MaxConcurrentRuns = 2
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = NewRunService(db, h.loader, connectors.NewArchive(rawDir), cfg, log)
	h.svc.now = func() time.Time {
		h.clock = h.clock.Add(time.Minute)
		return h.clock
	}
	return h
}

func stockGrid(meterage string) internal.Grid {
	return internal.Grid{
		{"Остатки на складе"},
		{"Коллекция", "Цвет", "Наличие", "Метраж", "Цена"},
		{"Velvet", "12", "V", "", "1 200"},
		{"Velvet", "14", "", meterage, "1 200"},
		{"Итого", "", "", "", ""},
	}
}

func textileA() config.Supplier {
	return config.Supplier{
		Key:    "textile-a",
		Name:   "Textile A",
		Kind:   "rules",
		Source: internal.SourceSpec{Type: internal.SourceHTML, URL: "https://textile-a.example/stock"},
	}
}

func TestRunWithProvisionalRulesFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{})
	sup := textileA()
	h.loader.setGrid(sup.Source.URL, stockGrid("85,6"))

	_, err := h.svc.Run(ctx, sup, RunOptions{})
	var rm *internal.RuleMissingError
	require.True(t, errors.As(err, &rm), "got %v", err)

	row, err := h.db.GetSupplier(ctx, sup.Key)
	require.NoError(t, err)
	require.Equal(t, internal.StatusError, row.Status.Status)
	require.Contains(t, *row.Status.ErrorMessage, "rules:qa")

	rs, err := h.db.GetRules(ctx, row.ID)
	require.NoError(t, err)
	require.NotNil(t, rs)
	require.False(t, rs.Confirmed)
	require.Equal(t, 3, rs.Column(internal.RoleMeterage))

	runs, err := h.db.ListRuns(ctx, row.ID, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, internal.RunFailed, runs[0].Status)

	fabrics, err := h.db.LoadCatalog(ctx, row.ID)
	require.NoError(t, err)
	require.Empty(t, fabrics)
}

func TestRunCreatesThenNoops(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{TrustInferredRules: true})
	sup := textileA()
	h.loader.setGrid(sup.Source.URL, stockGrid("85,6"))

	res, err := h.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Counts.Created)
	require.Equal(t, 1, res.Counts.Skipped)
	require.Equal(t, 2, res.FabricsCount)
	require.NotEmpty(t, res.DocumentPath)
	require.NotEmpty(t, res.RunID)

	res, err = h.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
	require.Zero(t, res.Counts.Created)
	require.Zero(t, res.Counts.Updated)
	require.Equal(t, 2, res.Counts.Unchanged)

	row, err := h.db.GetSupplier(ctx, sup.Key)
	require.NoError(t, err)
	require.Equal(t, internal.StatusActive, row.Status.Status)
	require.Equal(t, res.DocumentPath, *row.LastDocument)

	fabrics, err := h.db.LoadCatalog(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, 85.6, *fabrics[1].Meterage)
	require.True(t, *fabrics[1].InStock)
}

func TestRunKeepsStockOverride(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{TrustInferredRules: true})
	sup := textileA()
	h.loader.setGrid(sup.Source.URL, stockGrid("99"))

	_, err := h.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
	row, err := h.db.GetSupplier(ctx, sup.Key)
	require.NoError(t, err)

	_, err = h.db.AddOverride(ctx, internal.ManualOverride{SupplierID: row.ID, Type: internal.OverrideStock})
	require.NoError(t, err)

	h.loader.setGrid(sup.Source.URL, stockGrid("85,6"))
	res, err := h.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Counts.Held)

	fabrics, err := h.db.LoadCatalog(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, 99.0, *fabrics[1].Meterage)

	res, err = h.svc.Run(ctx, sup, RunOptions{ParserNewer: true})
	require.NoError(t, err)
	require.Equal(t, 1, res.Counts.Updated)

	fabrics, err = h.db.LoadCatalog(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, 85.6, *fabrics[1].Meterage)

	active, err := h.db.ActiveOverrides(ctx, row.ID)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{TrustInferredRules: true})
	sup := textileA()
	h.loader.setGrid(sup.Source.URL, stockGrid("85,6"))
	h.loader.entered = make(chan struct{}, 1)
	h.loader.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Run(ctx, sup, RunOptions{})
		done <- err
	}()
	<-h.loader.entered

	_, err := h.svc.Run(ctx, sup, RunOptions{})
	require.ErrorIs(t, err, internal.ErrRunInProgress)

	close(h.loader.gate)
	require.NoError(t, <-done)

	h.loader.entered = nil
	_, err = h.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
}

func TestRunLeaseHoldsAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{TrustInferredRules: true}
	daemon := newHarness(t, cfg)
	cli := openHarness(t, daemon.path, filepath.Join(t.TempDir(), "raw"), cfg)
	sup := textileA()
	daemon.loader.setGrid(sup.Source.URL, stockGrid("85,6"))
	cli.loader.setGrid(sup.Source.URL, stockGrid("40"))
	daemon.loader.entered = make(chan struct{}, 1)
	daemon.loader.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := daemon.svc.Run(ctx, sup, RunOptions{})
		done <- err
	}()
	<-daemon.loader.entered

	_, err := cli.svc.Run(ctx, sup, RunOptions{})
	require.ErrorIs(t, err, internal.ErrRunInProgress)

	close(daemon.loader.gate)
	require.NoError(t, <-done)

	row, err := cli.db.GetSupplier(ctx, sup.Key)
	require.NoError(t, err)
	require.Equal(t, internal.StatusActive, row.Status.Status)
	require.Equal(t, 2, row.Status.FabricsCount)

	res, err := cli.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Counts.Updated)
}

func TestCompoundRunIgnoresProvisionalRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{})
	sup := config.Supplier{
		Key:    "textile-d",
		Name:   "Textile D",
		Kind:   "compound",
		Source: internal.SourceSpec{Type: internal.SourceHTML, URL: "https://textile-d.example/stock"},
	}
	h.loader.setGrid(sup.Source.URL, internal.Grid{
		{"Наименование", "Наличие", "Цена"},
		{"RETRO organza blue", "V", "3 171,00р."},
	})
	row, err := h.db.UpsertSupplier(ctx, sup.Key, sup.Name, sup.Kind)
	require.NoError(t, err)
	require.NoError(t, h.db.SaveRules(ctx, row.ID, internal.ExtractionRuleSet{
		ColumnMappings: map[internal.ColumnRole]int{internal.RoleCollection: 0, internal.RolePrice: 1},
	}))

	res, err := h.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Counts.Created)
	require.Zero(t, res.Counts.Warnings)

	fabrics, err := h.db.LoadCatalog(ctx, row.ID)
	require.NoError(t, err)
	require.Len(t, fabrics, 1)
	require.Equal(t, "3171", fabrics[0].Price.String())
}

func TestRunAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{TrustInferredRules: true})
	good := textileA()
	down := config.Supplier{
		Key:    "textile-b",
		Name:   "Textile B",
		Kind:   "rules",
		Source: internal.SourceSpec{Type: internal.SourceHTML, URL: "https://textile-b.example/stock"},
	}
	h.loader.setGrid(good.Source.URL, stockGrid("85,6"))
	h.loader.errs[down.Source.URL] = &internal.SourceUnavailableError{Source: down.Source.URL, Err: errors.New("timeout")}

	out := h.svc.RunAll(ctx, []config.Supplier{good, down}, RunOptions{})
	require.Len(t, out, 2)
	require.NoError(t, out[0].Err)
	require.Equal(t, 2, out[0].Result.Counts.Created)

	var su *internal.SourceUnavailableError
	require.True(t, errors.As(out[1].Err, &su))

	row, err := h.db.GetSupplier(ctx, down.Key)
	require.NoError(t, err)
	require.Equal(t, internal.StatusError, row.Status.Status)
}

func TestRunWithSuppliedDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{})
	sup := config.Supplier{
		Key:    "textile-c",
		Name:   "Textile C",
		Kind:   "text_list",
		Source: internal.SourceSpec{Type: internal.SourceEmail, Sender: "stock@textile-c.example"},
	}
	doc := internal.Document{
		Name: "остатки.txt",
		Body: []byte("Velvet 12 35,5 м 1 200 р.\nVelvet 14 нет\n"),
	}
	res, err := h.svc.Run(ctx, sup, RunOptions{Document: &doc})
	require.NoError(t, err)
	require.Equal(t, 2, res.Counts.Created)
}

func TestAnalyzeAndConfirm(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{})
	sup := textileA()
	h.loader.setGrid(sup.Source.URL, stockGrid("85,6"))

	an, rs, err := h.svc.Analyze(ctx, sup, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, an.HeaderRow)
	require.Equal(t, 1, *an.HeaderRow)
	require.NotNil(t, rs)

	answers := rules.Answers{}
	for _, q := range rules.Questions(rs, an) {
		answers[q.Key] = q.Suggested
	}
	confirmed, err := h.svc.SaveAnswers(ctx, sup, rs, answers)
	require.NoError(t, err)
	require.True(t, confirmed.Confirmed)

	res, err := h.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Counts.Created)

	out := filepath.Join(t.TempDir(), "analysis.xlsx")
	require.NoError(t, ExportAnalysisXLSX(an, out))
	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	v, err := f.GetCellValue(sampleSheet, "B3")
	require.NoError(t, err)
	require.Equal(t, "Коллекция", v)
	role, err := f.GetCellValue(columnsSheet, "A2")
	require.NoError(t, err)
	require.Equal(t, "collection", role)
}

func TestAnalyzeLogsWhyNothingWasSuggested(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{})
	var logs bytes.Buffer
	h.svc.log = slog.New(slog.NewTextHandler(&logs, nil))
	sup := textileA()
	h.loader.setGrid(sup.Source.URL, internal.Grid{{"Прайс обновлён"}, {"звоните"}})

	_, rs, err := h.svc.Analyze(ctx, sup, RunOptions{})
	require.NoError(t, err)
	require.Nil(t, rs)
	require.Contains(t, logs.String(), "level=WARN")
	require.Contains(t, logs.String(), "no rules suggested")
	require.Contains(t, logs.String(), "supplier=textile-a")
}

func TestInferRulesConfirm(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.Config{})
	sup := textileA()
	h.loader.setGrid(sup.Source.URL, stockGrid("85,6"))

	rs, err := h.svc.InferRules(ctx, sup, RunOptions{}, true)
	require.NoError(t, err)
	require.True(t, rs.Confirmed)

	_, err = h.svc.Run(ctx, sup, RunOptions{})
	require.NoError(t, err)
}
