package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fabricsync/internal"
	"fabricsync/internal/catalog"
	"fabricsync/internal/config"
	"fabricsync/internal/parsers"
	"fabricsync/internal/rules"
	"fabricsync/internal/sources"
	"fabricsync/internal/storage"
)

// Repository is the persistence a run needs. *storage.DB implements it.
type Repository interface {
	UpsertSupplier(ctx context.Context, key, name, kind string) (internal.SupplierRow, error)
	LoadCatalog(ctx context.Context, supplierID int64) ([]internal.CatalogFabric, error)
	ActiveOverrides(ctx context.Context, supplierID int64) ([]internal.ManualOverride, error)
	GetRules(ctx context.Context, supplierID int64) (*internal.ExtractionRuleSet, error)
	SaveRules(ctx context.Context, supplierID int64, rs internal.ExtractionRuleSet) error
	PriceBands(ctx context.Context) ([]internal.PriceBand, error)
	ApplyPlan(ctx context.Context, plan catalog.Plan, now time.Time, document *string) (storage.ApplyResult, error)
	SetSupplierError(ctx context.Context, supplierID int64, msg string, at time.Time) error
	RecordRun(ctx context.Context, run internal.RunRecord) error
	ClaimRun(ctx context.Context, supplierID int64, runID string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseRun(ctx context.Context, supplierID int64, runID string) error
}

// Loader turns a source spec into a grid and the raw document behind it.
type Loader interface {
	Load(ctx context.Context, spec internal.SourceSpec) (internal.Grid, internal.Document, error)
}

// Archiver keeps raw documents; it returns where the document was stored.
type Archiver interface {
	Store(doc internal.Document) (string, error)
}

type RunOptions struct {
	// Document replaces the fetch with an operator-supplied file.
	Document *internal.Document
	// TypeHint overrides the format detection of Document.
	TypeHint internal.SourceType
	// ParserNewer bypasses manual overrides and retires them on apply.
	ParserNewer bool
}

// RunContext is the state of one supplier run. Nothing in it outlives the run.
type RunContext struct {
	RunID      string
	Supplier   config.Supplier
	SupplierID int64
	Now        time.Time
	Log        *slog.Logger
	Options    RunOptions
}

type RunResult struct {
	RunID        string
	Supplier     string
	Counts       internal.RunCounts
	Warnings     []internal.NormalizationWarning
	FabricsCount int
	DocumentPath string
	Duration     time.Duration
}

// RunOutcome is one supplier's result within RunAll.
type RunOutcome struct {
	Supplier string
	Result   RunResult
	Err      error
}

type RunService struct {
	repo    Repository
	loader  Loader
	archive Archiver
	cfg     config.Config
	log     *slog.Logger
	now     func() time.Time
}

func NewRunService(repo Repository, loader Loader, archive Archiver, cfg config.Config, log *slog.Logger) *RunService {
	if log == nil {
		log = slog.Default()
	}
	return &RunService{
		repo:    repo,
		loader:  loader,
		archive: archive,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Run fetches, parses and reconciles one supplier. The catalog either takes
// the whole batch or nothing; on failure the supplier is marked with the
// error and its rows keep their previous values.
//
// Only one run per supplier holds the lease at a time, across processes; a
// second trigger is rejected with ErrRunInProgress, not queued.
func (s *RunService) Run(ctx context.Context, sup config.Supplier, opts RunOptions) (RunResult, error) {
	start := time.Now()
	rc := &RunContext{
		RunID:    uuid.NewString(),
		Supplier: sup,
		Now:      s.now(),
		Options:  opts,
	}
	rc.Log = s.log.With("run_id", rc.RunID, "supplier", sup.Key)

	row, err := s.repo.UpsertSupplier(ctx, sup.Key, sup.Name, sup.Kind)
	if err != nil {
		return RunResult{}, fmt.Errorf("register supplier %s: %w", sup.Key, err)
	}
	rc.SupplierID = row.ID

	claimed, err := s.repo.ClaimRun(ctx, rc.SupplierID, rc.RunID, rc.Now, s.cfg.RunLease())
	if err != nil {
		return RunResult{}, fmt.Errorf("claim run lease for %s: %w", sup.Key, err)
	}
	if !claimed {
		rc.Log.Warn("run rejected", "reason", internal.ErrRunInProgress)
		return RunResult{}, fmt.Errorf("%s: %w", sup.Key, internal.ErrRunInProgress)
	}
	defer func() {
		if err := s.repo.ReleaseRun(context.WithoutCancel(ctx), rc.SupplierID, rc.RunID); err != nil {
			rc.Log.Error("release run lease", "err", err)
		}
	}()

	res, err := s.execute(ctx, rc)
	res.RunID = rc.RunID
	res.Supplier = sup.Key
	res.Duration = time.Since(start)

	record := internal.RunRecord{
		ID:         rc.RunID,
		SupplierID: rc.SupplierID,
		Status:     internal.RunOK,
		Counts:     res.Counts,
		StartedAt:  rc.Now,
		Duration:   res.Duration,
	}
	if res.DocumentPath != "" {
		record.DocumentPath = &res.DocumentPath
	}
	if err != nil {
		msg := err.Error()
		record.Status = internal.RunFailed
		record.Error = &msg
		if serr := s.repo.SetSupplierError(ctx, rc.SupplierID, msg, rc.Now); serr != nil {
			rc.Log.Error("mark supplier failed", "err", serr)
		}
		rc.Log.Error("run failed", "err", err, "duration", res.Duration)
	} else {
		rc.Log.Info("run complete",
			"created", res.Counts.Created,
			"updated", res.Counts.Updated,
			"unchanged", res.Counts.Unchanged,
			"held", res.Counts.Held,
			"warnings", res.Counts.Warnings,
			"skipped", res.Counts.Skipped,
			"fabrics", res.FabricsCount,
			"duration", res.Duration,
		)
	}
	if rerr := s.repo.RecordRun(ctx, record); rerr != nil {
		rc.Log.Error("record run", "err", rerr)
	}
	return res, err
}

func (s *RunService) execute(ctx context.Context, rc *RunContext) (RunResult, error) {
	var res RunResult
	sup := rc.Supplier

	grid, doc, err := s.load(ctx, sup, rc.Options)
	if err != nil {
		return res, err
	}
	if s.archive != nil && len(doc.Body) > 0 {
		if path, err := s.archive.Store(doc); err != nil {
			rc.Log.Warn("archive document", "err", err)
		} else {
			res.DocumentPath = path
		}
	}

	rs, err := s.rulesFor(ctx, rc, grid)
	if err != nil {
		return res, err
	}

	parse, err := parsers.Lookup(sup.Kind)
	if err != nil {
		return res, err
	}
	parsed, err := parse(grid, parsers.Options{Rules: rs, DefaultSentinel: s.cfg.DefaultStockSentinel, Now: rc.Now})
	if err != nil {
		var rm *internal.RuleMissingError
		if errors.As(err, &rm) && rm.Supplier == "" {
			rm.Supplier = sup.Key
		}
		return res, err
	}
	res.Warnings = parsed.Warnings
	for _, w := range parsed.Warnings {
		rc.Log.Warn("normalization", "row", w.Row+1, "field", string(w.Field), "raw", w.Raw)
	}

	current, err := s.repo.LoadCatalog(ctx, rc.SupplierID)
	if err != nil {
		return res, fmt.Errorf("load catalog: %w", err)
	}
	overrides, err := s.repo.ActiveOverrides(ctx, rc.SupplierID)
	if err != nil {
		return res, fmt.Errorf("load overrides: %w", err)
	}
	bands, err := s.repo.PriceBands(ctx)
	if err != nil {
		return res, fmt.Errorf("load price categories: %w", err)
	}

	plan := catalog.Reconcile(catalog.Input{
		SupplierID:  rc.SupplierID,
		Catalog:     current,
		Parsed:      parsed.Records,
		Overrides:   overrides,
		Bands:       bands,
		Now:         rc.Now,
		ParserNewer: rc.Options.ParserNewer,
	})
	plan.Counts.Warnings = len(parsed.Warnings)
	plan.Counts.Skipped = parsed.Skipped
	res.Counts = plan.Counts

	var docPath *string
	if res.DocumentPath != "" {
		docPath = &res.DocumentPath
	}
	applied, err := s.repo.ApplyPlan(ctx, plan, rc.Now, docPath)
	if err != nil {
		return res, &internal.ReconciliationError{Supplier: sup.Key, Err: err}
	}
	res.FabricsCount = applied.FabricsCount
	if len(plan.Deactivate) > 0 {
		rc.Log.Info("overrides retired by newer parser data", "ids", plan.Deactivate)
	}
	return res, nil
}

func (s *RunService) load(ctx context.Context, sup config.Supplier, opts RunOptions) (internal.Grid, internal.Document, error) {
	if opts.Document != nil {
		spec := sup.Source
		if opts.TypeHint != "" {
			spec.Type = opts.TypeHint
		}
		grid, err := sources.FromDocument(*opts.Document, spec)
		return grid, *opts.Document, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout())
	defer cancel()
	return s.loader.Load(ctx, sup.Source)
}

// rulesFor returns the rule set the parse should use. A supplier whose
// variant needs rules and has none gets an inferred, provisional set that is
// stored for review; it is only used when inferred rules are trusted.
func (s *RunService) rulesFor(ctx context.Context, rc *RunContext, grid internal.Grid) (*internal.ExtractionRuleSet, error) {
	sup := rc.Supplier
	rs, err := s.repo.GetRules(ctx, rc.SupplierID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if !parsers.NeedsRules(sup.Kind) {
		// built-in columns stay until a stored set is confirmed
		if rs != nil && !rs.Confirmed && !s.cfg.TrustInferredRules {
			rc.Log.Info("ignoring provisional rules", "variant", sup.Kind)
			return nil, nil
		}
		return rs, nil
	}

	if rs == nil {
		inferred, err := rules.Infer(sup.Key, grid, rules.Options{
			MaxRows:       s.cfg.InferenceMaxRows,
			StockSentinel: s.cfg.DefaultStockSentinel,
			Now:           rc.Now,
		})
		if err != nil {
			return nil, err
		}
		if err := s.repo.SaveRules(ctx, rc.SupplierID, *inferred); err != nil {
			return nil, fmt.Errorf("save inferred rules: %w", err)
		}
		rc.Log.Info("inferred provisional rules", "columns", inferred.ColumnMappings, "header_row", *inferred.HeaderRow)
		rs = inferred
	}
	if !rs.Confirmed && !s.cfg.TrustInferredRules {
		return nil, &internal.RuleMissingError{
			Supplier: sup.Key,
			Reason:   "rule set is provisional; review it with rules:qa",
		}
	}
	return rs, nil
}

// RunAll runs every supplier with bounded parallelism. Failures are reported
// per supplier and never cancel the others.
func (s *RunService) RunAll(ctx context.Context, suppliers []config.Supplier, opts RunOptions) []RunOutcome {
	out := make([]RunOutcome, len(suppliers))
	var g errgroup.Group
	limit := s.cfg.MaxConcurrentRuns
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, sup := range suppliers {
		g.Go(func() error {
			res, err := s.Run(ctx, sup, opts)
			out[i] = RunOutcome{Supplier: sup.Key, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Analyze loads the supplier's document and returns sample rows with the
// stored or suggested column mapping, plus the rule set a Q&A session should
// start from. Nothing is persisted.
func (s *RunService) Analyze(ctx context.Context, sup config.Supplier, opts RunOptions) (internal.Analysis, *internal.ExtractionRuleSet, error) {
	row, err := s.repo.UpsertSupplier(ctx, sup.Key, sup.Name, sup.Kind)
	if err != nil {
		return internal.Analysis{}, nil, err
	}
	grid, _, err := s.load(ctx, sup, opts)
	if err != nil {
		return internal.Analysis{}, nil, err
	}
	rs, err := s.repo.GetRules(ctx, row.ID)
	if err != nil {
		return internal.Analysis{}, nil, err
	}
	an := parsers.Analyze(grid, rs, s.cfg.InferenceMaxRows)
	if rs == nil {
		rs, err = rules.Infer(sup.Key, grid, rules.Options{
			MaxRows:       s.cfg.InferenceMaxRows,
			StockSentinel: s.cfg.DefaultStockSentinel,
			Now:           s.now(),
		})
		if err != nil {
			s.log.Warn("no rules suggested", "supplier", sup.Key, "err", err)
		}
	}
	return an, rs, nil
}

// InferRules stores a freshly inferred rule set; confirm skips the Q&A step.
func (s *RunService) InferRules(ctx context.Context, sup config.Supplier, opts RunOptions, confirm bool) (*internal.ExtractionRuleSet, error) {
	row, err := s.repo.UpsertSupplier(ctx, sup.Key, sup.Name, sup.Kind)
	if err != nil {
		return nil, err
	}
	grid, _, err := s.load(ctx, sup, opts)
	if err != nil {
		return nil, err
	}
	rs, err := rules.Infer(sup.Key, grid, rules.Options{
		MaxRows:       s.cfg.InferenceMaxRows,
		StockSentinel: s.cfg.DefaultStockSentinel,
		Now:           s.now(),
	})
	if err != nil {
		return nil, err
	}
	rs.Confirmed = confirm
	if err := s.repo.SaveRules(ctx, row.ID, *rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// SaveAnswers applies Q&A answers to rs and stores the confirmed result.
func (s *RunService) SaveAnswers(ctx context.Context, sup config.Supplier, rs *internal.ExtractionRuleSet, answers rules.Answers) (*internal.ExtractionRuleSet, error) {
	row, err := s.repo.UpsertSupplier(ctx, sup.Key, sup.Name, sup.Kind)
	if err != nil {
		return nil, err
	}
	confirmed, err := rules.ApplyAnswers(rs, answers, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveRules(ctx, row.ID, *confirmed); err != nil {
		return nil, err
	}
	return confirmed, nil
}
