package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"fabricsync/internal"
	"fabricsync/internal/config"
	"fabricsync/internal/connectors"
	"fabricsync/internal/connectors/mailbox"
	"fabricsync/internal/parsers"
	"fabricsync/internal/pipeline"
	"fabricsync/internal/rules"
	"fabricsync/internal/sources"
	"fabricsync/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()
	log := config.NewLogger(cfg, os.Stderr)

	registry, err := config.LoadSuppliers(cfg.SuppliersFile)
	must(err)
	must(registry.Validate(parsers.Known))

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	mail, err := mailbox.New(ctx, cfg)
	must(err)
	svc := pipeline.NewRunService(db, sources.NewLoader(cfg, mail), connectors.NewArchive(cfg.RawDocDir), cfg, log)

	cmd := os.Args[1]
	switch cmd {
	case "supplier:run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		key := fs.String("supplier", "", "supplier key")
		file := fs.String("file", "", "parse this document instead of fetching")
		typ := fs.String("type", "", "format hint for --file: html|workbook|text|pdf|email")
		parserNewer := fs.Bool("parser-newer", false, "let parsed values replace manual overrides")
		_ = fs.Parse(os.Args[2:])
		sup := findSupplier(registry, *key)
		opts, err := runOptions(*file, *typ)
		must(err)
		opts.ParserNewer = *parserNewer
		res, err := svc.Run(ctx, sup, opts)
		must(err)
		printResult(res)
	case "supplier:run-all":
		outcomes := svc.RunAll(ctx, registry.Suppliers, pipeline.RunOptions{})
		failed := 0
		for _, out := range outcomes {
			if out.Err != nil {
				failed++
				fmt.Printf("%s: error: %v\n", out.Supplier, out.Err)
				continue
			}
			printResult(out.Result)
		}
		fmt.Printf("run-all done suppliers=%d failed=%d\n", len(outcomes), failed)
	case "supplier:status":
		rows, err := db.ListSuppliers(ctx)
		must(err)
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"supplier", "kind", "status", "fabrics", "updated", "last run", "error"})
		for _, row := range rows {
			lastRun := ""
			runs, err := db.ListRuns(ctx, row.ID, 1)
			must(err)
			if len(runs) > 0 {
				lastRun = fmt.Sprintf("%s %s", runs[0].Status, runs[0].StartedAt.Local().Format("2006-01-02 15:04"))
			}
			updated := ""
			if !row.Status.LastUpdatedAt.IsZero() {
				updated = row.Status.LastUpdatedAt.Local().Format("2006-01-02 15:04")
			}
			table.Append([]string{
				row.Key,
				row.Kind,
				string(row.Status.Status),
				strconv.Itoa(row.Status.FabricsCount),
				updated,
				lastRun,
				deref(row.Status.ErrorMessage),
			})
		}
		table.Render()
	case "rules:analyze":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		key := fs.String("supplier", "", "supplier key")
		file := fs.String("file", "", "analyze this document instead of fetching")
		typ := fs.String("type", "", "format hint for --file")
		out := fs.String("out", "", "write the analysis to this xlsx file")
		_ = fs.Parse(os.Args[2:])
		sup := findSupplier(registry, *key)
		opts, err := runOptions(*file, *typ)
		must(err)
		an, _, err := svc.Analyze(ctx, sup, opts)
		must(err)
		printAnalysis(os.Stdout, an)
		if strings.TrimSpace(*out) != "" {
			must(pipeline.ExportAnalysisXLSX(an, *out))
			fmt.Printf("analysis written to %s\n", *out)
		}
	case "rules:infer":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		key := fs.String("supplier", "", "supplier key")
		file := fs.String("file", "", "infer from this document instead of fetching")
		typ := fs.String("type", "", "format hint for --file")
		confirm := fs.Bool("confirm", false, "store the inferred rules as confirmed")
		_ = fs.Parse(os.Args[2:])
		sup := findSupplier(registry, *key)
		opts, err := runOptions(*file, *typ)
		must(err)
		rs, err := svc.InferRules(ctx, sup, opts, *confirm)
		must(err)
		printRules(rs)
	case "rules:qa":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		key := fs.String("supplier", "", "supplier key")
		file := fs.String("file", "", "use this document instead of fetching")
		typ := fs.String("type", "", "format hint for --file")
		_ = fs.Parse(os.Args[2:])
		sup := findSupplier(registry, *key)
		opts, err := runOptions(*file, *typ)
		must(err)
		an, rs, err := svc.Analyze(ctx, sup, opts)
		must(err)
		printAnalysis(os.Stdout, an)
		answers, err := ask(os.Stdin, os.Stdout, rules.Questions(rs, an))
		must(err)
		confirmed, err := svc.SaveAnswers(ctx, sup, rs, answers)
		must(err)
		printRules(confirmed)
	case "categories:set":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		spec := fs.String("bands", "", "category:price pairs, e.g. 1:1000,2:3000")
		_ = fs.Parse(os.Args[2:])
		bands, err := parseBands(*spec)
		must(err)
		changed, err := db.SetPriceBands(ctx, bands)
		must(err)
		fmt.Printf("price bands saved bands=%d reclassified=%d\n", len(bands), changed)
	case "override:add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		key := fs.String("supplier", "", "supplier key")
		typ := fs.String("type", "", "stock|price")
		file := fs.String("file", "", "JSON array of entries; omit to hold every existing row")
		_ = fs.Parse(os.Args[2:])
		sup := findSupplier(registry, *key)
		entries, err := readEntries(*file)
		must(err)
		row, err := db.UpsertSupplier(ctx, sup.Key, sup.Name, sup.Kind)
		must(err)
		id, err := db.AddOverride(ctx, internal.ManualOverride{
			SupplierID: row.ID,
			Type:       internal.OverrideType(strings.ToLower(*typ)),
			Entries:    entries,
			CreatedAt:  time.Now(),
		})
		must(err)
		fmt.Printf("override added id=%d supplier=%s type=%s entries=%d\n", id, sup.Key, *typ, len(entries))
	case "override:deactivate":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		key := fs.String("supplier", "", "supplier key")
		typ := fs.String("type", "", "stock|price; empty deactivates both")
		_ = fs.Parse(os.Args[2:])
		sup := findSupplier(registry, *key)
		row, err := db.GetSupplier(ctx, sup.Key)
		must(err)
		if row == nil {
			must(fmt.Errorf("supplier %s has never run", sup.Key))
		}
		n, err := db.DeactivateOverrides(ctx, row.ID, internal.OverrideType(strings.ToLower(*typ)))
		must(err)
		fmt.Printf("overrides deactivated supplier=%s count=%d\n", sup.Key, n)
	default:
		usage()
		os.Exit(1)
	}
}

func findSupplier(registry config.Registry, key string) config.Supplier {
	if strings.TrimSpace(key) == "" {
		must(fmt.Errorf("--supplier is required"))
	}
	sup, ok := registry.Find(key)
	if !ok {
		must(fmt.Errorf("unknown supplier: %s", key))
	}
	return sup
}

func runOptions(file, typ string) (pipeline.RunOptions, error) {
	if strings.TrimSpace(file) == "" {
		if typ != "" {
			return pipeline.RunOptions{}, fmt.Errorf("--type needs --file")
		}
		return pipeline.RunOptions{}, nil
	}
	doc, err := sources.ReadFile(file)
	if err != nil {
		return pipeline.RunOptions{}, err
	}
	return pipeline.RunOptions{Document: &doc, TypeHint: internal.SourceType(strings.ToLower(typ))}, nil
}

func parseBands(spec string) ([]internal.PriceBand, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("--bands is required")
	}
	var bands []internal.PriceBand
	for _, part := range strings.Split(spec, ",") {
		cat, price, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("band %q: expected category:price", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(cat))
		if err != nil {
			return nil, fmt.Errorf("band %q: bad category", part)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("band %q: bad price", part)
		}
		bands = append(bands, internal.PriceBand{Category: n, Price: p})
	}
	return bands, nil
}

func readEntries(path string) ([]internal.OverrideEntry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []internal.OverrideEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

// ask walks the operator through the questions. A bad answer repeats the question.
func ask(in io.Reader, out io.Writer, questions []rules.Question) (rules.Answers, error) {
	answers := rules.Answers{}
	scanner := bufio.NewScanner(in)
	for _, q := range questions {
		for {
			fmt.Fprintf(out, "%s [%d]\n", q.Prompt, q.Suggested)
			for _, opt := range q.Options {
				fmt.Fprintf(out, "  %s\n", opt)
			}
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("input closed before %s was answered", q.Key)
			}
			v, err := rules.ParseAnswer(q, scanner.Text())
			if err != nil {
				fmt.Fprintf(out, "%v\n", err)
				continue
			}
			answers[q.Key] = v
			break
		}
	}
	return answers, nil
}

func printResult(res pipeline.RunResult) {
	c := res.Counts
	fmt.Printf("%s: created=%d updated=%d unchanged=%d held=%d skipped=%d warnings=%d fabrics=%d in %s\n",
		res.Supplier, c.Created, c.Updated, c.Unchanged, c.Held, c.Skipped, c.Warnings, res.FabricsCount, res.Duration.Round(time.Millisecond))
}

func printAnalysis(w io.Writer, an internal.Analysis) {
	width := 0
	for _, row := range an.SampleRows {
		if len(row) > width {
			width = len(row)
		}
	}
	header := []string{"row"}
	for c := 0; c < width; c++ {
		header = append(header, strconv.Itoa(c))
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	for i, row := range an.SampleRows {
		line := append([]string{strconv.Itoa(i)}, row...)
		for len(line) < width+1 {
			line = append(line, "")
		}
		table.Append(line)
	}
	table.Render()
	if an.HeaderRow != nil {
		fmt.Fprintf(w, "header row: %d\n", *an.HeaderRow)
	}
	roles := make([]string, 0, len(an.SuggestedColumns))
	for role := range an.SuggestedColumns {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Fprintf(w, "  %s -> column %d\n", role, an.SuggestedColumns[internal.ColumnRole(role)])
	}
}

func printRules(rs *internal.ExtractionRuleSet) {
	data, err := json.MarshalIndent(rs, "", "  ")
	must(err)
	fmt.Println(string(data))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func usage() {
	fmt.Println("usage: fabricsync <command>")
	fmt.Println("commands:")
	fmt.Println("  supplier:run --supplier=KEY [--file=PATH --type=HINT] [--parser-newer]")
	fmt.Println("  supplier:run-all")
	fmt.Println("  supplier:status")
	fmt.Println("  rules:analyze --supplier=KEY [--file=PATH] [--out=analysis.xlsx]")
	fmt.Println("  rules:infer --supplier=KEY [--file=PATH] [--confirm]")
	fmt.Println("  rules:qa --supplier=KEY [--file=PATH]")
	fmt.Println("  categories:set --bands=1:1000,2:3000")
	fmt.Println("  override:add --supplier=KEY --type=stock|price [--file=entries.json]")
	fmt.Println("  override:deactivate --supplier=KEY [--type=stock|price]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
