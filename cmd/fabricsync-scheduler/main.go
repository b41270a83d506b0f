package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fabricsync/internal/config"
	"fabricsync/internal/connectors"
	"fabricsync/internal/connectors/mailbox"
	"fabricsync/internal/parsers"
	"fabricsync/internal/pipeline"
	"fabricsync/internal/scheduler"
	"fabricsync/internal/sources"
	"fabricsync/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	log := config.NewLogger(cfg, os.Stderr)

	registry, err := config.LoadSuppliers(cfg.SuppliersFile)
	must(err)
	must(registry.Validate(parsers.Known))

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mail, err := mailbox.New(ctx, cfg)
	must(err)
	runs := pipeline.NewRunService(db, sources.NewLoader(cfg, mail), connectors.NewArchive(cfg.RawDocDir), cfg, log)

	log.Info("scheduler started", "suppliers", len(registry.Suppliers), "interval", cfg.SchedulerInterval)
	svc := scheduler.NewService(runs, db, registry.Suppliers, cfg, log)
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
