package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tariff/pkg/storage"
	"github.com/platinummonkey/tariff/pkg/storage/postgres"
)

var (
	dbURL         = flag.String("db-url", os.Getenv("TARIFF_POSTGRES_URL"), "PostgreSQL ledger URL")
	sqlitePath    = flag.String("sqlite-path", "", "SQLite ledger file (used instead of --db-url)")
	pruneSchedule = flag.String("prune-schedule", getEnv("TARIFF_PRUNE_SCHEDULE", "0 3 * * *"), "Cron schedule for pruning final commit results")
	retention     = flag.Duration("retention", 30*24*time.Hour, "Keep final commit results younger than this")
	runOnce       = flag.Bool("run-once", false, "Prune once and exit")
	logLevel      = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(level)

	if *retention <= 0 {
		log.Fatal("--retention must be positive")
	}

	db, backend, err := openLedger(context.Background())
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer db.Close()

	store := postgres.NewResultStore(db, backend, nil)

	if *runOnce {
		if err := prune(context.Background(), log, store); err != nil {
			log.Fatalf("Prune failed: %v", err)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*pruneSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := prune(ctx, log, store); err != nil {
			log.WithError(err).Error("Scheduled prune failed")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule prune: %v", err)
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"ledger":    backend,
		"schedule":  *pruneSchedule,
		"retention": retention.String(),
	}).Info("tariff janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down gracefully...")

	<-c.Stop().Done()
	log.Info("Janitor stopped")
}

func openLedger(ctx context.Context) (*sql.DB, string, error) {
	if *sqlitePath != "" {
		db, err := postgres.OpenSQLite(ctx, *sqlitePath)
		return db, storage.LedgerSQLite, err
	}

	if *dbURL == "" {
		*dbURL = "postgres://localhost/tariff?sslmode=disable"
	}
	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		return nil, "", err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, "", err
	}
	return db, storage.LedgerPostgres, nil
}

func prune(ctx context.Context, log *logrus.Logger, store *postgres.ResultStore) error {
	cutoff := time.Now().UTC().Add(-*retention)
	start := time.Now()

	removed, err := store.Prune(ctx, cutoff)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"removed":  removed,
		"cutoff":   cutoff.Format(time.RFC3339),
		"duration": time.Since(start).String(),
	}).Info("Pruned final commit results")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
