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

	"github.com/contractdesk/audittrail/pkg/audit"
	"github.com/contractdesk/audittrail/pkg/config"
	"github.com/contractdesk/audittrail/pkg/documents"
	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/storage"
)

var (
	configFile   = flag.String("config", "", "Path to YAML config file (default $AUDITTRAIL_CONFIG_FILE)")
	schedule     = flag.String("schedule", "", "Cron schedule for the purge sweep (overrides config)")
	runOnce      = flag.Bool("run-once", false, "Run one sweep and exit")
	sweepTimeout = flag.Duration("sweep-timeout", 30*time.Minute, "Maximum duration of a single sweep")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	cronSchedule := cfg.Retention.SweepSchedule
	if *schedule != "" {
		cronSchedule = *schedule
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("Failed to ping database")
	}

	auditStore, err := audit.NewDBStore(db, cfg.Audit.MaxPageSize)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize audit store")
	}

	documentStore, err := documents.NewDBStore(db)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize document store")
	}

	blobs, err := storage.New(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize blob store")
	}

	metrics := observability.NewMetrics(nil)
	logger := observability.NewLogger(cfg.Observability.ParsedLogLevel(), os.Stdout)
	recorder := audit.NewRecorder(auditStore, metrics)
	service := documents.NewService(documentStore, blobs, recorder, logger, metrics, cfg.Retention.Days)

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), *sweepTimeout)
		defer cancel()

		start := time.Now()
		purged, err := service.PurgeDue(ctx)
		entry := log.WithFields(logrus.Fields{
			"purged":      purged,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Error("Purge sweep failed")
			return
		}
		entry.Info("Purge sweep completed")
	}

	if *runOnce {
		log.WithField("retention_days", cfg.Retention.Days).Info("Running one-off purge sweep")
		sweep()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cronSchedule, sweep); err != nil {
		log.WithError(err).Fatalf("Failed to schedule purge sweep (%q)", cronSchedule)
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"schedule":       cronSchedule,
		"retention_days": cfg.Retention.Days,
	}).Info("Retention sweeper started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutting down, waiting for running sweep to finish")

	stopped := c.Stop()
	<-stopped.Done()

	log.Info("Retention sweeper stopped")
}

// loadConfig prefers an explicit -config path; otherwise the environment
// (including AUDITTRAIL_CONFIG_FILE) decides.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}
