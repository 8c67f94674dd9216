package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/staylab/experiment-engine/internal/config"
	"github.com/staylab/experiment-engine/internal/export"
	"github.com/staylab/experiment-engine/internal/repository/postgres"
	"github.com/staylab/experiment-engine/internal/service/funnel"
	"github.com/staylab/experiment-engine/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	log.Println("Experiment Engine worker starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database url is required (config database.url or DATABASE_URL)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.Lifetime())
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	experimentRepo := postgres.NewExperimentRepo(db)
	assignmentRepo := postgres.NewAssignmentRepo(db)
	eventRepo := postgres.NewEventRepo(db)
	funnelSvc := funnel.NewService(eventRepo)

	// SRM guardrail sweep
	var monitor *worker.GuardrailMonitor
	if cfg.Guardrail.Enabled {
		monitor = worker.NewGuardrailMonitor(experimentRepo, assignmentRepo)
		monitor.SetSweepInterval(cfg.Guardrail.Interval())
		monitor.SetMinAssignments(cfg.Guardrail.MinAssignments)
		if err := monitor.Start(); err != nil {
			log.Fatalf("Failed to start guardrail monitor: %v", err)
		}
		// First verdicts shouldn't wait a full interval.
		monitor.SweepOnce(context.Background())
	}

	// Daily S3 funnel export
	var scheduler *worker.ExportScheduler
	if cfg.Export.Enabled && cfg.Export.S3Bucket != "" {
		exporter, err := export.NewExporter(context.Background(), export.Config{
			Bucket: cfg.Export.S3Bucket,
			Prefix: cfg.Export.S3Prefix,
			Region: cfg.Export.S3Region,
		}, funnelSvc)
		if err != nil {
			log.Fatalf("Failed to create exporter: %v", err)
		}
		scheduler = worker.NewExportScheduler(exporter, cfg.Export.HourUTC)
		if cfg.Redis.Enabled {
			opts, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				log.Fatalf("Invalid redis url: %v", err)
			}
			scheduler.SetLock(worker.NewRedisExportLock(redis.NewClient(opts), 30*time.Minute))
		}
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start export scheduler: %v", err)
		}
	}

	if monitor == nil && scheduler == nil {
		log.Fatal("nothing to do: enable guardrail and/or export in config")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	if monitor != nil {
		monitor.Stop()
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	log.Println("Worker stopped")
}
