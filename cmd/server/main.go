package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/staylab/experiment-engine/internal/api"
	"github.com/staylab/experiment-engine/internal/cache"
	"github.com/staylab/experiment-engine/internal/config"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/repository/postgres"
	"github.com/staylab/experiment-engine/internal/service/assignment"
	"github.com/staylab/experiment-engine/internal/service/experiment"
	"github.com/staylab/experiment-engine/internal/service/funnel"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("Experiment Engine API server starting")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database url is required (config database.url or DATABASE_URL)")
	}

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.Lifetime())
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database at %s: %v", extractHost(cfg.Database.URL), err)
	}
	log.Printf("Connected to database at %s", extractHost(cfg.Database.URL))

	// Repositories
	experimentRepo := postgres.NewExperimentRepo(db)
	assignmentRepo := postgres.NewAssignmentRepo(db)
	eventRepo := postgres.NewEventRepo(db)

	// Services
	experimentSvc := experiment.NewService(experimentRepo)
	funnelSvc := funnel.NewService(eventRepo)

	// Experiment reads on the assign hot path go through Redis when enabled.
	var reader assignment.ExperimentReader = repoReader{experimentRepo}
	var invalidator api.Invalidator
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis url: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unavailable at %s, serving without cache: %v", cfg.Redis.URL, err)
		} else {
			c := cache.NewExperimentCache(rdb, experimentRepo, cfg.Redis.TTL())
			reader = c
			invalidator = c
			log.Printf("Experiment cache enabled (redis %s)", cfg.Redis.URL)
		}
	}
	assignmentSvc := assignment.NewService(assignmentRepo, reader)

	// HTTP
	handlers := api.NewHandlers(experimentSvc, assignmentSvc, funnelSvc)
	if invalidator != nil {
		handlers.SetInvalidator(invalidator)
	}
	router := api.SetupRoutes(handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// repoReader adapts the experiment repository to the assignment service's
// reader interface when no cache is configured.
type repoReader struct {
	repo experiment.Repository
}

func (r repoReader) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	return r.repo.Get(ctx, id)
}
