package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/config"
	"github.com/imageviewer/mediapipeline/internal/jobs"
)

// scheduler is the periodic-dispatch half of the pipeline: it registers
// and drives the cron-triggered housekeeping task but never pulls from a
// consumer queue itself, leaving that to the cmd/worker fleet.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}
	log.Println("connected to database successfully")

	schedulerConfig := jobs.DefaultSchedulerConfig(cfg.RedisURL)
	schedulerConfig.RetentionDays = cfg.RetentionDays
	scheduler := jobs.NewScheduler(dbPool, schedulerConfig)

	if err := scheduler.RegisterScheduledTasks(); err != nil {
		log.Fatalf("failed to register scheduled tasks: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","scheduler":"running"}`)
	})
	healthServer := &http.Server{
		Addr:    ":8082",
		Handler: healthMux,
	}

	go func() {
		log.Println("health check server starting on :8082")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health check server error: %v", err)
		}
	}()

	go func() {
		log.Println("starting cron dispatch...")
		if err := scheduler.StartCron(); err != nil {
			log.Fatalf("cron scheduler error: %v", err)
		}
	}()

	log.Println("job scheduler started successfully")
	log.Println("scheduled tasks:")
	log.Println("  - job-state retention sweep: daily at 3 AM")

	<-sigChan
	log.Println("shutdown signal received, stopping scheduler...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown error: %v", err)
	}

	scheduler.Stop()

	log.Println("scheduler stopped")
}
