package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/config"
	"github.com/imageviewer/mediapipeline/internal/infra/cachealloc"
	"github.com/imageviewer/mediapipeline/internal/infra/dedup"
	"github.com/imageviewer/mediapipeline/internal/infra/derivative"
	"github.com/imageviewer/mediapipeline/internal/infra/events"
	"github.com/imageviewer/mediapipeline/internal/infra/postgres"
	"github.com/imageviewer/mediapipeline/internal/infra/storage"
	"github.com/imageviewer/mediapipeline/internal/jobs"
	"github.com/imageviewer/mediapipeline/internal/monitor"
	"github.com/imageviewer/mediapipeline/internal/resume"
	sharedevents "github.com/imageviewer/mediapipeline/internal/shared/events"
)

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

	cacheFolders := postgres.NewCacheFolderRepository(dbPool)
	allocator, err := cachealloc.New(cacheFolders)
	if err != nil {
		log.Fatalf("failed to initialize cache allocator: %v", err)
	}

	localStorage := storage.NewLocalStorage()
	renderer := derivative.NewImagingRenderer()
	hasher := dedup.NewHasher()
	broadcaster := events.NewBroadcaster()

	schedulerConfig := jobs.DefaultSchedulerConfig(cfg.RedisURL)
	schedulerConfig.RetentionDays = cfg.RetentionDays
	scheduler := jobs.NewScheduler(dbPool, schedulerConfig)

	mux := scheduler.RegisterHandlers(renderer, allocator, localStorage, hasher, broadcaster)

	// Resume incomplete jobs from a prior crash before the server starts
	// pulling new deliveries, per the Resume Coordinator's startup contract.
	jobStates := postgres.NewJobStateRepository(dbPool)
	collections := postgres.NewCollectionRepository(dbPool)
	resumeCoordinator := resume.New(collections, jobStates, scheduler.Broker())
	resumeResult, err := resumeCoordinator.Resume(ctx)
	if err != nil {
		log.Printf("resume: failed to scan for incomplete jobs: %v", err)
	} else {
		log.Printf("resume: resumed %d job(s), skipped %d, queued %d message(s)",
			resumeResult.JobsResumed, resumeResult.JobsSkipped, resumeResult.MessagesQueued)
	}

	// eventBus carries structured job-lifecycle events (stalled, completed)
	// out of the monitor's sweep; the default subscriber just logs them
	// until an operator-facing consumer (webhook, audit sink) needs one.
	eventBus := sharedevents.NewInMemoryEventBus(slog.Default())
	eventBus.SubscribeAll(func(ctx context.Context, e sharedevents.Event) error {
		slog.Info("job lifecycle event", "event", e.EventName(), "collection_id", e.CollectionID())
		return nil
	})

	mon := monitor.NewWithEventBus(jobStates, eventBus)
	sweepInterval := time.Duration(cfg.StallTimeoutMin) * time.Minute / 3
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	go mon.Run(ctx, sweepInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","worker":"running"}`)
	})
	healthServer := &http.Server{
		Addr:    ":8081",
		Handler: healthMux,
	}

	go func() {
		log.Println("health check server starting on :8081")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health check server error: %v", err)
		}
	}()

	go func() {
		log.Println("worker started, pulling from queues...")
		if err := scheduler.StartConsumer(mux); err != nil {
			log.Printf("consumer server error: %v", err)
		}
	}()

	<-sigChan
	log.Println("shutdown signal received, stopping worker...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown error: %v", err)
	}

	scheduler.Stop()

	log.Println("worker stopped")
}
