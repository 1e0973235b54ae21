package jobs

import (
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/infra/broker"
	"github.com/imageviewer/mediapipeline/internal/infra/cachealloc"
	"github.com/imageviewer/mediapipeline/internal/infra/dedup"
	"github.com/imageviewer/mediapipeline/internal/infra/derivative"
	"github.com/imageviewer/mediapipeline/internal/infra/events"
	"github.com/imageviewer/mediapipeline/internal/infra/postgres"
	"github.com/imageviewer/mediapipeline/internal/infra/storage"
)

// SchedulerConfig holds configuration for the job scheduler.
type SchedulerConfig struct {
	RedisAddr     string
	Queues        map[string]int
	RetentionDays int
}

// DefaultSchedulerConfig returns the default scheduler configuration. Queue
// weights favor the derivative-generation queues over collection discovery,
// since a stalled scan backs up far less work than a stalled render.
func DefaultSchedulerConfig(redisAddr string) SchedulerConfig {
	return SchedulerConfig{
		RedisAddr: redisAddr,
		Queues: map[string]int{
			QueueThumbnailGeneration: 6,
			QueueCacheGeneration:     6,
			QueueImageProcessing:     3,
			QueueCollectionScan:      3,
			QueueCollectionCreation:  1,
			QueueHousekeeping:        1,
		},
		RetentionDays: 30,
	}
}

// Scheduler manages background jobs using asynq, wrapping the Message
// Broker Adapter (4.F) for enqueueing and an asynq.Server/Scheduler pair
// for consuming and periodic dispatch.
type Scheduler struct {
	broker    *broker.Adapter
	server    *asynq.Server
	scheduler *asynq.Scheduler
	pool      *pgxpool.Pool
	config    SchedulerConfig
}

// NewScheduler creates a new job scheduler.
func NewScheduler(pool *pgxpool.Pool, config SchedulerConfig) *Scheduler {
	redisOpt := asynq.RedisClientOpt{Addr: config.RedisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Queues:      config.Queues,
			Concurrency: 10,
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	return &Scheduler{
		broker:    broker.New(config.RedisAddr),
		server:    server,
		scheduler: asynq.NewScheduler(redisOpt, nil),
		pool:      pool,
		config:    config,
	}
}

// RegisterHandlers wires the five consumer workers (4.G) plus the retention
// sweep into an asynq.ServeMux, exactly where the teacher registers
// ThumbnailProcessor/CleanupProcessor in RegisterHandlers. Repositories are
// constructed here from the scheduler's pool rather than threaded through
// as parameters, matching the teacher's pattern of building queries.New(pool)
// at registration time.
func (s *Scheduler) RegisterHandlers(
	renderer derivative.Renderer,
	allocator *cachealloc.Allocator,
	strg storage.Storage,
	hasher *dedup.Hasher,
	broadcaster *events.Broadcaster,
) *asynq.ServeMux {
	collections := postgres.NewCollectionRepository(s.pool)
	jobStates := postgres.NewJobStateRepository(s.pool)
	backgroundJobs := postgres.NewBackgroundJobRepository(s.pool)
	libraries := postgres.NewLibraryRepository(s.pool)

	mux := asynq.NewServeMux()

	thumbProcessor := NewThumbnailProcessor(renderer, allocator, collections, jobStates, backgroundJobs, strg, broadcaster)
	mux.HandleFunc(TypeThumbnailGeneration, thumbProcessor.ProcessTask)

	cacheProcessor := NewCacheProcessor(renderer, allocator, collections, jobStates, backgroundJobs, strg, broadcaster)
	mux.HandleFunc(TypeCacheGeneration, cacheProcessor.ProcessTask)

	imageProcessingWorker := NewImageProcessingWorker(s.broker)
	mux.HandleFunc(TypeImageProcessing, imageProcessingWorker.ProcessTask)

	scanWorker := NewCollectionScanWorker(collections, jobStates, backgroundJobs, s.broker, hasher, broadcaster)
	mux.HandleFunc(TypeCollectionScan, scanWorker.ProcessTask)

	creationWorker := NewCollectionCreationWorker(libraries, collections, s.broker)
	mux.HandleFunc(TypeCollectionCreation, creationWorker.ProcessTask)

	cleanupProcessor := NewCleanupProcessor(jobStates, CleanupConfig{JobStateRetentionDays: s.config.RetentionDays})
	mux.HandleFunc(TypeJobStateRetention, cleanupProcessor.ProcessTask)

	return mux
}

// RegisterScheduledTasks registers all periodic tasks.
func (s *Scheduler) RegisterScheduledTasks() error {
	_, err := s.scheduler.Register("0 3 * * *", NewJobStateRetentionTask(), asynq.Queue(QueueHousekeeping))
	if err != nil {
		return err
	}
	log.Println("registered scheduled task: job-state retention sweep (daily at 3 AM)")

	return nil
}

// Start starts both the cron scheduler and the consumer server. Used by a
// combined single-process deployment; split deployments call StartCron and
// StartConsumer from separate binaries instead (cmd/scheduler, cmd/worker).
func (s *Scheduler) Start(mux *asynq.ServeMux) error {
	if err := s.StartCron(); err != nil {
		return err
	}
	return s.StartConsumer(mux)
}

// StartCron starts only the periodic-dispatch side (asynq.Scheduler),
// without pulling from any queue itself. Used by cmd/scheduler, which
// triggers periodic work (the job-state retention sweep) but leaves
// consumption of that work to the cmd/worker fleet.
func (s *Scheduler) StartCron() error {
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	log.Println("asynq scheduler started")
	return nil
}

// StartConsumer starts only the consumer side (asynq.Server), pulling and
// dispatching deliveries through mux. Used by cmd/worker.
func (s *Scheduler) StartConsumer(mux *asynq.ServeMux) error {
	if err := s.server.Start(mux); err != nil {
		return err
	}
	log.Println("asynq worker server started")
	return nil
}

// Stop gracefully stops the scheduler and worker server.
func (s *Scheduler) Stop() {
	log.Println("stopping asynq scheduler...")
	s.scheduler.Shutdown()

	log.Println("stopping asynq worker server...")
	s.server.Shutdown()

	log.Println("closing broker adapter...")
	if err := s.broker.Close(); err != nil {
		log.Printf("broker close: %v", err)
	}
}

// Broker exposes the Message Broker Adapter for callers that need to
// enqueue tasks directly (cmd/mediactl) rather than through a worker.
func (s *Scheduler) Broker() *broker.Adapter {
	return s.broker
}
