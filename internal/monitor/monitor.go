// Package monitor is the Progress/Monitor of 4.H: it turns the raw
// stage counters a FileProcessingJobState accumulates into the
// operator-visible status an API layer (out of scope here) would expose,
// and runs the periodic sweep that transitions a job to Completed once its
// terminal condition is reached — workers never set Completed directly, to
// avoid a last-message-ordering race deciding it prematurely.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/domain/jobstate"
	"github.com/imageviewer/mediapipeline/internal/shared/events"
)

// defaultStaleThreshold is the "no progress for N minutes" window the
// health check uses to flag a Running job Stalled.
const defaultStaleThreshold = 5 * time.Minute

// sampleWindow bounds the sliding window itemsPerSecond is computed over.
const sampleWindow = 60 * time.Second

// degradedFailureRatio is the failedImages/total ratio above which a job
// is reported Degraded even though it keeps running.
const degradedFailureRatio = 0.1

// HealthState is the coarse health classification GetJobStatus reports.
type HealthState string

const (
	HealthHealthy  HealthState = "Healthy"
	HealthDegraded HealthState = "Degraded"
	HealthStalled  HealthState = "Stalled"
)

// Progress is the item-count breakdown of one job.
type Progress struct {
	Total       int
	Completed   int
	Failed      int
	Skipped     int
	Percentage  float64
	CurrentStep string
}

// Timing is the elapsed/remaining-time breakdown of one job.
type Timing struct {
	StartedAt              *time.Time
	Duration                time.Duration
	EstimatedTimeRemaining *time.Duration
}

// Metrics is the throughput breakdown of one job.
type Metrics struct {
	ItemsPerSecond float64
	RetryCount     int
}

// Health is the health classification plus any human-readable issues.
type Health struct {
	Status HealthState
	Issues []string
}

// Status is the full GetJobStatus response shape from 4.H.
type Status struct {
	JobID    uuid.UUID
	Status   jobstate.Status
	Progress Progress
	Timing   Timing
	Metrics  Metrics
	Health   Health
}

// JobStateStore is the Job-State Store surface the monitor needs: read one
// job, enumerate jobs eligible for the completion sweep, and persist the
// Completed transition. Implemented by postgres.JobStateRepository.
type JobStateStore interface {
	GetByID(ctx context.Context, jobID uuid.UUID) (*jobstate.FileProcessingJobState, error)
	GetIncompleteJobs(ctx context.Context) ([]*jobstate.FileProcessingJobState, error)
	UpdateStatus(ctx context.Context, jobID uuid.UUID, status jobstate.Status, startedAt, completedAt *time.Time, canResume bool, errorMessage string) error
}

type sample struct {
	at        time.Time
	processed int
}

// Monitor implements 4.H. It keeps a small in-process sliding window of
// progress samples per job to compute itemsPerSecond; this window is not
// persisted, matching the spec's "no distributed locking, no shared
// in-memory state across workers" posture — the monitor is the one
// component explicitly allowed ephemeral local state, since it is advisory
// telemetry, not pipeline coordination.
type Monitor struct {
	store          JobStateStore
	staleThreshold time.Duration
	bus            events.EventBus

	mu      sync.Mutex
	samples map[uuid.UUID][]sample
}

// New constructs a Monitor with the default 5-minute stall threshold and no
// event bus wired — Sweep's stall/completion signals are only logged.
func New(store JobStateStore) *Monitor {
	return NewWithEventBus(store, nil)
}

// NewWithEventBus constructs a Monitor that additionally publishes
// JobStalledEvent/JobCompletedEvent onto bus as Sweep detects them, the
// structured counterpart to the log.Printf calls New leaves as the only
// signal. bus may be nil, in which case publishing is skipped.
func NewWithEventBus(store JobStateStore, bus events.EventBus) *Monitor {
	return &Monitor{
		store:          store,
		staleThreshold: defaultStaleThreshold,
		bus:            bus,
		samples:        make(map[uuid.UUID][]sample),
	}
}

// GetJobStatus computes the full status snapshot for jobID.
func (m *Monitor) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*Status, error) {
	j, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job state: %w", err)
	}
	return m.buildStatus(j, time.Now()), nil
}

func (m *Monitor) buildStatus(j *jobstate.FileProcessingJobState, now time.Time) *Status {
	processed := j.CompletedImages() + j.FailedImages() + j.SkippedImages()
	rate := m.recordAndComputeRate(j.JobID(), processed, now)

	var percentage float64
	if j.TotalImages() > 0 {
		percentage = float64(processed) / float64(j.TotalImages())
	}

	var duration time.Duration
	if j.StartedAt() != nil {
		duration = now.Sub(*j.StartedAt())
	}

	var eta *time.Duration
	if rate > 0 {
		remaining := j.TotalImages() - j.CompletedImages()
		if remaining < 0 {
			remaining = 0
		}
		d := time.Duration(float64(remaining)/rate) * time.Second
		eta = &d
	}

	health := m.computeHealth(j, now)

	return &Status{
		JobID:  j.JobID(),
		Status: j.Status(),
		Progress: Progress{
			Total:      j.TotalImages(),
			Completed:  j.CompletedImages(),
			Failed:     j.FailedImages(),
			Skipped:    j.SkippedImages(),
			Percentage: percentage,
		},
		Timing: Timing{
			StartedAt:              j.StartedAt(),
			Duration:                duration,
			EstimatedTimeRemaining: eta,
		},
		Metrics: Metrics{
			ItemsPerSecond: rate,
		},
		Health: health,
	}
}

// recordAndComputeRate appends a sample for jobID and returns the
// itemsPerSecond rate computed over the trailing sampleWindow.
func (m *Monitor) recordAndComputeRate(jobID uuid.UUID, processed int, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := append(m.samples[jobID], sample{at: now, processed: processed})

	cutoff := now.Add(-sampleWindow)
	kept := samples[:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	m.samples[jobID] = kept

	if len(kept) < 2 {
		return 0
	}
	oldest, latest := kept[0], kept[len(kept)-1]
	elapsed := latest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(latest.processed-oldest.processed) / elapsed
}

func (m *Monitor) computeHealth(j *jobstate.FileProcessingJobState, now time.Time) Health {
	var issues []string

	if j.Status() == jobstate.StatusRunning && j.IsStalled(now.Add(-m.staleThreshold)) {
		issues = append(issues, fmt.Sprintf("no progress for over %s, last error kind: %q", m.staleThreshold, lastErrorKind(j)))
		return Health{Status: HealthStalled, Issues: issues}
	}

	if j.TotalImages() > 0 && float64(j.FailedImages())/float64(j.TotalImages()) > degradedFailureRatio {
		issues = append(issues, fmt.Sprintf("%d/%d images failed", j.FailedImages(), j.TotalImages()))
		return Health{Status: HealthDegraded, Issues: issues}
	}

	return Health{Status: HealthHealthy}
}

func lastErrorKind(j *jobstate.FileProcessingJobState) string {
	if j.ErrorMessage() != "" {
		return j.ErrorMessage()
	}
	return "none"
}

// Run starts the periodic completion sweep, ticking every interval until
// ctx is cancelled. Grounded in the teacher's Scheduler.Start/Stop shape: a
// dedicated goroutine started alongside the asynq server and stopped via
// context rather than asynq's own cron scheduler, since this sweep runs
// every few minutes (cmd/worker passes a third of the stall timeout)
// rather than on a daily cron expression.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				log.Printf("monitor: sweep failed: %v", err)
			}
		}
	}
}

// Sweep transitions every Running job whose stage counters have reached
// their terminal condition to Completed. Workers only ever increment
// counters; this is the single place Completed is ever set, so a
// last-delivery race between two stages can never leave the job stuck
// half-transitioned.
func (m *Monitor) Sweep(ctx context.Context) error {
	jobs, err := m.store.GetIncompleteJobs(ctx)
	if err != nil {
		return fmt.Errorf("list incomplete jobs: %w", err)
	}

	now := time.Now()
	for _, j := range jobs {
		if j.Status() == jobstate.StatusRunning && j.IsStalled(now.Add(-m.staleThreshold)) {
			m.publish(ctx, events.NewJobStalledEvent(j.CollectionID(), j.JobID(), now.Format(time.RFC3339)))
		}

		if j.Status() != jobstate.StatusRunning || !j.IsDone() {
			continue
		}
		if err := j.Complete(now); err != nil {
			log.Printf("monitor: job %s not completable: %v", j.JobID(), err)
			continue
		}
		if err := m.store.UpdateStatus(ctx, j.JobID(), j.Status(), j.StartedAt(), j.CompletedAt(), j.CanResume(), j.ErrorMessage()); err != nil {
			log.Printf("monitor: failed to persist completion for job %s: %v", j.JobID(), err)
		}
		m.publish(ctx, events.NewJobCompletedEvent(j.CollectionID(), j.JobID(), j.CompletedImages(), j.FailedImages(), j.SkippedImages()))
	}
	return nil
}

// publish forwards event to bus, swallowing the no-bus case. Handler errors
// are logged by the bus itself; a failed subscriber never blocks the sweep.
func (m *Monitor) publish(ctx context.Context, event events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		log.Printf("monitor: event publish failed: %v", err)
	}
}
