// Package broker is the Message Broker Adapter of 4.F: it publishes typed
// pipeline messages onto asynq/Redis queues standing in for the spec's
// topic-exchange bindings (see SPEC_FULL.md 4.F for why asynq rather than
// an AMQP client). Declaration policy — bounded queue length, a DLX, and a
// log-and-continue posture on redeclare conflicts — is enforced here so
// callers never talk to asynq directly.
package broker

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// maxQueueLength approximates the spec's "max-length ≈ 5×10⁷" bound. asynq
// has no native per-queue max-length primitive, so the adapter enforces it
// itself before every enqueue by checking the queue's current size.
const maxQueueLength = 50_000_000

// DLXSuffix is the suffix reserved for a dead-letter queue name. The adapter
// does not use it: dead-lettered tasks stay in asynq's archived state of
// their own queue (see DeadLettered) and are not moved into a ".dlx" queue.
const DLXSuffix = ".dlx"

// Adapter wraps an asynq.Client with the bounded-length + log-and-continue
// declaration policy 4.F describes.
type Adapter struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// New constructs an Adapter against redisAddr.
func New(redisAddr string) *Adapter {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Adapter{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// Client exposes the underlying asynq client for task enqueueing call sites
// that already build a fully-configured *asynq.Task (see internal/jobs).
func (a *Adapter) Client() *asynq.Client {
	return a.client
}

// Enqueue publishes task, refusing (QueueArgsMismatch per §7) once the
// target queue's depth has reached the bounded-length cap rather than
// growing it unboundedly the way an undeclared AMQP queue would.
func (a *Adapter) Enqueue(ctx context.Context, task *asynq.Task, queue string) (*asynq.TaskInfo, error) {
	depth, err := a.queueDepth(queue)
	if err != nil {
		// Inspector errors (e.g. queue not yet created) are not fatal: asynq
		// creates the queue lazily on first enqueue, mirroring the spec's
		// "log and use the existing queue" posture for declare conflicts.
		log.Printf("broker: could not inspect queue %q before enqueue: %v", queue, err)
	} else if depth >= maxQueueLength {
		return nil, shared.NewDomainError(shared.ErrQueueArgsMismatch, "queue "+queue+" has reached its bounded-length cap")
	}

	info, err := a.client.EnqueueContext(ctx, task, asynq.Queue(queue))
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrBrokerUnavailable, "failed to enqueue task: "+err.Error())
	}
	return info, nil
}

func (a *Adapter) queueDepth(queue string) (int, error) {
	info, err := a.inspector.GetQueueInfo(queue)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// DeadLettered lists every task in queue that has exhausted its retry
// budget and landed in asynq's archived state — the adapter's DLX, per
// 4.F's "route to DLX after maxRetryCount=3 redeliveries" policy.
func (a *Adapter) DeadLettered(queue string) ([]*asynq.TaskInfo, error) {
	return a.inspector.ListArchivedTasks(queue)
}

// RequeueDeadLettered moves one archived task back to pending, for manual
// operator-triggered retry after the underlying cause has been fixed.
func (a *Adapter) RequeueDeadLettered(queue, taskID string) error {
	return a.inspector.RunTask(queue, taskID)
}

// PurgeQueue drops every pending, scheduled, retry, archived, and completed
// task in queue, for the mediactl clear-queue operator command. Returns the
// total number of tasks removed.
func (a *Adapter) PurgeQueue(queue string) (int, error) {
	total := 0
	for _, del := range []func(string) (int, error){
		a.inspector.DeleteAllPendingTasks,
		a.inspector.DeleteAllScheduledTasks,
		a.inspector.DeleteAllRetryTasks,
		a.inspector.DeleteAllArchivedTasks,
		a.inspector.DeleteAllCompletedTasks,
	} {
		n, err := del(queue)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Close releases the underlying asynq client and inspector connections.
func (a *Adapter) Close() error {
	if err := a.client.Close(); err != nil {
		return err
	}
	return a.inspector.Close()
}
