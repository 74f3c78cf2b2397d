package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/rebatewell/go-wearables/core"
)

// JobIDSyncRecent names the queued background sync job.
const JobIDSyncRecent = "wearables.sync.recent"

const defaultNackDelay = time.Minute

// EnqueueSyncRecent schedules a background sync for one member and source.
// The idempotency key collapses duplicate requests for the same pair within
// one queue window.
func EnqueueSyncRecent(ctx context.Context, enqueuer core.JobEnqueuer, member core.MemberRef, source core.Source) error {
	if enqueuer == nil {
		return errors.New("sync: enqueuer is required")
	}
	if err := member.Validate(); err != nil {
		return err
	}
	parsed, err := core.ParseSource(string(source))
	if err != nil {
		return err
	}
	return enqueuer.Enqueue(ctx, &core.JobExecutionMessage{
		JobID: JobIDSyncRecent,
		Parameters: map[string]any{
			"member_id": strings.TrimSpace(member.ID),
			"source":    string(parsed),
		},
		IdempotencyKey: JobIDSyncRecent + ":" + strings.TrimSpace(member.ID) + ":" + string(parsed),
	})
}

// Worker drains queued sync jobs and runs them through the aggregator.
type Worker struct {
	dequeuer   core.JobDequeuer
	aggregator *Aggregator
	hooks      []core.JobWorkerHook
	logger     core.Logger
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger core.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithWorkerHook(hook core.JobWorkerHook) WorkerOption {
	return func(w *Worker) {
		if hook != nil {
			w.hooks = append(w.hooks, hook)
		}
	}
}

func NewWorker(dequeuer core.JobDequeuer, aggregator *Aggregator, options ...WorkerOption) (*Worker, error) {
	if dequeuer == nil {
		return nil, errors.New("sync: dequeuer is required")
	}
	if aggregator == nil {
		return nil, errors.New("sync: aggregator is required")
	}
	worker := &Worker{
		dequeuer:   dequeuer,
		aggregator: aggregator,
		logger:     glog.Nop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(worker)
	}
	worker.logger = glog.Ensure(worker.logger)
	return worker, nil
}

// Run drains the queue until the context is done. Dequeue errors other than
// context cancellation are logged and retried.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("sync: worker is nil")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.WithContext(ctx).Error("dequeue failed", "error", err.Error())
			continue
		}
		if delivery == nil {
			continue
		}
		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, delivery core.JobDelivery) {
	message := delivery.Message()
	if message == nil {
		_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty message"})
		return
	}

	event := core.JobWorkerEvent{Message: message, StartedAt: time.Now().UTC()}
	for _, hook := range w.hooks {
		hook.OnStart(ctx, event)
	}

	err := w.execute(ctx, message)
	event.Duration = time.Since(event.StartedAt)
	event.Err = err

	if err == nil {
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			w.logger.WithContext(ctx).Error("ack failed", "job_id", message.JobID, "error", ackErr.Error())
		}
		for _, hook := range w.hooks {
			hook.OnSuccess(ctx, event)
		}
		return
	}

	// Credential and validation failures do not heal on retry; transient
	// provider failures go back on the queue with a delay.
	options := core.JobNackOptions{Reason: err.Error()}
	if isRetryableSyncError(err) {
		options.Requeue = true
		options.Delay = defaultNackDelay
	} else {
		options.DeadLetter = true
	}
	if nackErr := delivery.Nack(ctx, options); nackErr != nil {
		w.logger.WithContext(ctx).Error("nack failed", "job_id", message.JobID, "error", nackErr.Error())
	}
	for _, hook := range w.hooks {
		if options.Requeue {
			hook.OnRetry(ctx, event)
			continue
		}
		hook.OnFailure(ctx, event)
	}
}

func (w *Worker) execute(ctx context.Context, message *core.JobExecutionMessage) error {
	if message.JobID != JobIDSyncRecent {
		return fmt.Errorf("sync: unknown job id %q", message.JobID)
	}
	memberID := readParam(message.Parameters, "member_id")
	sourceName := readParam(message.Parameters, "source")
	if memberID == "" || sourceName == "" {
		return fmt.Errorf("sync: job %q is missing member_id or source", message.JobID)
	}

	result, err := w.aggregator.SyncRecent(ctx, core.MemberRef{ID: memberID}, core.Source(sourceName))
	if err != nil {
		return err
	}
	w.logger.WithContext(ctx).Info("background sync finished",
		"member_id", memberID,
		"source", sourceName,
		"connected", result.Connected,
		"unavailable", len(result.Unavailable),
	)
	return nil
}

func isRetryableSyncError(err error) bool {
	return errors.Is(err, core.ErrProviderUnavailable) ||
		errors.Is(err, core.ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

func readParam(parameters map[string]any, key string) string {
	if len(parameters) == 0 {
		return ""
	}
	value, ok := parameters[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
