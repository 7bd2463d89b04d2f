// Package workers holds the River job workers that drive asynchronous
// generation tracking and durable refund redelivery.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/pixelmint/backend/internal/gateway"
)

// Reconciler is the contract the workers need to resolve a job. It is
// satisfied by reconcile.Writer. Workers use ApplyFailure rather than
// the re-enqueueing FinalizeFailure because River already retries a
// failed work attempt on its own schedule.
type Reconciler interface {
	FinalizeSuccess(ctx context.Context, jobID uuid.UUID, images []string, providerMetadata json.RawMessage) error
	ApplyFailure(ctx context.Context, jobID uuid.UUID, errorMessage string) error
}

// StatusPoller fetches a task's normalized status from the provider.
type StatusPoller interface {
	PollOnce(ctx context.Context, externalTaskID string) (*gateway.JobStatus, error)
}

type PollGenerationArgs struct {
	JobID          uuid.UUID `json:"job_id"`
	ExternalTaskID string    `json:"external_task_id"`
}

func (PollGenerationArgs) Kind() string { return "poll_generation" }

type PollGenerationWorker struct {
	river.WorkerDefaults[PollGenerationArgs]
	poller     StatusPoller
	reconciler Reconciler
	log        *slog.Logger

	// maxElapsed bounds the in-attempt backoff loop. A job still
	// non-terminal after this returns an error so River reschedules the
	// whole attempt; after River's own max attempts the job lands in the
	// discarded set for operator review.
	maxElapsed      time.Duration
	initialInterval time.Duration
}

func NewPollGenerationWorker(poller StatusPoller, reconciler Reconciler, log *slog.Logger) *PollGenerationWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PollGenerationWorker{
		poller:          poller,
		reconciler:      reconciler,
		log:             log,
		maxElapsed:      3 * time.Minute,
		initialInterval: 2 * time.Second,
	}
}

func (w *PollGenerationWorker) Work(ctx context.Context, job *river.Job[PollGenerationArgs]) error {
	args := job.Args

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = w.maxElapsed
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.5

	var terminal *gateway.JobStatus
	operation := func() error {
		status, err := w.poller.PollOnce(ctx, args.ExternalTaskID)
		if err != nil {
			w.log.Warn("status poll failed, retrying", "job_id", args.JobID, "task_id", args.ExternalTaskID, "error", err)
			return err
		}
		if !status.State.Terminal() {
			return fmt.Errorf("task %s still %s", args.ExternalTaskID, status.State)
		}
		terminal = status
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("task not terminal within %s: %w", w.maxElapsed, err)
	}

	switch terminal.State {
	case gateway.StateSuccess:
		return w.reconciler.FinalizeSuccess(ctx, args.JobID, terminal.Images, nil)
	default:
		msg := terminal.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		return w.reconciler.ApplyFailure(ctx, args.JobID, msg)
	}
}

// FinalizeFailureArgs re-delivers a failure reconciliation whose first
// attempt could not commit. The reconciliation is idempotent, so
// at-least-once delivery is safe.
type FinalizeFailureArgs struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorMessage string    `json:"error_message"`
}

func (FinalizeFailureArgs) Kind() string { return "finalize_failure" }

type FinalizeFailureWorker struct {
	river.WorkerDefaults[FinalizeFailureArgs]
	reconciler Reconciler
	log        *slog.Logger
}

func NewFinalizeFailureWorker(reconciler Reconciler, log *slog.Logger) *FinalizeFailureWorker {
	if log == nil {
		log = slog.Default()
	}
	return &FinalizeFailureWorker{reconciler: reconciler, log: log}
}

func (w *FinalizeFailureWorker) Work(ctx context.Context, job *river.Job[FinalizeFailureArgs]) error {
	if err := w.reconciler.ApplyFailure(ctx, job.Args.JobID, job.Args.ErrorMessage); err != nil {
		w.log.Error("redelivered failure reconciliation did not commit", "job_id", job.Args.JobID, "error", err)
		return err
	}
	return nil
}
