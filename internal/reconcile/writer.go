// Package reconcile applies the financial consequence of a job's
// terminal outcome: confirm the debit on success, refund it on failure.
// Both the job-status write and the ledger write happen in one database
// transaction, guarded by a row lock plus status compare-and-set, so the
// first terminal writer wins and every later poll or callback for the
// same job is a detected duplicate with no side effects.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pixelmint/backend/internal/events"
	"github.com/pixelmint/backend/internal/ledger"
	"github.com/pixelmint/backend/internal/metrics"
	"github.com/pixelmint/backend/internal/models"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// JobStore is the subset of the job repository the writer needs.
type JobStore interface {
	GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.GenerationJob, error)
	FinalizeSuccessTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, images []string, providerMetadata json.RawMessage, tokensCharged int64) (bool, error)
	FinalizeFailureTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, errorMessage string) (bool, error)
}

// LedgerStore is the subset of the ledger repository the writer needs.
type LedgerStore interface {
	DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, description string, referenceID *string) (*models.Transaction, error)
	CreditTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, txType, description string, referenceID *string) (*models.Transaction, error)
	HasRefundForJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error)
}

// EnqueueRetryFunc durably re-enqueues a failure reconciliation so a
// failed refund is redelivered at least once instead of being dropped.
// Provided by main as a closure over river.Client.Insert.
type EnqueueRetryFunc func(ctx context.Context, jobID uuid.UUID, errorMessage string) error

type Writer struct {
	db      TxBeginner
	jobs    JobStore
	ledger  LedgerStore
	events  events.Publisher
	enqueue EnqueueRetryFunc
	log     *slog.Logger
}

func NewWriter(db TxBeginner, jobs JobStore, ledgerStore LedgerStore, pub events.Publisher, enqueue EnqueueRetryFunc, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Writer{db: db, jobs: jobs, ledger: ledgerStore, events: pub, enqueue: enqueue, log: log}
}

// FinalizeSuccess marks the job completed and attaches its images. If the
// charge was deferred (sync path: nothing debited yet), the debit happens
// here. Calling it for an already-terminal job is a logged no-op.
func (w *Writer) FinalizeSuccess(ctx context.Context, jobID uuid.UUID, images []string, providerMetadata json.RawMessage) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := w.jobs.GetByIDForUpdateTx(ctx, tx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if models.IsTerminalStatus(job.Status) {
		w.logDuplicate(job, "success")
		return nil
	}

	charged := job.TokensCharged
	if charged == 0 && job.TokensCost > 0 {
		ref := jobID.String()
		if _, err := w.ledger.DebitTx(ctx, tx, job.AccountID, job.TokensCost, "generation "+job.Model, &ref); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				// The provider already produced the images; completing
				// uncharged beats failing a delivered job. Logged loudly
				// for operator follow-up.
				w.log.Error("job completed without charge: balance could not cover deferred debit",
					"job_id", jobID, "account_id", job.AccountID, "tokens_cost", job.TokensCost)
			} else {
				return fmt.Errorf("deferred debit for job %s: %w", jobID, err)
			}
		} else {
			charged = job.TokensCost
		}
	}

	won, err := w.jobs.FinalizeSuccessTx(ctx, tx, jobID, images, providerMetadata, charged)
	if err != nil {
		return fmt.Errorf("finalize success for job %s: %w", jobID, err)
	}
	if !won {
		// The row lock should have prevented this, but the CAS is the
		// final authority.
		w.logDuplicate(job, "success")
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize success for job %s: %w", jobID, err)
	}

	metrics.JobsFinalized.WithLabelValues("completed").Inc()
	w.events.JobResolved(ctx, events.JobResolvedEvent{
		JobID:     jobID,
		AccountID: job.AccountID,
		Status:    models.JobStatusCompleted,
		Images:    images,
	})
	w.log.Info("job finalized", "job_id", jobID, "status", "completed", "tokens_charged", charged)
	return nil
}

// FinalizeFailure marks the job failed and refunds the charged tokens.
// Idempotent: a duplicate call, or a redelivered one, never refunds
// twice. If the transaction cannot be applied, the whole operation is
// re-enqueued durably — a failed refund is a real monetary discrepancy
// and must never be dropped.
func (w *Writer) FinalizeFailure(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	if err := w.finalizeFailure(ctx, jobID, errorMessage); err != nil {
		w.scheduleRetry(ctx, jobID, errorMessage, err)
		return err
	}
	return nil
}

// ApplyFailure is FinalizeFailure without the durable re-enqueue. It is
// for callers that already run inside the durable queue, whose own retry
// schedule covers a failed attempt.
func (w *Writer) ApplyFailure(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	return w.finalizeFailure(ctx, jobID, errorMessage)
}

func (w *Writer) finalizeFailure(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := w.jobs.GetByIDForUpdateTx(ctx, tx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if models.IsTerminalStatus(job.Status) {
		w.logDuplicate(job, "failure")
		return nil
	}

	if job.TokensCharged > 0 {
		refunded, err := w.ledger.HasRefundForJobTx(ctx, tx, jobID)
		if err != nil {
			return fmt.Errorf("refund lookup for job %s: %w", jobID, err)
		}
		if !refunded {
			ref := jobID.String()
			if _, err := w.ledger.CreditTx(ctx, tx, job.AccountID, job.TokensCharged, models.TxTypeRefund, "generation failed: "+errorMessage, &ref); err != nil {
				return fmt.Errorf("refund for job %s: %w", jobID, err)
			}
		}
	}

	won, err := w.jobs.FinalizeFailureTx(ctx, tx, jobID, errorMessage)
	if err != nil {
		return fmt.Errorf("finalize failure for job %s: %w", jobID, err)
	}
	if !won {
		w.logDuplicate(job, "failure")
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize failure for job %s: %w", jobID, err)
	}

	metrics.JobsFinalized.WithLabelValues("failed").Inc()
	w.events.JobResolved(ctx, events.JobResolvedEvent{
		JobID:        jobID,
		AccountID:    job.AccountID,
		Status:       models.JobStatusFailed,
		ErrorMessage: errorMessage,
	})
	w.log.Info("job finalized", "job_id", jobID, "status", "failed", "tokens_refunded", job.TokensCharged)
	return nil
}

// scheduleRetry hands a failed failure-reconciliation to the durable
// queue. Enqueue failure here is the worst case: an unresolved monetary
// liability with nowhere to go but the log and the alert counter.
func (w *Writer) scheduleRetry(ctx context.Context, jobID uuid.UUID, errorMessage string, cause error) {
	if w.enqueue == nil {
		w.log.Error("UNRESOLVED REFUND: failure reconciliation failed and no retry queue is wired",
			"job_id", jobID, "error", cause)
		metrics.RefundEnqueueFailures.Inc()
		return
	}
	if err := w.enqueue(ctx, jobID, errorMessage); err != nil {
		w.log.Error("UNRESOLVED REFUND: failure reconciliation failed and could not be re-enqueued",
			"job_id", jobID, "error", cause, "enqueue_error", err)
		metrics.RefundEnqueueFailures.Inc()
		return
	}
	metrics.RefundsRedelivered.Inc()
	w.log.Warn("failure reconciliation re-enqueued for durable retry", "job_id", jobID, "error", cause)
}

// logDuplicate records a detected duplicate terminal transition. This is
// the expected idempotency case (stale poll after a callback, repeated
// callback, redelivered queue job), not an error.
func (w *Writer) logDuplicate(job *models.GenerationJob, attempted string) {
	metrics.DuplicateFinalizations.Inc()
	w.log.Debug("terminal transition on already-terminal job ignored",
		"job_id", job.ID, "status", job.Status, "attempted", attempted)
}
