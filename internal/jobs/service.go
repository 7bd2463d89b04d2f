package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pixelmint/backend/internal/gateway"
	"github.com/pixelmint/backend/internal/ledger"
	"github.com/pixelmint/backend/internal/models"
	"github.com/pixelmint/backend/internal/pricing"
)

// Store is the job persistence contract the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, j *models.GenerationJob) error
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.GenerationJob, error)
	MarkProcessingTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, externalTaskID string, tokensCharged int64) error
}

// Ledger is the subset of ledger operations the service needs: the fast
// pre-check read plus the transactional debit at acceptance time.
type Ledger interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, description string, referenceID *string) (*models.Transaction, error)
}

// Finalizer applies terminal transitions. Implemented by the
// reconciliation writer.
type Finalizer interface {
	FinalizeSuccess(ctx context.Context, jobID uuid.UUID, images []string, providerMetadata json.RawMessage) error
	FinalizeFailure(ctx context.Context, jobID uuid.UUID, errorMessage string) error
}

// InsertPollJobTxFunc enqueues a durable poll job within the given
// transaction. Provided by main as a closure over river.Client.InsertTx.
type InsertPollJobTxFunc func(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, externalTaskID string) error

// CreateRequest carries the per-job settings from the caller.
type CreateRequest struct {
	Prompt         string
	Model          string
	AspectRatio    string
	Resolution     string
	OutputCount    int
	PresetID       *string
	SourceImageRef *string
}

type Service interface {
	// Create prices the request, rejects it when the balance cannot cover
	// it, submits to the provider, and applies the charging policy:
	// tokens move only after provider acceptance or completion.
	Create(ctx context.Context, accountID uuid.UUID, req CreateRequest) (*models.GenerationJob, error)
	Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.GenerationJob, error)
}

type service struct {
	store         Store
	ledger        Ledger
	provider      gateway.Provider
	finalizer     Finalizer
	insertPollJob InsertPollJobTxFunc
	callbackURL   string
	log           *slog.Logger
}

func NewService(store Store, ledgerOps Ledger, provider gateway.Provider, finalizer Finalizer, insertPollJob InsertPollJobTxFunc, callbackURL string, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{
		store:         store,
		ledger:        ledgerOps,
		provider:      provider,
		finalizer:     finalizer,
		insertPollJob: insertPollJob,
		callbackURL:   callbackURL,
		log:           log,
	}
}

var _ Service = (*service)(nil)

func (s *service) Create(ctx context.Context, accountID uuid.UUID, req CreateRequest) (*models.GenerationJob, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", pricing.ErrInvalidRequest)
	}
	if req.OutputCount == 0 {
		req.OutputCount = 1
	}
	if req.AspectRatio == "" {
		req.AspectRatio = pricing.AspectRatioAuto
	}

	cost, err := pricing.Cost(req.Model, req.AspectRatio, req.OutputCount)
	if err != nil {
		return nil, err
	}

	// Fast rejection before touching the provider. The authoritative
	// guard is still the conditional debit at acceptance time.
	balance, err := s.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("balance check: %w", err)
	}
	if balance < cost {
		return nil, ledger.ErrInsufficientBalance
	}

	job := &models.GenerationJob{
		ID:             uuid.New(),
		AccountID:      accountID,
		Model:          req.Model,
		Prompt:         req.Prompt,
		AspectRatio:    req.AspectRatio,
		Resolution:     req.Resolution,
		OutputCount:    req.OutputCount,
		PresetID:       req.PresetID,
		SourceImageRef: req.SourceImageRef,
		Status:         models.JobStatusPending,
		TokensCost:     cost,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	result, err := s.provider.Submit(ctx, gateway.JobSpec{
		Prompt:         req.Prompt,
		Model:          req.Model,
		AspectRatio:    req.AspectRatio,
		Resolution:     req.Resolution,
		OutputCount:    req.OutputCount,
		PresetID:       req.PresetID,
		SourceImageRef: req.SourceImageRef,
		CallbackURL:    s.callbackURL,
	})
	if err != nil {
		// No debit has occurred, so there is nothing to compensate;
		// record the failure and surface the provider's message.
		if ferr := s.finalizer.FinalizeFailure(ctx, job.ID, providerMessage(err)); ferr != nil {
			s.log.Error("failed to record submit failure", "job_id", job.ID, "error", ferr)
		}
		return nil, err
	}

	if result.Async() {
		if err := s.acceptAsync(ctx, job.ID, accountID, cost, req.Model, result.ExternalTaskID); err != nil {
			return nil, err
		}
	} else {
		// Synchronous completion: charge-at-success through the
		// reconciliation writer, same path a poll or callback would take.
		if err := s.finalizer.FinalizeSuccess(ctx, job.ID, result.Images, nil); err != nil {
			return nil, err
		}
	}

	return s.store.GetByID(ctx, job.ID)
}

// acceptAsync applies the optimistic debit in the same transaction that
// records provider acceptance and enqueues the durable poll job. The user
// is charged for a job not yet known to have succeeded; a terminal
// failure later refunds the exact amount.
func (s *service) acceptAsync(ctx context.Context, jobID, accountID uuid.UUID, cost int64, model, externalTaskID string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin acceptance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ref := jobID.String()
	if _, err := s.ledger.DebitTx(ctx, tx, accountID, cost, "generation "+model, &ref); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			// Balance was spent between pre-check and acceptance. No
			// charge happened; close the job out as failed.
			_ = tx.Rollback(ctx)
			if ferr := s.finalizer.FinalizeFailure(ctx, jobID, "insufficient balance at charge time"); ferr != nil {
				s.log.Error("failed to record charge failure", "job_id", jobID, "error", ferr)
			}
			return ledger.ErrInsufficientBalance
		}
		return fmt.Errorf("debit at acceptance: %w", err)
	}
	if err := s.store.MarkProcessingTx(ctx, tx, jobID, externalTaskID, cost); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if err := s.insertPollJob(ctx, tx, jobID, externalTaskID); err != nil {
		return fmt.Errorf("enqueue poll job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit acceptance: %w", err)
	}

	s.log.Info("async job accepted", "job_id", jobID, "external_task_id", externalTaskID, "tokens_charged", cost)
	return nil
}

func (s *service) Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID != accountID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *service) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.GenerationJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByAccount(ctx, accountID, limit, offset)
}

func providerMessage(err error) string {
	var perr *gateway.ProviderError
	if errors.As(err, &perr) {
		return perr.Message
	}
	return err.Error()
}
