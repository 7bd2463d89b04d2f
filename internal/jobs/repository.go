package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmint/backend/internal/models"
)

// ErrNotFound is returned when no job matches the given id.
var ErrNotFound = errors.New("job not found")

const jobColumns = `id, account_id, external_task_id, model, prompt, aspect_ratio, resolution,
	output_count, preset_id, source_image_ref, status, images, error_message,
	tokens_cost, tokens_charged, provider_metadata, created_at, updated_at, completed_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Create(ctx context.Context, j *models.GenerationJob) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO generation_jobs (id, account_id, model, prompt, aspect_ratio, resolution,
			output_count, preset_id, source_image_ref, status, tokens_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, j.ID, j.AccountID, j.Model, j.Prompt, j.AspectRatio, j.Resolution,
		j.OutputCount, j.PresetID, j.SourceImageRef, j.Status, j.TokensCost,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// GetByExternalTaskID resolves the provider's task id to a local job.
// This is the correlation key for webhook callbacks and polls.
func (r *Repository) GetByExternalTaskID(ctx context.Context, externalTaskID string) (*models.GenerationJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE external_task_id = $1`, externalTaskID)
	return scanJob(row)
}

// GetByIDForUpdateTx locks the job row for the duration of the caller's
// transaction. Reconciliation takes this lock before any terminal
// transition so concurrent finalizers for the same job are serialized.
func (r *Repository) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.GenerationJob, error) {
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 FOR UPDATE`, jobID)
	return scanJob(row)
}

// MarkProcessingTx records provider acceptance of an async job: external
// task id attached, tokens charged, status moved to processing.
func (r *Repository) MarkProcessingTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, externalTaskID string, tokensCharged int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE generation_jobs
		SET external_task_id = $1, tokens_charged = $2, status = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`, externalTaskID, tokensCharged, models.JobStatusProcessing, jobID, models.JobStatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeSuccessTx applies the completed terminal transition. The status
// guard makes the write a compare-and-set: zero rows affected means
// another poll or callback already finalized the job.
func (r *Repository) FinalizeSuccessTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, images []string, providerMetadata json.RawMessage, tokensCharged int64) (bool, error) {
	result, err := tx.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $1, images = $2, provider_metadata = $3, tokens_charged = $4,
		    completed_at = now(), updated_at = now()
		WHERE id = $5 AND status IN ($6, $7)
	`, models.JobStatusCompleted, images, providerMetadata, tokensCharged,
		jobID, models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// FinalizeFailureTx applies the failed terminal transition with the same
// compare-and-set guard as FinalizeSuccessTx.
func (r *Repository) FinalizeFailureTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, errorMessage string) (bool, error) {
	result, err := tx.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $1, error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $3 AND status IN ($4, $5)
	`, models.JobStatusFailed, errorMessage, jobID, models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.GenerationJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE account_id = $1 ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func scanJob(row pgx.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.AccountID, &j.ExternalTaskID, &j.Model, &j.Prompt, &j.AspectRatio,
		&j.Resolution, &j.OutputCount, &j.PresetID, &j.SourceImageRef, &j.Status, &j.Images,
		&j.ErrorMessage, &j.TokensCost, &j.TokensCharged, &j.ProviderMetadata,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}
