package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/backend/internal/gateway"
	"github.com/pixelmint/backend/internal/ledger"
	"github.com/pixelmint/backend/internal/models"
	"github.com/pixelmint/backend/internal/pricing"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// fakeTx satisfies pgx.Tx for the commit/rollback calls the service makes.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type memStore struct {
	jobs   map[uuid.UUID]*models.GenerationJob
	lastTx *fakeTx
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*models.GenerationJob)}
}

func (m *memStore) Begin(context.Context) (pgx.Tx, error) {
	m.lastTx = &fakeTx{}
	return m.lastTx, nil
}

func (m *memStore) Create(_ context.Context, j *models.GenerationJob) error {
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) ListByAccount(_ context.Context, accountID uuid.UUID, _, _ int) ([]*models.GenerationJob, error) {
	var out []*models.GenerationJob
	for _, j := range m.jobs {
		if j.AccountID == accountID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) MarkProcessingTx(_ context.Context, _ pgx.Tx, jobID uuid.UUID, externalTaskID string, tokensCharged int64) error {
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.ExternalTaskID = &externalTaskID
	j.TokensCharged = tokensCharged
	j.Status = models.JobStatusProcessing
	return nil
}

type mockLedger struct {
	balance int64
	debits  []int64
}

func (l *mockLedger) GetBalance(context.Context, uuid.UUID) (int64, error) {
	return l.balance, nil
}

func (l *mockLedger) DebitTx(_ context.Context, _ pgx.Tx, _ uuid.UUID, amount int64, _ string, _ *string) (*models.Transaction, error) {
	if l.balance < amount {
		return nil, ledger.ErrInsufficientBalance
	}
	l.balance -= amount
	l.debits = append(l.debits, amount)
	return &models.Transaction{Amount: -amount, TxType: models.TxTypeUsage}, nil
}

// recordingFinalizer mimics the reconciliation writer against the memStore
// so reloaded jobs reflect the terminal state.
type recordingFinalizer struct {
	store        *memStore
	successJobID uuid.UUID
	failureJobID uuid.UUID
	failureMsg   string
}

func (f *recordingFinalizer) FinalizeSuccess(_ context.Context, jobID uuid.UUID, images []string, _ json.RawMessage) error {
	f.successJobID = jobID
	if j, ok := f.store.jobs[jobID]; ok {
		j.Status = models.JobStatusCompleted
		j.Images = images
	}
	return nil
}

func (f *recordingFinalizer) FinalizeFailure(_ context.Context, jobID uuid.UUID, msg string) error {
	f.failureJobID = jobID
	f.failureMsg = msg
	if j, ok := f.store.jobs[jobID]; ok {
		j.Status = models.JobStatusFailed
		j.ErrorMessage = &msg
	}
	return nil
}

type stubProvider struct {
	result *gateway.SubmitResult
	err    error
	spec   gateway.JobSpec
}

func (p *stubProvider) Submit(_ context.Context, spec gateway.JobSpec) (*gateway.SubmitResult, error) {
	p.spec = spec
	return p.result, p.err
}

func (p *stubProvider) Poll(context.Context, string) (*gateway.JobStatus, error) {
	return nil, errors.New("not used")
}

type fixture struct {
	store     *memStore
	ledger    *mockLedger
	provider  *stubProvider
	finalizer *recordingFinalizer
	enqueued  []uuid.UUID
	svc       Service
}

func newFixture(balance int64, provider *stubProvider) *fixture {
	f := &fixture{
		store:    newMemStore(),
		ledger:   &mockLedger{balance: balance},
		provider: provider,
	}
	f.finalizer = &recordingFinalizer{store: f.store}
	insert := func(_ context.Context, _ pgx.Tx, jobID uuid.UUID, _ string) error {
		f.enqueued = append(f.enqueued, jobID)
		return nil
	}
	f.svc = NewService(f.store, f.ledger, f.provider, f.finalizer, insert, "https://api.example.com/cb", nil)
	return f
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreate_SyncCompletion(t *testing.T) {
	accountID := uuid.New()
	f := newFixture(100, &stubProvider{
		result: &gateway.SubmitResult{Images: []string{"img-1", "img-2"}},
	})

	job, err := f.svc.Create(context.Background(), accountID, CreateRequest{
		Prompt: "a tabby cat in a space suit", Model: "nanobanana", OutputCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"img-1", "img-2"}, job.Images)
	assert.Equal(t, job.ID, f.finalizer.successJobID)
	assert.Empty(t, f.enqueued, "sync jobs never enqueue a poll")
	assert.Empty(t, f.ledger.debits, "sync charge happens inside the finalizer")
}

func TestCreate_AsyncAcceptance(t *testing.T) {
	accountID := uuid.New()
	f := newFixture(100, &stubProvider{
		result: &gateway.SubmitResult{ExternalTaskID: "task-42"},
	})

	job, err := f.svc.Create(context.Background(), accountID, CreateRequest{
		Prompt: "isometric city at dusk", Model: "seedream",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	require.NotNil(t, job.ExternalTaskID)
	assert.Equal(t, "task-42", *job.ExternalTaskID)
	assert.Equal(t, int64(4), job.TokensCharged)
	assert.Equal(t, int64(96), f.ledger.balance)
	assert.Equal(t, []uuid.UUID{job.ID}, f.enqueued)
	require.NotNil(t, f.store.lastTx)
	assert.True(t, f.store.lastTx.committed)
	assert.Equal(t, "https://api.example.com/cb", f.provider.spec.CallbackURL)
}

func TestCreate_SubmitFailureCostsNothing(t *testing.T) {
	accountID := uuid.New()
	f := newFixture(100, &stubProvider{
		err: &gateway.ProviderError{StatusCode: 503, Message: "model overloaded"},
	})

	_, err := f.svc.Create(context.Background(), accountID, CreateRequest{
		Prompt: "oil painting of a lighthouse", Model: "nanobanana",
	})
	require.Error(t, err)
	var perr *gateway.ProviderError
	require.ErrorAs(t, err, &perr)

	assert.Equal(t, int64(100), f.ledger.balance, "failed submit never debits")
	assert.Equal(t, "model overloaded", f.finalizer.failureMsg)
	jobs, _ := f.store.ListByAccount(context.Background(), accountID, 20, 0)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
}

func TestCreate_InsufficientBalancePreCheck(t *testing.T) {
	f := newFixture(1, &stubProvider{result: &gateway.SubmitResult{Images: []string{"x"}}})

	_, err := f.svc.Create(context.Background(), uuid.New(), CreateRequest{
		Prompt: "anything", Model: "nanobanana",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Empty(t, f.store.jobs, "rejected before any job record")
}

func TestCreate_BalanceSpentBetweenCheckAndCharge(t *testing.T) {
	accountID := uuid.New()
	f := newFixture(100, &stubProvider{
		result: &gateway.SubmitResult{ExternalTaskID: "task-1"},
	})
	// Pre-check sees enough, then the concurrent spend lands before the debit.
	f.svc = NewService(f.store, &drainingLedger{}, f.provider, f.finalizer, func(_ context.Context, _ pgx.Tx, jobID uuid.UUID, _ string) error {
		f.enqueued = append(f.enqueued, jobID)
		return nil
	}, "", nil)

	_, err := f.svc.Create(context.Background(), accountID, CreateRequest{
		Prompt: "raccoon astronaut", Model: "nanobanana",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, "insufficient balance at charge time", f.finalizer.failureMsg)
	assert.Empty(t, f.enqueued)
}

// drainingLedger reports a healthy balance at read time but refuses the debit.
type drainingLedger struct{}

func (l *drainingLedger) GetBalance(context.Context, uuid.UUID) (int64, error) { return 100, nil }

func (l *drainingLedger) DebitTx(context.Context, pgx.Tx, uuid.UUID, int64, string, *string) (*models.Transaction, error) {
	return nil, ledger.ErrInsufficientBalance
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(100, &stubProvider{result: &gateway.SubmitResult{Images: []string{"x"}}})

	_, err := f.svc.Create(context.Background(), uuid.New(), CreateRequest{Model: "nanobanana"})
	assert.ErrorIs(t, err, pricing.ErrInvalidRequest)

	_, err = f.svc.Create(context.Background(), uuid.New(), CreateRequest{Prompt: "p", Model: "dall-e-9000"})
	assert.ErrorIs(t, err, pricing.ErrInvalidModel)
}

func TestGet_OtherAccountsJobHidden(t *testing.T) {
	owner := uuid.New()
	f := newFixture(100, &stubProvider{result: &gateway.SubmitResult{Images: []string{"x"}}})

	job, err := f.svc.Create(context.Background(), owner, CreateRequest{Prompt: "p", Model: "upscale"})
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), uuid.New(), job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.Get(context.Background(), owner, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}
