package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/backend/internal/gateway"
)

// scriptedProvider returns one canned status per Poll call, in order.
type scriptedProvider struct {
	statuses []*gateway.JobStatus
	errs     []error
	calls    int
}

func (s *scriptedProvider) Submit(_ context.Context, _ gateway.JobSpec) (*gateway.SubmitResult, error) {
	return nil, errors.New("not used")
}

func (s *scriptedProvider) Poll(_ context.Context, _ string) (*gateway.JobStatus, error) {
	i := s.calls
	s.calls++
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.statuses[i], nil
}

func TestWaitForTerminal_Succeeds(t *testing.T) {
	provider := &scriptedProvider{
		statuses: []*gateway.JobStatus{
			{State: gateway.StateRunning, Progress: 0.3},
			{State: gateway.StateRunning, Progress: 0.8},
			{State: gateway.StateSuccess, Images: []string{"img-1"}},
		},
	}
	p := New(provider, nil)

	status, err := p.WaitForTerminal(context.Background(), "task-1", 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, gateway.StateSuccess, status.State)
	assert.Equal(t, []string{"img-1"}, status.Images)
	assert.Equal(t, 3, provider.calls)
}

func TestWaitForTerminal_Timeout(t *testing.T) {
	provider := &scriptedProvider{
		statuses: []*gateway.JobStatus{{State: gateway.StateRunning}},
	}
	p := New(provider, nil)

	_, err := p.WaitForTerminal(context.Background(), "task-1", 3, time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 3, provider.calls)
}

func TestWaitForTerminal_TransientErrorsCountAsAttempts(t *testing.T) {
	provider := &scriptedProvider{
		statuses: []*gateway.JobStatus{
			nil,
			{State: gateway.StateFail, ErrorMessage: "content policy violation"},
		},
		errs: []error{errors.New("connection reset"), nil},
	}
	p := New(provider, nil)

	status, err := p.WaitForTerminal(context.Background(), "task-1", 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, gateway.StateFail, status.State)
	assert.Equal(t, "content policy violation", status.ErrorMessage)
}

func TestWaitForTerminal_ContextCancelled(t *testing.T) {
	provider := &scriptedProvider{
		statuses: []*gateway.JobStatus{{State: gateway.StateRunning}},
	}
	p := New(provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.WaitForTerminal(ctx, "task-1", 10, 50*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}
