// Package poller tracks asynchronous generation tasks against the
// provider's status endpoint until they reach a terminal state.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pixelmint/backend/internal/gateway"
)

// ErrTimeout is returned when a bounded wait exhausts its attempts
// without the task going terminal. The job stays processing; the
// durable poll worker or the provider callback resolves it later.
var ErrTimeout = errors.New("timed out waiting for terminal state")

type Poller struct {
	provider gateway.Provider
	log      *slog.Logger
}

func New(provider gateway.Provider, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{provider: provider, log: log}
}

// PollOnce fetches the task's current normalized status.
func (p *Poller) PollOnce(ctx context.Context, externalTaskID string) (*gateway.JobStatus, error) {
	return p.provider.Poll(ctx, externalTaskID)
}

// WaitForTerminal polls at a fixed interval for up to maxAttempts. It
// returns the terminal status, ErrTimeout when attempts run out, or the
// context error when cancelled. Transient poll errors count as attempts.
func (p *Poller) WaitForTerminal(ctx context.Context, externalTaskID string, maxAttempts int, interval time.Duration) (*gateway.JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := p.provider.Poll(ctx, externalTaskID)
		if err != nil {
			p.log.Warn("poll attempt failed", "task_id", externalTaskID, "attempt", attempt, "error", err)
		} else if status.State.Terminal() {
			return status, nil
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, ErrTimeout
}
