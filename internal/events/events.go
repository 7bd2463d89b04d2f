// Package events is the hand-off point between reconciliation and any
// notification subsystem (push, websocket, email — all out of scope
// here). The reconciliation writer publishes a resolved event instead of
// embedding notification logic in the reconciliation path.
package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// JobResolvedEvent is published exactly once per terminal transition.
type JobResolvedEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	AccountID    uuid.UUID `json:"account_id"`
	Status       string    `json:"status"`
	Images       []string  `json:"images,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

type Publisher interface {
	JobResolved(ctx context.Context, ev JobResolvedEvent)
}

// LogPublisher writes resolved events to the structured log. It is the
// default subscriber until a real notification transport is attached.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) JobResolved(_ context.Context, ev JobResolvedEvent) {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("job resolved", "job_id", ev.JobID, "account_id", ev.AccountID, "status", ev.Status)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) JobResolved(context.Context, JobResolvedEvent) {}
