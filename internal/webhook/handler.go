// Package webhook receives the provider's push callbacks for
// asynchronous generation tasks and routes terminal states into
// reconciliation. The provider expects a 200-level acknowledgment for
// every delivery, so the handler never surfaces processing errors back.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pixelmint/backend/internal/gateway"
	"github.com/pixelmint/backend/internal/jobs"
	"github.com/pixelmint/backend/internal/metrics"
	"github.com/pixelmint/backend/internal/models"
)

const maxBodyBytes = 1 << 20

// Payload is the provider's callback body.
type Payload struct {
	TaskID     string          `json:"taskId"`
	State      string          `json:"state"`
	ResultJSON json.RawMessage `json:"resultJson,omitempty"`
	FailMsg    string          `json:"failMsg,omitempty"`
	Progress   float64         `json:"progress,omitempty"`
}

// JobLookup correlates a callback's task id with a local job row.
type JobLookup interface {
	GetByExternalTaskID(ctx context.Context, externalTaskID string) (*models.GenerationJob, error)
}

// Reconciler applies the terminal transition. Satisfied by reconcile.Writer.
type Reconciler interface {
	FinalizeSuccess(ctx context.Context, jobID uuid.UUID, images []string, providerMetadata json.RawMessage) error
	FinalizeFailure(ctx context.Context, jobID uuid.UUID, errorMessage string) error
}

type Handler struct {
	jobs       JobLookup
	reconciler Reconciler
	secret     string
	log        *slog.Logger
}

// NewHandler builds the callback handler. An empty secret disables
// signature verification.
func NewHandler(jobLookup JobLookup, reconciler Reconciler, secret string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{jobs: jobLookup, reconciler: reconciler, secret: secret, log: log}
}

// HandleGeneration handles POST /api/v1/webhooks/generation.
func (h *Handler) HandleGeneration(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}

	if h.secret != "" && !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.log.Warn("callback rejected: bad signature")
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if p.TaskID == "" {
		http.Error(w, `{"error":"taskId is required"}`, http.StatusBadRequest)
		return
	}

	job, err := h.jobs.GetByExternalTaskID(r.Context(), p.TaskID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// Provider retries deliveries; an unknown task is not
			// actionable and must still be acknowledged.
			metrics.UnmatchedCallbacks.Inc()
			h.log.Warn("callback for unknown task dropped", "task_id", p.TaskID, "state", p.State)
			writeAck(w)
			return
		}
		h.log.Error("callback job lookup failed", "task_id", p.TaskID, "error", err)
		writeAck(w)
		return
	}

	state, known := gateway.NormalizeState(p.State)
	if !known {
		h.log.Warn("callback with unknown state treated as in-progress", "task_id", p.TaskID, "state", p.State)
	}
	if !state.Terminal() {
		h.log.Debug("progress callback", "task_id", p.TaskID, "job_id", job.ID, "state", state, "progress", p.Progress)
		writeAck(w)
		return
	}

	switch state {
	case gateway.StateSuccess:
		images, perr := parseResultImages(p.ResultJSON)
		if perr != nil {
			h.log.Error("callback result payload unparseable", "task_id", p.TaskID, "job_id", job.ID, "error", perr)
			writeAck(w)
			return
		}
		if err := h.reconciler.FinalizeSuccess(r.Context(), job.ID, images, p.ResultJSON); err != nil {
			h.log.Error("callback success reconciliation failed", "job_id", job.ID, "error", err)
		}
	case gateway.StateFail:
		msg := p.FailMsg
		if msg == "" {
			msg = "generation failed"
		}
		// FinalizeFailure re-enqueues itself durably on error.
		if err := h.reconciler.FinalizeFailure(r.Context(), job.ID, msg); err != nil {
			h.log.Error("callback failure reconciliation failed", "job_id", job.ID, "error", err)
		}
	}
	writeAck(w)
}

// parseResultImages accepts the two shapes the provider sends: a bare
// array of image references, or an object with an "images" (or legacy
// "resultUrls") array.
func parseResultImages(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var obj struct {
		Images     []string `json:"images"`
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if len(obj.Images) > 0 {
		return obj.Images, nil
	}
	return obj.ResultURLs, nil
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
