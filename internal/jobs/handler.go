package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pixelmint/backend/internal/gateway"
	"github.com/pixelmint/backend/internal/ledger"
	"github.com/pixelmint/backend/internal/middleware"
	"github.com/pixelmint/backend/internal/models"
	"github.com/pixelmint/backend/internal/pricing"
)

// Request/response structs use snake_case JSON.

type CreateGenerationRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model"`
	AspectRatio    string  `json:"aspect_ratio"`
	Resolution     string  `json:"resolution"`
	OutputCount    int     `json:"output_count"`
	PresetID       *string `json:"preset_id,omitempty"`
	SourceImageRef *string `json:"source_image_ref,omitempty"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Create handles POST /api/v1/generations. Synchronous completions get
// 201 with the finished job; accepted async jobs get 202.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req CreateGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	job, err := h.svc.Create(r.Context(), accountID, CreateRequest{
		Prompt:         req.Prompt,
		Model:          req.Model,
		AspectRatio:    req.AspectRatio,
		Resolution:     req.Resolution,
		OutputCount:    req.OutputCount,
		PresetID:       req.PresetID,
		SourceImageRef: req.SourceImageRef,
	})
	if err != nil {
		h.writeCreateError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if job.Status == models.JobStatusCompleted {
		status = http.StatusCreated
	}
	writeJSON(w, status, job)
}

func (h *Handler) writeCreateError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *gateway.ProviderError
	switch {
	case errors.Is(err, pricing.ErrInvalidModel), errors.Is(err, pricing.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient token balance"})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": perr.Message})
	default:
		h.log.Error("create generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// Get handles GET /api/v1/generations/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	job, err := h.svc.Get(r.Context(), accountID, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get generation failed", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// List handles GET /api/v1/generations (the account's history feed).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.svc.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		h.log.Error("list generations failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.GenerationJob{}
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
