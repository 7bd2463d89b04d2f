package account

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pixelmint/backend/internal/ledger"
	"github.com/pixelmint/backend/internal/middleware"
	"github.com/pixelmint/backend/internal/models"
)

// AccountLookup resolves the authenticated account's profile row.
type AccountLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type Handler struct {
	accounts AccountLookup
	ledger   ledger.Service
	log      *slog.Logger
}

func NewHandler(accounts AccountLookup, ledgerSvc ledger.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{accounts: accounts, ledger: ledgerSvc, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetMe handles GET /api/v1/account/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	acc, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		h.log.Error("get account failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if acc == nil {
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                    acc.ID,
		"email":                 acc.Email,
		"display_name":          acc.DisplayName,
		"balance_tokens":        acc.BalanceTokens,
		"lifetime_spent_tokens": acc.LifetimeSpentTokens,
		"created_at":            acc.CreatedAt,
	})
}

// GetBalance handles GET /api/v1/tokens/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		h.log.Error("get balance failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance_tokens": balance})
}

// ListHistory handles GET /api/v1/tokens/history.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	entries, err := h.ledger.History(r.Context(), accountID, limit, offset)
	if err != nil {
		h.log.Error("list token history failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type purchaseRequest struct {
	Amount    int64  `json:"amount"`
	PaymentID string `json:"payment_id"`
}

// Purchase handles POST /api/v1/tokens/purchase. Payment processing itself
// happens upstream; this endpoint records the settled purchase as a credit.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, `{"error":"amount must be positive"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		http.Error(w, `{"error":"payment_id is required"}`, http.StatusBadRequest)
		return
	}
	txn, err := h.ledger.Credit(r.Context(), accountID, req.Amount, models.TxTypePurchase, "token purchase", &req.PaymentID)
	if err != nil {
		h.log.Error("purchase credit failed", "payment_id", req.PaymentID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}
