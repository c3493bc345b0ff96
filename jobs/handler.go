package jobs

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes HTTP endpoints for enqueueing background jobs.
type Handler struct {
	client *Client
	logger *slog.Logger
}

// NewHandler constructs the jobs Handler.
func NewHandler(client *Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// Mount registers the job routes.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/balances-rebuild", h.balancesRebuild)
		r.Post("/ledger-integrity", h.ledgerIntegrity)
	})
}

func (h *Handler) balancesRebuild(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		httpx.RespondError(w, errors.New("job queue not configured"))
		return
	}
	var payload BalancesRebuildPayload
	_ = httpx.DecodeJSON(r, &payload)
	info, err := h.client.EnqueueBalancesRebuild(r.Context(), payload)
	if err != nil {
		h.logger.Error("enqueue balances rebuild", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
}

func (h *Handler) ledgerIntegrity(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		httpx.RespondError(w, errors.New("job queue not configured"))
		return
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	info, err := h.client.EnqueueLedgerIntegrity(r.Context(), LedgerIntegrityPayload{CompanyID: companyID})
	if err != nil {
		h.logger.Error("enqueue ledger integrity", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
}
