package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler serves journal and balance reads over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs the ledger Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Mount registers the ledger routes.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/balances/{entityType}/{entityID}", h.entityBalance)
	r.Get("/journals", h.listJournals)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID, _ := strconv.ParseInt(q.Get("company_id"), 10, 64)
	if companyID == 0 {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("company_id required")))
		return
	}
	docID, _ := strconv.ParseInt(q.Get("doc_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := h.svc.ListJournals(r.Context(), companyID, q.Get("doc_type"), docID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) entityBalance(w http.ResponseWriter, r *http.Request) {
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if companyID == 0 {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("company_id required")))
		return
	}
	entityType := EntityType(chi.URLParam(r, "entityType"))
	if entityType != EntityCustomer && entityType != EntitySupplier {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("entity type must be CUSTOMER or SUPPLIER")))
		return
	}
	entityID, err := strconv.ParseInt(chi.URLParam(r, "entityID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	balance, err := h.svc.GetEntityBalance(r.Context(), companyID, entityType, entityID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}
