package stock

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler serves stock reads and allocation previews over HTTP.
type Handler struct {
	repo          *Repository
	defaultPolicy AllocationPolicy
}

// NewHandler constructs the stock Handler.
func NewHandler(repo *Repository, defaultPolicy AllocationPolicy) *Handler {
	return &Handler{repo: repo, defaultPolicy: defaultPolicy}
}

// Mount registers the stock routes.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/stock/{productID}/card", h.card)
	r.Post("/stock/allocate", h.allocate)
}

type stockCard struct {
	Batches   []Batch    `json:"batches"`
	Movements []Movement `json:"movements"`
}

func (h *Handler) card(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID, _ := strconv.ParseInt(q.Get("company_id"), 10, 64)
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if companyID == 0 || warehouseID == 0 {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("company_id and warehouse_id required")))
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	batches, err := h.repo.ListBatches(r.Context(), companyID, productID, warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.repo.ListMovements(r.Context(), companyID, productID, warehouseID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockCard{Batches: batches, Movements: movements})
}

type allocateRequest struct {
	CompanyID   int64            `json:"company_id"`
	ProductID   int64            `json:"product_id"`
	WarehouseID int64            `json:"warehouse_id"`
	Qty         float64          `json:"qty"`
	Policy      AllocationPolicy `json:"policy"`
}

// allocate previews the lot plan for a quantity without reserving anything.
// The binding allocation happens inside the posting transaction, which
// re-validates availability under row locks.
func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	if req.CompanyID == 0 || req.ProductID == 0 || req.WarehouseID == 0 {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("company_id, product_id and warehouse_id required")))
		return
	}
	if req.Qty <= 0 {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, ErrInvalidQty))
		return
	}
	policy := req.Policy
	if policy == "" {
		policy = h.defaultPolicy
	}
	if policy != PolicyFIFO && policy != PolicyFEFO {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("policy must be FIFO or FEFO")))
		return
	}

	lots, err := h.repo.ListCandidateLots(r.Context(), req.CompanyID, req.ProductID, req.WarehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	plan, err := PlanAllocation(lots, req.Qty, policy)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			httpx.RespondError(w, errors.Join(httpx.ErrUnprocessable, err))
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}
