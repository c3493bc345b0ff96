package documents

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/refdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Handler serves the document HTTP API.
type Handler struct {
	svc      *Service
	repo     *Repository
	validate *validator.Validate
	defaults posting.Options
}

// NewHandler constructs the document Handler.
func NewHandler(svc *Service, repo *Repository, validate *validator.Validate, defaults posting.Options) *Handler {
	return &Handler{svc: svc, repo: repo, validate: validate, defaults: defaults}
}

// Mount registers the document routes.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.update)
			r.Post("/submit", h.submit)
			r.Post("/approve", h.approve)
			r.Post("/reject", h.reject)
			r.Post("/request-edit", h.requestEdit)
			r.Post("/decide-edit", h.decideEdit)
			r.Post("/cancel", h.cancel)
		})
	})
}

func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, errors.Join(httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrEditAlreadyPending),
		errors.Is(err, ErrNoEditPending),
		errors.Is(err, ledger.ErrAlreadyReversed),
		errors.Is(err, posting.ErrNotPosted):
		httpx.RespondError(w, errors.Join(httpx.ErrConflict, err))
	case errors.Is(err, ErrNoLines),
		errors.Is(err, refdata.ErrCurrencyUnknown),
		errors.Is(err, posting.ErrSubtotalMismatch),
		errors.Is(err, posting.ErrTotalMismatch),
		errors.Is(err, posting.ErrMissingEntity),
		errors.Is(err, ledger.ErrUnbalanced),
		errors.Is(err, ledger.ErrMissingEntity),
		errors.Is(err, stock.ErrInsufficientStock):
		httpx.RespondError(w, errors.Join(httpx.ErrUnprocessable, err))
	default:
		httpx.RespondError(w, err)
	}
}

func docID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	in.CreatedBy = shared.ActorFromContext(r.Context())
	doc, err := h.svc.Create(r.Context(), in)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if companyID == 0 {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("company_id required")))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	docs, err := h.repo.List(r.Context(), companyID, Status(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, docs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	doc, err := h.repo.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	doc, err := h.svc.Update(r.Context(), id, shared.ActorFromContext(r.Context()), in)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	if err := h.svc.Submit(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusSubmitted)})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	opts := h.defaults
	var in ApproveInput
	if err := httpx.DecodeJSON(r, &in); err == nil {
		if in.InventoryEnabled != nil {
			opts.InventoryEnabled = *in.InventoryEnabled
		}
		if in.AllocationPolicy != "" {
			opts.AllocationPolicy = stock.AllocationPolicy(in.AllocationPolicy)
		}
	}
	result, err := h.svc.Approve(r.Context(), id, shared.ActorFromContext(r.Context()), opts)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	var in DecisionInput
	_ = httpx.DecodeJSON(r, &in)
	if err := h.svc.Reject(r.Context(), id, shared.ActorFromContext(r.Context()), in.Note); err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusRejected)})
}

func (h *Handler) requestEdit(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	var in DecisionInput
	_ = httpx.DecodeJSON(r, &in)
	if err := h.svc.RequestEdit(r.Context(), id, shared.ActorFromContext(r.Context()), in.Note); err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"edit_state": string(EditPending)})
}

func (h *Handler) decideEdit(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	var in EditDecisionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	result, err := h.svc.DecideEdit(r.Context(), id, shared.ActorFromContext(r.Context()), in.Approve, in.Note)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	var in DecisionInput
	_ = httpx.DecodeJSON(r, &in)
	result, err := h.svc.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()), in.Note)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
