package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/acopio-erp/acopio-erp/internal/platform/httpx"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/requests/pending", h.listPendingRequests)
	r.Post("/consolidations/preview", h.previewConsolidation)
	r.Post("/consolidations", h.createConsolidation)
	r.Get("/consolidations/{id}", h.getConsolidation)
	r.Delete("/consolidations/{id}", h.deleteConsolidation)
	r.Post("/orders", h.assembleOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/complete", h.completeOrder)
	r.Post("/orders/{id}/annul", h.annulOrder)
	r.Post("/orders/{id}/reopen", h.reopenOrder)
}

type consolidationForm struct {
	SupplierID int64   `json:"supplier_id" validate:"required,gt=0"`
	RequestIDs []int64 `json:"request_ids" validate:"required,min=1,dive,gt=0"`
}

type previewForm struct {
	RequestIDs []int64 `json:"request_ids" validate:"required,min=1,dive,gt=0"`
}

type newProductForm struct {
	Name       string `json:"name" validate:"required"`
	CategoryID int64  `json:"category_id" validate:"required,gt=0"`
}

type candidateLineForm struct {
	ProductID      int64           `json:"product_id"`
	NewProduct     *newProductForm `json:"new_product,omitempty"`
	Qty            int64           `json:"qty"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Included       bool            `json:"included"`
	DeferralReason string          `json:"deferral_reason,omitempty"`
}

type assembleForm struct {
	SupplierID         int64               `json:"supplier_id" validate:"required,gt=0"`
	Currency           string              `json:"currency"`
	WithholdingPercent decimal.Decimal     `json:"withholding_percent"`
	EstimatedDelivery  time.Time           `json:"estimated_delivery"`
	Notes              string              `json:"notes"`
	ConsolidationID    int64               `json:"consolidation_id"`
	RequestIDs         []int64             `json:"request_ids"`
	Lines              []candidateLineForm `json:"lines" validate:"required,min=1"`
}

type receivedLineForm struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Qty       int64  `json:"qty"`
	Reason    string `json:"reason,omitempty"`
}

type completeForm struct {
	Received       []receivedLineForm `json:"received"`
	InvoiceNumber  string             `json:"invoice_number,omitempty"`
	ActualDelivery time.Time          `json:"actual_delivery" validate:"required"`
}

func (h *Handler) listPendingRequests(w http.ResponseWriter, r *http.Request) {
	var categoryID int64
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "category_id must be an integer")
			return
		}
		categoryID = parsed
	}
	requests, err := h.service.ListPendingRequests(r.Context(), categoryID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) previewConsolidation(w http.ResponseWriter, r *http.Request) {
	var form previewForm
	if !h.decode(w, r, &form) {
		return
	}
	lines, err := h.service.Consolidate(r.Context(), form.RequestIDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) createConsolidation(w http.ResponseWriter, r *http.Request) {
	var form consolidationForm
	if !h.decode(w, r, &form) {
		return
	}
	co, err := h.service.CreateConsolidatedOrder(r.Context(), form.SupplierID, form.RequestIDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, co)
}

func (h *Handler) getConsolidation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	co, lines, err := h.service.GetConsolidation(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"consolidation": co, "lines": lines})
}

func (h *Handler) deleteConsolidation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteConsolidatedOrder(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assembleOrder(w http.ResponseWriter, r *http.Request) {
	var form assembleForm
	if !h.decode(w, r, &form) {
		return
	}
	input := AssembleInput{
		SupplierID:         form.SupplierID,
		Currency:           form.Currency,
		WithholdingPercent: form.WithholdingPercent,
		EstimatedDelivery:  form.EstimatedDelivery,
		Notes:              form.Notes,
		ConsolidationID:    form.ConsolidationID,
		RequestIDs:         form.RequestIDs,
	}
	for _, line := range form.Lines {
		candidate := CandidateLine{
			ProductID:      line.ProductID,
			Qty:            line.Qty,
			UnitPrice:      line.UnitPrice,
			Included:       line.Included,
			DeferralReason: line.DeferralReason,
		}
		if line.NewProduct != nil {
			candidate.NewProduct = &NewProductSpec{Name: line.NewProduct.Name, CategoryID: line.NewProduct.CategoryID}
		}
		input.Lines = append(input.Lines, candidate)
	}
	po, err := h.service.Assemble(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, lines, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": po, "lines": lines})
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form completeForm
	if !h.decode(w, r, &form) {
		return
	}
	input := CompleteInput{
		OrderID:        id,
		InvoiceNumber:  form.InvoiceNumber,
		ActualDelivery: form.ActualDelivery,
	}
	for _, line := range form.Received {
		input.Received = append(input.Received, ReceivedLine{ProductID: line.ProductID, Qty: line.Qty, Reason: line.Reason})
	}
	result, err := h.service.Complete(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) annulOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Annul(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reopenOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Reopen(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
