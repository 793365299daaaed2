package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/acopio-erp/acopio-erp/internal/platform/httpx"
)

// Handler exposes read endpoints for stock records.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the inventory HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes attaches inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/records/{productID}", h.getRecord)
	r.Get("/below-minimum", h.listBelowMinimum)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "productID must be a positive integer")
		return
	}
	record, err := h.service.GetRecord(r.Context(), productID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no stock record for product")
			return
		}
		h.logger.Error("get stock record", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) listBelowMinimum(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListBelowMinimum(r.Context())
	if err != nil {
		h.logger.Error("list below minimum", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}
