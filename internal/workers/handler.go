package workers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lokatex/lokatex/internal/platform/httpx"
	"github.com/lokatex/lokatex/internal/shared"
)

// Handler wires HTTP endpoints for roster queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the workers handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers worker routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listByRole)
	r.Get("/suggestion", h.suggest)
}

func (h *Handler) listByRole(w http.ResponseWriter, r *http.Request) {
	role := shared.Role(r.URL.Query().Get("role"))
	loads, err := h.service.ListByRole(r.Context(), role)
	if err != nil {
		h.logger.Error("list workers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loads)
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	role := shared.Role(r.URL.Query().Get("role"))
	worker, err := h.service.LeastLoaded(r.Context(), role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, worker)
}
