package materials

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lokatex/lokatex/internal/platform/httpx"
	"github.com/lokatex/lokatex/internal/shared"
)

// Handler wires HTTP endpoints for the material ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the materials handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers material routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/low-stock", h.listLowStock)
	r.Get("/{id}", h.show)
	r.Get("/{id}/transactions", h.listTransactions)
	r.Post("/check-availability", h.checkAvailability)
	r.Post("/transactions", h.recordTransaction)
}

type allocationRequestDTO struct {
	MaterialID   int64           `json:"material_id" validate:"required,gt=0"`
	RequestedQty decimal.Decimal `json:"requested_qty" validate:"required"`
}

type checkAvailabilityDTO struct {
	Allocations []allocationRequestDTO `json:"allocations" validate:"required,min=1,dive"`
}

type transactionDTO struct {
	MaterialID int64           `json:"material_id" validate:"required,gt=0"`
	Type       string          `json:"type" validate:"required,oneof=IN OUT ADJUSTMENT RETURN"`
	Quantity   decimal.Decimal `json:"quantity" validate:"required"`
	Note       string          `json:"note,omitempty"`
	BatchID    *int64          `json:"batch_id,omitempty"`
	Code       string          `json:"code,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	mats, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list materials", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mats)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	mats, err := h.service.ListLowStock(r.Context())
	if err != nil {
		h.logger.Error("list low stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mats)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	mat, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mat)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.service.ListTransactions(r.Context(), id, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txs)
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	var dto checkAvailabilityDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	reqs := make([]AllocationRequest, 0, len(dto.Allocations))
	for _, a := range dto.Allocations {
		reqs = append(reqs, AllocationRequest{MaterialID: a.MaterialID, RequestedQty: a.RequestedQty})
	}
	result, err := h.service.CheckAvailability(r.Context(), reqs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return
	}
	if actor.Role != shared.RoleSupervisor && actor.Role != shared.RoleWarehouse {
		httpx.RespondError(w, fmt.Errorf("%w: manual stock transactions require supervisor or warehouse role", shared.ErrUnauthorizedActor))
		return
	}
	var dto transactionDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	record, err := h.service.RecordTransaction(r.Context(), TransactionInput{
		MaterialID: dto.MaterialID,
		Type:       TransactionType(dto.Type),
		Quantity:   dto.Quantity,
		Note:       dto.Note,
		ActorID:    actor.ID,
		BatchID:    dto.BatchID,
		Code:       dto.Code,
	})
	if err != nil {
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			httpx.ProblemWithExtra(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error(), insufficient.Shortfalls)
			return
		}
		h.logger.Error("record transaction", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}
