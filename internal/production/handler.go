package production

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lokatex/lokatex/internal/materials"
	"github.com/lokatex/lokatex/internal/platform/httpx"
	"github.com/lokatex/lokatex/internal/shared"
)

// Handler wires HTTP endpoints for the batch workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountBatchRoutes registers batch-scoped routes.
func (h *Handler) MountBatchRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/request-materials", h.requestMaterials)
	r.Post("/{id}/confirm", h.confirm)
	r.Post("/{id}/assign", h.assign)
	r.Post("/{id}/warehouse-verify", h.warehouseVerify)
	r.Post("/{id}/cancel", h.cancel)
	r.Get("/{id}/timeline", h.timeline)
	r.Get("/{id}/allocations", h.allocations)
	r.Get("/{id}/tasks", h.tasks)
	r.Get("/{id}/finished-goods", h.finishedGoods)
}

// MountTaskRoutes registers task-scoped routes.
func (h *Handler) MountTaskRoutes(r chi.Router) {
	r.Get("/", h.listWorkerTasks)
	r.Get("/{id}", h.showTask)
	r.Post("/{id}/start", h.startTask)
	r.Post("/{id}/progress", h.recordProgress)
	r.Post("/{id}/complete", h.completeTask)
	r.Post("/{id}/verify", h.verifyTask)
}

type createBatchDTO struct {
	ProductID      int64                  `json:"product_id" validate:"required,gt=0"`
	TargetQuantity int                    `json:"target_quantity" validate:"required,gt=0"`
	StartDate      *time.Time             `json:"start_date,omitempty"`
	Notes          *string                `json:"notes,omitempty"`
	Allocations    []allocationRequestDTO `json:"allocations,omitempty" validate:"omitempty,dive"`
}

type allocationRequestDTO struct {
	MaterialID   int64           `json:"material_id" validate:"required,gt=0"`
	RequestedQty decimal.Decimal `json:"requested_qty" validate:"required"`
}

type assignStageDTO struct {
	Stage            string  `json:"stage" validate:"required,oneof=CUTTING SEWING FINISHING"`
	AssignedTo       int64   `json:"assigned_to" validate:"required,gt=0"`
	QuantityReceived int     `json:"quantity_received,omitempty" validate:"gte=0"`
	Notes            *string `json:"notes,omitempty"`
}

type progressDTO struct {
	CompletedDelta int     `json:"completed_delta" validate:"gte=0"`
	RejectDelta    int     `json:"reject_delta" validate:"gte=0"`
	Notes          *string `json:"notes,omitempty"`
}

type completeTaskDTO struct {
	PiecesCompleted int     `json:"pieces_completed" validate:"gte=0"`
	RejectPieces    int     `json:"reject_pieces" validate:"gte=0"`
	Notes           *string `json:"notes,omitempty"`
}

type verifyTaskDTO struct {
	Action string  `json:"action" validate:"required,oneof=approve reject"`
	Notes  *string `json:"notes,omitempty"`
}

type warehouseVerifyDTO struct {
	Location string  `json:"location" validate:"required"`
	Notes    *string `json:"notes,omitempty"`
}

type cancelDTO struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return
	}
	var dto createBatchDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	reqs := make([]materials.AllocationRequest, 0, len(dto.Allocations))
	for _, a := range dto.Allocations {
		reqs = append(reqs, materials.AllocationRequest{MaterialID: a.MaterialID, RequestedQty: a.RequestedQty})
	}
	batch, err := h.service.CreateBatch(r.Context(), actor, CreateBatchInput{
		ProductID:      dto.ProductID,
		TargetQuantity: dto.TargetQuantity,
		StartDate:      dto.StartDate,
		Notes:          dto.Notes,
		Allocations:    reqs,
	})
	if err != nil {
		h.logger.Error("create batch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, _ := strconv.ParseInt(q.Get("product_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	batches, err := h.service.List(r.Context(), ListFilter{
		Status:    BatchStatus(q.Get("status")),
		ProductID: productID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	batch, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteBatch(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requestMaterials(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	batch, err := h.service.RequestMaterials(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	batch, err := h.service.ConfirmBatch(r.Context(), actor, id)
	if err != nil {
		var insufficient *materials.InsufficientStockError
		if errors.As(err, &insufficient) {
			httpx.ProblemWithExtra(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error(), insufficient.Shortfalls)
			return
		}
		h.logger.Error("confirm batch", slog.Int64("batch_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var dto assignStageDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	task, err := h.service.AssignStage(r.Context(), actor, id, AssignStageInput{
		Stage:            Stage(dto.Stage),
		AssignedTo:       dto.AssignedTo,
		QuantityReceived: dto.QuantityReceived,
		Notes:            dto.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, task)
}

func (h *Handler) warehouseVerify(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var dto warehouseVerifyDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.VerifyWarehouse(r.Context(), actor, id, VerifyWarehouseInput{
		Location: dto.Location,
		Notes:    dto.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var dto cancelDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.CancelBatch(r.Context(), actor, id, dto.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	events, err := h.service.ListTimeline(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) allocations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	allocs, err := h.service.ListAllocations(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, allocs)
}

func (h *Handler) tasks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tasks, err := h.service.ListTasks(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tasks)
}

func (h *Handler) finishedGoods(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListFinishedGoods(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) listWorkerTasks(w http.ResponseWriter, r *http.Request) {
	workerID, err := strconv.ParseInt(r.URL.Query().Get("worker_id"), 10, 64)
	if err != nil || workerID <= 0 {
		// Default to the caller's own tasks.
		actor, ok := shared.ActorFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "worker_id required")
			return
		}
		workerID = actor.ID
	}
	tasks, err := h.service.ListTasksByWorker(r.Context(), workerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tasks)
}

func (h *Handler) showTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	task, err := h.service.GetTask(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *Handler) startTask(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	task, err := h.service.StartTask(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *Handler) recordProgress(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var dto progressDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	task, err := h.service.RecordProgress(r.Context(), actor, id, ProgressInput{
		CompletedDelta: dto.CompletedDelta,
		RejectDelta:    dto.RejectDelta,
		Notes:          dto.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var dto completeTaskDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	task, err := h.service.CompleteTask(r.Context(), actor, id, CompleteInput{
		PiecesCompleted: dto.PiecesCompleted,
		RejectPieces:    dto.RejectPieces,
		Notes:           dto.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *Handler) verifyTask(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var dto verifyTaskDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	task, err := h.service.VerifyTask(r.Context(), actor, id, VerifyInput{
		Approve: dto.Action == "approve",
		Notes:   dto.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (shared.Actor, int64, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return shared.Actor{}, 0, false
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return shared.Actor{}, 0, false
	}
	return actor, id, true
}
