package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lokatex/lokatex/internal/masterdata"
	"github.com/lokatex/lokatex/internal/materials"
	"github.com/lokatex/lokatex/internal/shared"
	"github.com/lokatex/lokatex/internal/workers"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (ProductionBatch, error)
	ListBatches(ctx context.Context, filter ListFilter) ([]ProductionBatch, error)
	ListAllocations(ctx context.Context, batchID int64) ([]MaterialAllocation, error)
	ListTimeline(ctx context.Context, batchID int64) ([]TimelineEvent, error)
	GetTask(ctx context.Context, id int64) (StageTask, error)
	ListTasks(ctx context.Context, batchID int64) ([]StageTask, error)
	ListTasksByWorker(ctx context.Context, workerID int64) ([]StageTask, error)
	ListFinishedGoods(ctx context.Context, batchID int64) ([]FinishedGoodsEntry, error)
}

// TxRepository is the transactional surface for batch mutations. It embeds
// the material allocator so confirmation deducts stock in the same
// transaction that flips the batch status.
type TxRepository interface {
	materials.AllocatorTx

	InsertBatch(ctx context.Context, b ProductionBatch) (int64, error)
	NextBatchSKU(ctx context.Context, date time.Time) (string, error)
	GetBatchForUpdate(ctx context.Context, id int64) (ProductionBatch, error)
	UpdateBatchStatus(ctx context.Context, id int64, status BatchStatus) error
	SetBatchClosed(ctx context.Context, id int64, status BatchStatus, completedAt time.Time) error
	SetBatchQuantities(ctx context.Context, id int64, actual, reject int) error
	DeleteBatch(ctx context.Context, id int64) error

	InsertAllocations(ctx context.Context, batchID int64, allocs []MaterialAllocation) error
	ListAllocationsForUpdate(ctx context.Context, batchID int64) ([]MaterialAllocation, error)
	MarkAllocationsAllocated(ctx context.Context, batchID int64) error
	MarkAllocationsRejected(ctx context.Context, batchID int64) error

	InsertTask(ctx context.Context, t StageTask) (int64, error)
	GetTaskForUpdate(ctx context.Context, id int64) (StageTask, error)
	GetTaskForStage(ctx context.Context, batchID int64, stage Stage) (StageTask, error)
	UpdateTask(ctx context.Context, t StageTask) error

	AppendTimeline(ctx context.Context, ev TimelineEvent) error
	InsertFinishedGoods(ctx context.Context, e FinishedGoodsEntry) (int64, error)
}

// ProductsPort resolves products and their bill of materials.
type ProductsPort interface {
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
	GetBOM(ctx context.Context, productID int64) ([]masterdata.BOMLine, error)
}

// WorkersPort resolves assignees against the roster.
type WorkersPort interface {
	Get(ctx context.Context, id int64) (workers.Worker, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver is notified after each committed batch transition.
type TransitionObserver interface {
	ObserveTransition(event string)
}

// Service runs the batch workflow engine: the material gate, the three
// stage loops and the warehouse close-out.
type Service struct {
	repo     RepositoryPort
	products ProductsPort
	workers  WorkersPort
	audit    AuditPort
	observer TransitionObserver
	logger   *slog.Logger
}

// NewService builds Service. audit and observer are optional.
func NewService(repo RepositoryPort, products ProductsPort, roster WorkersPort, audit AuditPort, observer TransitionObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, products: products, workers: roster, audit: audit, observer: observer, logger: logger}
}

// ListFilter narrows batch listings.
type ListFilter struct {
	Status    BatchStatus
	ProductID int64
	Limit     int
	Offset    int
}

// CreateBatchInput describes a new batch. When Allocations is empty the
// material plan is derived from the product's bill of materials.
type CreateBatchInput struct {
	ProductID      int64
	TargetQuantity int
	StartDate      *time.Time
	Notes          *string
	Allocations    []materials.AllocationRequest
}

// CreateBatch registers a new batch in PENDING with its requested material
// plan. No stock moves yet.
func (s *Service) CreateBatch(ctx context.Context, actor shared.Actor, input CreateBatchInput) (ProductionBatch, error) {
	if !actor.IsSupervisor() {
		return ProductionBatch{}, supervisorOnly(actor)
	}
	if input.TargetQuantity <= 0 {
		return ProductionBatch{}, fmt.Errorf("%w: target quantity must be positive", shared.ErrValidation)
	}
	product, err := s.products.GetProduct(ctx, input.ProductID)
	if err != nil {
		return ProductionBatch{}, err
	}
	if !product.Active {
		return ProductionBatch{}, fmt.Errorf("%w: product %s is inactive", shared.ErrValidation, product.Code)
	}

	reqs := input.Allocations
	if len(reqs) == 0 {
		reqs, err = s.planFromBOM(ctx, product.ID, input.TargetQuantity)
		if err != nil {
			return ProductionBatch{}, err
		}
	}
	if err := materials.ValidateRequests(reqs); err != nil {
		return ProductionBatch{}, err
	}

	now := time.Now().UTC()
	start := now
	if input.StartDate != nil {
		start = *input.StartDate
	}

	var batch ProductionBatch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sku, err := tx.NextBatchSKU(ctx, start)
		if err != nil {
			return err
		}
		batch = ProductionBatch{
			BatchSKU:       sku,
			ProductID:      product.ID,
			TargetQuantity: input.TargetQuantity,
			Status:         StatusPending,
			StartDate:      start,
			Notes:          input.Notes,
			CreatedBy:      actor.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id

		allocs := make([]MaterialAllocation, 0, len(reqs))
		for _, req := range reqs {
			allocs = append(allocs, MaterialAllocation{
				BatchID:      id,
				MaterialID:   req.MaterialID,
				RequestedQty: req.RequestedQty,
				Status:       AllocationRequested,
			})
		}
		if err := tx.InsertAllocations(ctx, id, allocs); err != nil {
			return err
		}
		return s.record(ctx, tx, id, EventBatchCreated, actor,
			fmt.Sprintf("batch %s created for product %s, target %d pcs", sku, product.Code, input.TargetQuantity))
	})
	if err != nil {
		return ProductionBatch{}, err
	}
	s.auditAction(ctx, actor, "production:create", batch.ID, map[string]any{"sku": batch.BatchSKU})
	return batch, nil
}

// RequestMaterials flags the batch's material plan as awaiting stock.
func (s *Service) RequestMaterials(ctx context.Context, actor shared.Actor, batchID int64) (ProductionBatch, error) {
	if !actor.IsSupervisor() {
		return ProductionBatch{}, supervisorOnly(actor)
	}
	var batch ProductionBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, tx, &batch, StatusMaterialRequested, EventMaterialRequested, actor,
			fmt.Sprintf("materials requested by %s", actor.Name)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return ProductionBatch{}, err
	}
	return batch, nil
}

// ConfirmBatch allocates stock for every requested material atomically and
// moves the batch to MATERIAL_ALLOCATED. A single shortfall aborts the whole
// confirmation with the full shortfall list; nothing is deducted.
func (s *Service) ConfirmBatch(ctx context.Context, actor shared.Actor, batchID int64) (ProductionBatch, error) {
	if !actor.IsSupervisor() {
		return ProductionBatch{}, supervisorOnly(actor)
	}
	var batch ProductionBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != StatusPending && batch.Status != StatusMaterialRequested {
			return fmt.Errorf("%w: batch %s cannot be confirmed from %s", shared.ErrStateConflict, batch.BatchSKU, batch.Status)
		}
		allocs, err := tx.ListAllocationsForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		reqs := make([]materials.AllocationRequest, 0, len(allocs))
		for _, a := range allocs {
			// Rows rejected by an earlier shortfall are retried alongside
			// the requested ones.
			if a.Status == AllocationAllocated {
				continue
			}
			reqs = append(reqs, materials.AllocationRequest{MaterialID: a.MaterialID, RequestedQty: a.RequestedQty})
		}
		if _, err := materials.AllocateAll(ctx, tx, batchID, actor.ID, reqs); err != nil {
			return err
		}
		if err := tx.MarkAllocationsAllocated(ctx, batchID); err != nil {
			return err
		}
		return s.transition(ctx, tx, &batch, StatusMaterialAllocated, EventMaterialAllocated, actor,
			fmt.Sprintf("%d materials allocated by %s", len(reqs), actor.Name))
	})
	if err != nil {
		var insufficient *materials.InsufficientStockError
		if errors.As(err, &insufficient) {
			// Record the verdict on the plan: rows read REJECTED until stock
			// arrives and the confirmation is retried.
			if markErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				return tx.MarkAllocationsRejected(ctx, batchID)
			}); markErr != nil {
				s.logger.Warn("mark allocations rejected", slog.Int64("batch_id", batchID), slog.Any("error", markErr))
			}
		}
		return ProductionBatch{}, err
	}
	s.auditAction(ctx, actor, "production:confirm", batch.ID, map[string]any{"sku": batch.BatchSKU})
	return batch, nil
}

// VerifyWarehouseInput closes out a finished batch at the warehouse.
type VerifyWarehouseInput struct {
	Location string
	Notes    *string
}

// VerifyWarehouse is the final quality gate. It verifies the finishing task,
// books accepted and reject pieces into finished goods, freezes the batch
// quantities and walks the batch through WAREHOUSE_VERIFIED to COMPLETED in
// one transaction.
func (s *Service) VerifyWarehouse(ctx context.Context, actor shared.Actor, batchID int64, input VerifyWarehouseInput) (ProductionBatch, error) {
	if actor.Role != shared.RoleWarehouse {
		return ProductionBatch{}, fmt.Errorf("%w: %s may not perform warehouse verification", shared.ErrUnauthorizedActor, actor.Role)
	}
	if input.Location == "" {
		return ProductionBatch{}, fmt.Errorf("%w: storage location required", shared.ErrValidation)
	}
	var batch ProductionBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != StatusFinishingCompleted {
			return transitionErr(batch.Status, StatusWarehouseVerified)
		}
		task, err := tx.GetTaskForStage(ctx, batchID, StageFinishing)
		if err != nil {
			return err
		}
		if task.Status != TaskCompleted {
			return fmt.Errorf("%w: finishing task is %s, expected %s", shared.ErrStateConflict, task.Status, TaskCompleted)
		}
		now := time.Now().UTC()
		task.Status = TaskVerified
		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		if err := tx.SetBatchQuantities(ctx, batchID, task.PiecesCompleted, task.RejectPieces); err != nil {
			return err
		}
		if task.PiecesCompleted > 0 {
			if _, err := tx.InsertFinishedGoods(ctx, FinishedGoodsEntry{
				BatchID:   batchID,
				Kind:      GoodsAccepted,
				Quantity:  task.PiecesCompleted,
				Location:  input.Location,
				Notes:     input.Notes,
				CreatedBy: actor.ID,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		if task.RejectPieces > 0 {
			if _, err := tx.InsertFinishedGoods(ctx, FinishedGoodsEntry{
				BatchID:   batchID,
				Kind:      GoodsReject,
				Quantity:  task.RejectPieces,
				Location:  input.Location,
				Notes:     input.Notes,
				CreatedBy: actor.ID,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		if err := s.transition(ctx, tx, &batch, StatusWarehouseVerified, EventWarehouseVerified, actor,
			fmt.Sprintf("%d pcs accepted, %d rejected, stored at %s", task.PiecesCompleted, task.RejectPieces, input.Location)); err != nil {
			return err
		}
		if !CanTransition(batch.Status, StatusCompleted) {
			return transitionErr(batch.Status, StatusCompleted)
		}
		if err := tx.SetBatchClosed(ctx, batchID, StatusCompleted, now); err != nil {
			return err
		}
		batch.Status = StatusCompleted
		batch.CompletedDate = &now
		batch.ActualQuantity = task.PiecesCompleted
		batch.RejectQuantity = task.RejectPieces
		if err := tx.AppendTimeline(ctx, TimelineEvent{
			BatchID: batchID, Event: EventBatchCompleted, ActorID: actor.ID,
			Details:   fmt.Sprintf("batch %s completed", batch.BatchSKU),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		s.observe(EventBatchCompleted)
		return nil
	})
	if err != nil {
		return ProductionBatch{}, err
	}
	s.auditAction(ctx, actor, "production:warehouse_verify", batch.ID, map[string]any{
		"sku": batch.BatchSKU, "accepted": batch.ActualQuantity, "rejected": batch.RejectQuantity,
	})
	return batch, nil
}

// CancelBatch cancels a batch that has not consumed stock yet.
func (s *Service) CancelBatch(ctx context.Context, actor shared.Actor, batchID int64, reason string) (ProductionBatch, error) {
	if !actor.IsSupervisor() {
		return ProductionBatch{}, supervisorOnly(actor)
	}
	if reason == "" {
		return ProductionBatch{}, fmt.Errorf("%w: cancellation reason required", shared.ErrValidation)
	}
	var batch ProductionBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if !CanTransition(batch.Status, StatusCancelled) {
			return transitionErr(batch.Status, StatusCancelled)
		}
		now := time.Now().UTC()
		if err := tx.SetBatchClosed(ctx, batchID, StatusCancelled, now); err != nil {
			return err
		}
		batch.Status = StatusCancelled
		batch.CompletedDate = &now
		if err := tx.AppendTimeline(ctx, TimelineEvent{
			BatchID: batchID, Event: EventBatchCancelled, ActorID: actor.ID,
			Details:   fmt.Sprintf("cancelled by %s: %s", actor.Name, reason),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		s.observe(EventBatchCancelled)
		return nil
	})
	if err != nil {
		return ProductionBatch{}, err
	}
	s.auditAction(ctx, actor, "production:cancel", batch.ID, map[string]any{"sku": batch.BatchSKU, "reason": reason})
	return batch, nil
}

// DeleteBatch physically removes a batch that has not consumed stock yet,
// together with its allocations and timeline.
func (s *Service) DeleteBatch(ctx context.Context, actor shared.Actor, batchID int64) error {
	if !actor.IsSupervisor() {
		return supervisorOnly(actor)
	}
	var sku string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != StatusPending && batch.Status != StatusMaterialRequested {
			return fmt.Errorf("%w: batch %s cannot be deleted in %s", shared.ErrStateConflict, batch.BatchSKU, batch.Status)
		}
		sku = batch.BatchSKU
		return tx.DeleteBatch(ctx, batchID)
	})
	if err != nil {
		return err
	}
	s.auditAction(ctx, actor, "production:delete", batchID, map[string]any{"sku": sku})
	return nil
}

// Get returns one batch.
func (s *Service) Get(ctx context.Context, id int64) (ProductionBatch, error) {
	return s.repo.GetBatch(ctx, id)
}

// List returns batches matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]ProductionBatch, error) {
	if filter.Status != "" {
		if _, ok := transitions[filter.Status]; !ok {
			return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
		}
	}
	return s.repo.ListBatches(ctx, filter)
}

// ListTimeline returns the batch's timeline in insertion order.
func (s *Service) ListTimeline(ctx context.Context, batchID int64) ([]TimelineEvent, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.ListTimeline(ctx, batchID)
}

// ListAllocations returns the batch's material plan.
func (s *Service) ListAllocations(ctx context.Context, batchID int64) ([]MaterialAllocation, error) {
	return s.repo.ListAllocations(ctx, batchID)
}

// ListTasks returns the batch's stage tasks.
func (s *Service) ListTasks(ctx context.Context, batchID int64) ([]StageTask, error) {
	return s.repo.ListTasks(ctx, batchID)
}

// ListTasksByWorker returns a worker's tasks, newest first.
func (s *Service) ListTasksByWorker(ctx context.Context, workerID int64) ([]StageTask, error) {
	return s.repo.ListTasksByWorker(ctx, workerID)
}

// ListFinishedGoods returns the warehouse entries for a batch.
func (s *Service) ListFinishedGoods(ctx context.Context, batchID int64) ([]FinishedGoodsEntry, error) {
	return s.repo.ListFinishedGoods(ctx, batchID)
}

func (s *Service) planFromBOM(ctx context.Context, productID int64, target int) ([]materials.AllocationRequest, error) {
	lines, err := s.products.GetBOM(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: product %d has no bill of materials; allocations must be given explicitly", shared.ErrValidation, productID)
	}
	pieces := decimal.NewFromInt(int64(target))
	reqs := make([]materials.AllocationRequest, 0, len(lines))
	for _, line := range lines {
		reqs = append(reqs, materials.AllocationRequest{
			MaterialID:   line.MaterialID,
			RequestedQty: line.QtyPerPiece.Mul(pieces),
		})
	}
	return reqs, nil
}

// transition applies a legal status change, appends its timeline event and
// notifies the metrics observer. The only place batch status is advanced.
func (s *Service) transition(ctx context.Context, tx TxRepository, batch *ProductionBatch, to BatchStatus, event EventType, actor shared.Actor, details string) error {
	if !CanTransition(batch.Status, to) {
		return transitionErr(batch.Status, to)
	}
	if err := tx.UpdateBatchStatus(ctx, batch.ID, to); err != nil {
		return err
	}
	batch.Status = to
	if err := s.record(ctx, tx, batch.ID, event, actor, details); err != nil {
		return err
	}
	return nil
}

func (s *Service) record(ctx context.Context, tx TxRepository, batchID int64, event EventType, actor shared.Actor, details string) error {
	if err := tx.AppendTimeline(ctx, TimelineEvent{
		BatchID:   batchID,
		Event:     event,
		Details:   details,
		ActorID:   actor.ID,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	s.observe(event)
	return nil
}

func (s *Service) observe(event EventType) {
	if s.observer != nil {
		s.observer.ObserveTransition(string(event))
	}
}

func (s *Service) auditAction(ctx context.Context, actor shared.Actor, action string, batchID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "production_batch",
		EntityID: fmt.Sprintf("%d", batchID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func supervisorOnly(actor shared.Actor) error {
	return fmt.Errorf("%w: %s requires supervisor role", shared.ErrUnauthorizedActor, actor.Role)
}
