package materials

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lokatex/lokatex/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMaterial(ctx context.Context, id int64) (Material, error)
	GetMaterials(ctx context.Context, ids []int64) ([]Material, error)
	ListMaterials(ctx context.Context) ([]Material, error)
	ListLowStock(ctx context.Context) ([]Material, error)
	ListTransactions(ctx context.Context, materialID int64, limit int) ([]StockTransaction, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates material ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem}
}

// CheckAvailability compares each requested quantity against current stock.
// Read-only; no side effects.
func (s *Service) CheckAvailability(ctx context.Context, reqs []AllocationRequest) (AvailabilityResult, error) {
	if err := validateRequests(reqs); err != nil {
		return AvailabilityResult{}, err
	}
	ids := requestIDs(reqs)
	mats, err := s.repo.GetMaterials(ctx, ids)
	if err != nil {
		return AvailabilityResult{}, err
	}
	byID := indexMaterials(mats)
	shortfalls, err := computeShortfalls(reqs, byID)
	if err != nil {
		return AvailabilityResult{}, err
	}
	return AvailabilityResult{Sufficient: len(shortfalls) == 0, Shortfalls: shortfalls}, nil
}

// TransactionInput describes a manual stock transaction.
type TransactionInput struct {
	MaterialID int64
	Type       TransactionType
	Quantity   decimal.Decimal
	Note       string
	ActorID    int64
	BatchID    *int64
	RefID      string
	Code       string
}

// RecordTransaction applies a manual IN/OUT/ADJUSTMENT/RETURN movement.
// IN and RETURN increase stock, OUT decreases, ADJUSTMENT is a signed delta.
// Movements that would drive stock negative are rejected, never clamped.
func (s *Service) RecordTransaction(ctx context.Context, input TransactionInput) (StockTransaction, error) {
	if !input.Type.Valid() {
		return StockTransaction{}, fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, input.Type)
	}
	if input.MaterialID <= 0 {
		return StockTransaction{}, fmt.Errorf("%w: material id required", shared.ErrValidation)
	}
	if input.ActorID <= 0 {
		return StockTransaction{}, fmt.Errorf("%w: actor id required", shared.ErrValidation)
	}
	if input.Type != TransactionTypeAdjustment && input.Quantity.Sign() <= 0 {
		return StockTransaction{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if input.Type == TransactionTypeAdjustment && input.Quantity.IsZero() {
		return StockTransaction{}, fmt.Errorf("%w: adjustment quantity must be non zero", shared.ErrValidation)
	}

	insertedKey := false
	key := ""
	if s.idempotency != nil && input.Code != "" {
		key = fmt.Sprintf("%s:%s:%d", input.Type, input.Code, input.MaterialID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "materials"); err != nil {
			return StockTransaction{}, err
		}
		insertedKey = true
	}

	var record StockTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mats, err := tx.GetMaterialsForUpdate(ctx, []int64{input.MaterialID})
		if err != nil {
			return err
		}
		if len(mats) == 0 {
			return fmt.Errorf("%w: material %d", shared.ErrNotFound, input.MaterialID)
		}
		mat := mats[0]

		delta := input.Quantity
		switch input.Type {
		case TransactionTypeOut:
			delta = delta.Neg()
		case TransactionTypeAdjustment:
			// signed as given
		default:
			// IN / RETURN increase stock
		}
		newStock := mat.CurrentStock.Add(delta)
		if newStock.Sign() < 0 {
			if input.Type == TransactionTypeOut {
				return &InsufficientStockError{Shortfalls: []Shortfall{{
					MaterialID: mat.ID,
					Code:       mat.Code,
					Requested:  input.Quantity,
					Available:  mat.CurrentStock,
					Shortfall:  input.Quantity.Sub(mat.CurrentStock),
				}}}
			}
			return ErrNegativeStock
		}
		if err := tx.UpdateStock(ctx, mat.ID, newStock); err != nil {
			return err
		}
		refID := input.RefID
		if refID == "" {
			refID = uuid.NewString()
		}
		record = StockTransaction{
			MaterialID: mat.ID,
			BatchID:    input.BatchID,
			Type:       input.Type,
			Quantity:   input.Quantity,
			Note:       input.Note,
			ActorID:    input.ActorID,
			RefID:      refID,
			CreatedAt:  time.Now().UTC(),
		}
		id, err := tx.InsertTransaction(ctx, record)
		if err != nil {
			return err
		}
		record.ID = id
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return StockTransaction{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("materials:%s", input.Type),
			Entity:   "stock_transaction",
			EntityID: fmt.Sprintf("%d", record.ID),
			Meta: map[string]any{
				"material_id": input.MaterialID,
				"qty":         input.Quantity.String(),
				"note":        input.Note,
			},
		})
	}
	return record, nil
}

// Get returns one material.
func (s *Service) Get(ctx context.Context, id int64) (Material, error) {
	return s.repo.GetMaterial(ctx, id)
}

// List returns all materials.
func (s *Service) List(ctx context.Context) ([]Material, error) {
	return s.repo.ListMaterials(ctx)
}

// ListLowStock returns materials below their minimum stock level.
func (s *Service) ListLowStock(ctx context.Context) ([]Material, error) {
	return s.repo.ListLowStock(ctx)
}

// ListTransactions returns ledger history for one material, newest first.
func (s *Service) ListTransactions(ctx context.Context, materialID int64, limit int) ([]StockTransaction, error) {
	if materialID <= 0 {
		return nil, fmt.Errorf("%w: material id required", shared.ErrValidation)
	}
	return s.repo.ListTransactions(ctx, materialID, limit)
}

// AllocatorTx is the transactional surface the allocation routine needs.
// The batch confirmation flow implements it inside its own transaction so
// that stock deduction, allocation rows, status change and timeline commit
// or roll back together.
type AllocatorTx interface {
	GetMaterialsForUpdate(ctx context.Context, ids []int64) ([]Material, error)
	DecrementStock(ctx context.Context, materialID int64, qty decimal.Decimal) (bool, error)
	InsertTransaction(ctx context.Context, tx StockTransaction) (int64, error)
}

// AllocateAll deducts stock for every request or none of them. All requested
// materials are locked in id order, checked against current stock, and only
// then decremented; a single shortfall aborts the whole set with an
// InsufficientStockError listing every short material. One OUT transaction
// is written per material.
func AllocateAll(ctx context.Context, tx AllocatorTx, batchID, actorID int64, reqs []AllocationRequest) ([]StockTransaction, error) {
	if err := validateRequests(reqs); err != nil {
		return nil, err
	}
	ids := requestIDs(reqs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	mats, err := tx.GetMaterialsForUpdate(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := indexMaterials(mats)
	shortfalls, err := computeShortfalls(reqs, byID)
	if err != nil {
		return nil, err
	}
	if len(shortfalls) > 0 {
		return nil, &InsufficientStockError{Shortfalls: shortfalls}
	}

	now := time.Now().UTC()
	// One reference id groups the whole allocation in the ledger.
	refID := uuid.NewString()
	records := make([]StockTransaction, 0, len(reqs))
	for _, req := range reqs {
		applied, err := tx.DecrementStock(ctx, req.MaterialID, req.RequestedQty)
		if err != nil {
			return nil, err
		}
		if !applied {
			// Lost a race despite the row lock; abort, nothing commits.
			return nil, fmt.Errorf("%w: stock changed during allocation of material %d", shared.ErrStateConflict, req.MaterialID)
		}
		record := StockTransaction{
			MaterialID: req.MaterialID,
			BatchID:    &batchID,
			Type:       TransactionTypeOut,
			Quantity:   req.RequestedQty,
			Note:       fmt.Sprintf("allocated to batch %d", batchID),
			ActorID:    actorID,
			RefID:      refID,
			CreatedAt:  now,
		}
		id, err := tx.InsertTransaction(ctx, record)
		if err != nil {
			return nil, err
		}
		record.ID = id
		records = append(records, record)
	}
	return records, nil
}

// ValidateRequests checks an allocation request set: non-empty, positive
// quantities, no duplicate materials.
func ValidateRequests(reqs []AllocationRequest) error {
	return validateRequests(reqs)
}

func validateRequests(reqs []AllocationRequest) error {
	if len(reqs) == 0 {
		return fmt.Errorf("%w: at least one allocation required", shared.ErrValidation)
	}
	seen := make(map[int64]bool, len(reqs))
	for _, req := range reqs {
		if req.MaterialID <= 0 {
			return fmt.Errorf("%w: material id required", shared.ErrValidation)
		}
		if req.RequestedQty.Sign() <= 0 {
			return fmt.Errorf("%w: requested qty must be positive for material %d", shared.ErrValidation, req.MaterialID)
		}
		if seen[req.MaterialID] {
			return fmt.Errorf("%w: duplicate allocation for material %d", shared.ErrValidation, req.MaterialID)
		}
		seen[req.MaterialID] = true
	}
	return nil
}

func requestIDs(reqs []AllocationRequest) []int64 {
	ids := make([]int64, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.MaterialID)
	}
	return ids
}

func indexMaterials(mats []Material) map[int64]Material {
	byID := make(map[int64]Material, len(mats))
	for _, m := range mats {
		byID[m.ID] = m
	}
	return byID
}

func computeShortfalls(reqs []AllocationRequest, byID map[int64]Material) ([]Shortfall, error) {
	var shortfalls []Shortfall
	for _, req := range reqs {
		mat, ok := byID[req.MaterialID]
		if !ok {
			return nil, fmt.Errorf("%w: material %d", shared.ErrNotFound, req.MaterialID)
		}
		if mat.CurrentStock.LessThan(req.RequestedQty) {
			shortfalls = append(shortfalls, Shortfall{
				MaterialID: mat.ID,
				Code:       mat.Code,
				Requested:  req.RequestedQty,
				Available:  mat.CurrentStock,
				Shortfall:  req.RequestedQty.Sub(mat.CurrentStock),
			})
		}
	}
	return shortfalls, nil
}
