package materials

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lokatex/lokatex/internal/shared"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionTypeIn represents a manual restock.
	TransactionTypeIn TransactionType = "IN"
	// TransactionTypeOut represents an outbound movement, including batch allocation.
	TransactionTypeOut TransactionType = "OUT"
	// TransactionTypeAdjustment is a signed correction of the stock level.
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	// TransactionTypeReturn records unused or rejected material coming back from a batch.
	TransactionTypeReturn TransactionType = "RETURN"
)

// Valid reports whether the type is one of the supported movements.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeIn, TransactionTypeOut, TransactionTypeAdjustment, TransactionTypeReturn:
		return true
	}
	return false
}

// Material is one raw-material inventory unit.
type Material struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StockTransaction is one immutable ledger row. Every stock mutation
// produces exactly one.
type StockTransaction struct {
	ID         int64           `json:"id"`
	MaterialID int64           `json:"material_id"`
	BatchID    *int64          `json:"batch_id,omitempty"`
	Type       TransactionType `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Note       string          `json:"note,omitempty"`
	ActorID    int64           `json:"actor_id"`
	RefID      string          `json:"ref_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AllocationRequest asks for a quantity of one material.
type AllocationRequest struct {
	MaterialID   int64           `json:"material_id"`
	RequestedQty decimal.Decimal `json:"requested_qty"`
}

// Shortfall describes one material that cannot cover its requested quantity.
type Shortfall struct {
	MaterialID int64           `json:"material_id"`
	Code       string          `json:"code"`
	Requested  decimal.Decimal `json:"requested"`
	Available  decimal.Decimal `json:"available"`
	Shortfall  decimal.Decimal `json:"shortfall"`
}

// AvailabilityResult is the outcome of a read-only availability check.
type AvailabilityResult struct {
	Sufficient bool        `json:"sufficient"`
	Shortfalls []Shortfall `json:"shortfalls,omitempty"`
}

// InsufficientStockError carries the per-material shortfall list for a
// rejected allocation. No stock changes when it is returned.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("material %s short by %s", s.Code, s.Shortfall))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

// Unwrap lets callers match the error with errors.Is(err, shared.ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error { return shared.ErrInsufficientStock }

// ErrNegativeStock triggers when a movement would drive stock below zero.
var ErrNegativeStock = fmt.Errorf("%w: stock cannot go negative", shared.ErrValidation)
