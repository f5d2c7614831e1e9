package masterdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable garment style produced in batches.
type Product struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Size      string    `json:"size"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BOMLine is one bill-of-materials row: material consumption per piece.
type BOMLine struct {
	ProductID   int64           `json:"product_id"`
	MaterialID  int64           `json:"material_id"`
	QtyPerPiece decimal.Decimal `json:"qty_per_piece"`
}
