package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokatex/lokatex/internal/shared"
)

// Repository reads product master data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct returns one product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, category, size, active, created_at, updated_at
FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.Size, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
		}
		return Product{}, err
	}
	return p, nil
}

// ListProducts returns active products ordered by code.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, category, size, active, created_at, updated_at
FROM products WHERE active ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.Size, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetBOM returns the bill-of-materials rows for a product.
func (r *Repository) GetBOM(ctx context.Context, productID int64) ([]BOMLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, material_id, qty_per_piece
FROM product_bom WHERE product_id=$1 ORDER BY material_id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []BOMLine
	for rows.Next() {
		var l BOMLine
		if err := rows.Scan(&l.ProductID, &l.MaterialID, &l.QtyPerPiece); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
