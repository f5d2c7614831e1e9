package materials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lokatex/lokatex/internal/platform/db"
	"github.com/lokatex/lokatex/internal/shared"
)

// Repository persists the material ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	AllocatorTx
	UpdateStock(ctx context.Context, materialID int64, newStock decimal.Decimal) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTx wraps an open transaction so other modules can compose ledger
// operations into their own transaction boundary.
func NewTx(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("materials repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const materialColumns = `id, code, name, unit, current_stock, minimum_stock, created_at, updated_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Unit, &m.CurrentStock, &m.MinimumStock, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// GetMaterial returns one material by id.
func (r *Repository) GetMaterial(ctx context.Context, id int64) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, fmt.Errorf("%w: material %d", shared.ErrNotFound, id)
		}
		return Material{}, err
	}
	return m, nil
}

// GetMaterials returns materials for the given ids, without locking.
func (r *Repository) GetMaterials(ctx context.Context, ids []int64) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = ANY($1) ORDER BY id ASC`, ids)
	if err != nil {
		return nil, err
	}
	return collectMaterials(rows)
}

// ListMaterials returns all materials ordered by code.
func (r *Repository) ListMaterials(ctx context.Context) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	return collectMaterials(rows)
}

// ListLowStock returns materials whose stock fell below the minimum level.
func (r *Repository) ListLowStock(ctx context.Context) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials WHERE current_stock < minimum_stock ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	return collectMaterials(rows)
}

// ListTransactions returns ledger rows for a material, newest first.
func (r *Repository) ListTransactions(ctx context.Context, materialID int64, limit int) ([]StockTransaction, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, material_id, batch_id, tx_type, quantity, note, actor_id, ref_id, created_at
FROM stock_transactions WHERE material_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, materialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txs := []StockTransaction{}
	for rows.Next() {
		var t StockTransaction
		var txType string
		var refID *string
		if err := rows.Scan(&t.ID, &t.MaterialID, &t.BatchID, &txType, &t.Quantity, &t.Note, &t.ActorID, &refID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = TransactionType(txType)
		if refID != nil {
			t.RefID = *refID
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func collectMaterials(rows pgx.Rows) ([]Material, error) {
	defer rows.Close()
	mats := []Material{}
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.Unit, &m.CurrentStock, &m.MinimumStock, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		mats = append(mats, m)
	}
	return mats, rows.Err()
}

func (r *txRepository) GetMaterialsForUpdate(ctx context.Context, ids []int64) ([]Material, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = ANY($1) ORDER BY id ASC FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collectMaterials(rows)
}

// DecrementStock applies a conditional decrement: it only succeeds while the
// remaining stock covers the quantity, so combined concurrent deductions can
// never drive stock negative.
func (r *txRepository) DecrementStock(ctx context.Context, materialID int64, qty decimal.Decimal) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE materials SET current_stock = current_stock - $2, updated_at = NOW()
WHERE id = $1 AND current_stock >= $2`, materialID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) UpdateStock(ctx context.Context, materialID int64, newStock decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE materials SET current_stock = $2, updated_at = NOW() WHERE id = $1`, materialID, newStock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: material %d", shared.ErrNotFound, materialID)
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, t StockTransaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (material_id, batch_id, tx_type, quantity, note, actor_id, ref_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		t.MaterialID, t.BatchID, string(t.Type), t.Quantity, t.Note, t.ActorID, nullString(t.RefID), t.CreatedAt).Scan(&id)
	return id, err
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
