package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokatex/lokatex/internal/shared"
)

// Repository reads the workforce roster from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns one worker by id.
func (r *Repository) Get(ctx context.Context, id int64) (Worker, error) {
	var w Worker
	var role string
	err := r.pool.QueryRow(ctx, `SELECT id, name, role, active, created_at FROM workers WHERE id=$1`, id).
		Scan(&w.ID, &w.Name, &role, &w.Active, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Worker{}, fmt.Errorf("%w: worker %d", shared.ErrNotFound, id)
		}
		return Worker{}, err
	}
	w.Role = shared.Role(role)
	return w, nil
}

// ListByRoleWithLoad returns active workers of a role annotated with their
// open (non-verified) stage task count, least loaded first, ties by id.
func (r *Repository) ListByRoleWithLoad(ctx context.Context, role shared.Role) ([]WorkerLoad, error) {
	rows, err := r.pool.Query(ctx, `SELECT w.id, w.name, w.role, w.active, w.created_at,
COUNT(t.id) FILTER (WHERE t.status <> 'VERIFIED') AS open_tasks
FROM workers w
LEFT JOIN production_tasks t ON t.assigned_to = w.id
WHERE w.role = $1 AND w.active
GROUP BY w.id
ORDER BY open_tasks ASC, w.id ASC`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	loads := []WorkerLoad{}
	for rows.Next() {
		var wl WorkerLoad
		var roleStr string
		if err := rows.Scan(&wl.ID, &wl.Name, &roleStr, &wl.Active, &wl.CreatedAt, &wl.OpenTasks); err != nil {
			return nil, err
		}
		wl.Role = shared.Role(roleStr)
		loads = append(loads, wl)
	}
	return loads, rows.Err()
}
