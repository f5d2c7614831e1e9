package production

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokatex/lokatex/internal/materials"
	"github.com/lokatex/lokatex/internal/platform/db"
	"github.com/lokatex/lokatex/internal/shared"
)

// Repository persists batches, tasks and the timeline in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	materials.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. The
// material allocator is composed in so allocation and batch mutations share
// one commit.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("production repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: materials.NewTx(tx), tx: tx})
	})
}

const batchColumns = `id, batch_sku, product_id, target_quantity, actual_quantity, reject_quantity,
status, start_date, completed_date, notes, created_by, created_at, updated_at`

func scanBatch(row pgx.Row) (ProductionBatch, error) {
	var b ProductionBatch
	var status string
	err := row.Scan(&b.ID, &b.BatchSKU, &b.ProductID, &b.TargetQuantity, &b.ActualQuantity, &b.RejectQuantity,
		&status, &b.StartDate, &b.CompletedDate, &b.Notes, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	b.Status = BatchStatus(status)
	return b, err
}

// GetBatch returns one batch by id.
func (r *Repository) GetBatch(ctx context.Context, id int64) (ProductionBatch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM production_batches WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductionBatch{}, fmt.Errorf("%w: batch %d", shared.ErrNotFound, id)
		}
		return ProductionBatch{}, err
	}
	return b, nil
}

// ListBatches returns batches matching the filter, newest first.
func (r *Repository) ListBatches(ctx context.Context, filter ListFilter) ([]ProductionBatch, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + batchColumns + ` FROM production_batches WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.ProductID > 0 {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(" AND product_id=$%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []ProductionBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ListAllocations returns the material plan for a batch.
func (r *Repository) ListAllocations(ctx context.Context, batchID int64) ([]MaterialAllocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, material_id, requested_qty, allocated_qty, status
FROM batch_material_allocations WHERE batch_id=$1 ORDER BY material_id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}

// ListTimeline returns the batch timeline in insertion order.
func (r *Repository) ListTimeline(ctx context.Context, batchID int64) ([]TimelineEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, event, details, actor_id, created_at
FROM batch_timeline WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := []TimelineEvent{}
	for rows.Next() {
		var ev TimelineEvent
		var event string
		if err := rows.Scan(&ev.ID, &ev.BatchID, &event, &ev.Details, &ev.ActorID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Event = EventType(event)
		events = append(events, ev)
	}
	return events, rows.Err()
}

const taskColumns = `id, batch_id, stage, assigned_to, quantity_received, pieces_completed, reject_pieces,
status, notes, started_at, completed_at, created_at, updated_at`

func scanTask(row pgx.Row) (StageTask, error) {
	var t StageTask
	var stage, status string
	err := row.Scan(&t.ID, &t.BatchID, &stage, &t.AssignedTo, &t.QuantityReceived, &t.PiecesCompleted, &t.RejectPieces,
		&status, &t.Notes, &t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	t.Stage = Stage(stage)
	t.Status = TaskStatus(status)
	return t, err
}

// GetTask returns one stage task by id.
func (r *Repository) GetTask(ctx context.Context, id int64) (StageTask, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM production_tasks WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StageTask{}, fmt.Errorf("%w: task %d", shared.ErrNotFound, id)
		}
		return StageTask{}, err
	}
	return t, nil
}

// ListTasks returns a batch's tasks in pipeline order.
func (r *Repository) ListTasks(ctx context.Context, batchID int64) ([]StageTask, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM production_tasks WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// ListTasksByWorker returns a worker's tasks, newest first.
func (r *Repository) ListTasksByWorker(ctx context.Context, workerID int64) ([]StageTask, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM production_tasks WHERE assigned_to=$1 ORDER BY id DESC`, workerID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// ListFinishedGoods returns warehouse entries for a batch.
func (r *Repository) ListFinishedGoods(ctx context.Context, batchID int64) ([]FinishedGoodsEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, kind, quantity, location, notes, created_by, created_at
FROM finished_goods WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []FinishedGoodsEntry{}
	for rows.Next() {
		var e FinishedGoodsEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.BatchID, &kind, &e.Quantity, &e.Location, &e.Notes, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = GoodsKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func collectTasks(rows pgx.Rows) ([]StageTask, error) {
	defer rows.Close()
	tasks := []StageTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func collectAllocations(rows pgx.Rows) ([]MaterialAllocation, error) {
	defer rows.Close()
	allocs := []MaterialAllocation{}
	for rows.Next() {
		var a MaterialAllocation
		var status string
		if err := rows.Scan(&a.ID, &a.BatchID, &a.MaterialID, &a.RequestedQty, &a.AllocatedQty, &status); err != nil {
			return nil, err
		}
		a.Status = AllocationStatus(status)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func (r *txRepository) InsertBatch(ctx context.Context, b ProductionBatch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO production_batches
(batch_sku, product_id, target_quantity, actual_quantity, reject_quantity, status, start_date, completed_date, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,0,0,$4,$5,NULL,$6,$7,$8,$8) RETURNING id`,
		b.BatchSKU, b.ProductID, b.TargetQuantity, string(b.Status), b.StartDate, b.Notes, b.CreatedBy, b.CreatedAt).Scan(&id)
	return id, err
}

// NextBatchSKU issues the next sequential SKU for the given date, e.g.
// BATCH-20260901-003. The daily counter row is locked so concurrent creates
// cannot collide.
func (r *txRepository) NextBatchSKU(ctx context.Context, date time.Time) (string, error) {
	day := date.UTC().Format("20060102")
	var seq int
	err := r.tx.QueryRow(ctx, `INSERT INTO batch_sku_counters (day, seq) VALUES ($1, 1)
ON CONFLICT (day) DO UPDATE SET seq = batch_sku_counters.seq + 1
RETURNING seq`, day).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BATCH-%s-%03d", day, seq), nil
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, id int64) (ProductionBatch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM production_batches WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductionBatch{}, fmt.Errorf("%w: batch %d", shared.ErrNotFound, id)
		}
		return ProductionBatch{}, err
	}
	return b, nil
}

func (r *txRepository) UpdateBatchStatus(ctx context.Context, id int64, status BatchStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE production_batches SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: batch %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) SetBatchClosed(ctx context.Context, id int64, status BatchStatus, completedAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE production_batches SET status=$2, completed_date=$3, updated_at=NOW() WHERE id=$1`,
		id, string(status), completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: batch %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) SetBatchQuantities(ctx context.Context, id int64, actual, reject int) error {
	tag, err := r.tx.Exec(ctx, `UPDATE production_batches SET actual_quantity=$2, reject_quantity=$3, updated_at=NOW() WHERE id=$1`,
		id, actual, reject)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: batch %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) DeleteBatch(ctx context.Context, id int64) error {
	for _, q := range []string{
		`DELETE FROM batch_timeline WHERE batch_id=$1`,
		`DELETE FROM batch_material_allocations WHERE batch_id=$1`,
		`DELETE FROM production_batches WHERE id=$1`,
	} {
		if _, err := r.tx.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertAllocations(ctx context.Context, batchID int64, allocs []MaterialAllocation) error {
	for _, a := range allocs {
		if _, err := r.tx.Exec(ctx, `INSERT INTO batch_material_allocations (batch_id, material_id, requested_qty, status)
VALUES ($1,$2,$3,$4)`, batchID, a.MaterialID, a.RequestedQty, string(a.Status)); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) ListAllocationsForUpdate(ctx context.Context, batchID int64) ([]MaterialAllocation, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, batch_id, material_id, requested_qty, allocated_qty, status
FROM batch_material_allocations WHERE batch_id=$1 ORDER BY material_id ASC FOR UPDATE`, batchID)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}

func (r *txRepository) MarkAllocationsAllocated(ctx context.Context, batchID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE batch_material_allocations
SET status=$2, allocated_qty=requested_qty WHERE batch_id=$1 AND status<>$2`,
		batchID, string(AllocationAllocated))
	return err
}

func (r *txRepository) MarkAllocationsRejected(ctx context.Context, batchID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE batch_material_allocations
SET status=$2 WHERE batch_id=$1 AND status=$3`,
		batchID, string(AllocationRejected), string(AllocationRequested))
	return err
}

func (r *txRepository) InsertTask(ctx context.Context, t StageTask) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO production_tasks
(batch_id, stage, assigned_to, quantity_received, pieces_completed, reject_pieces, status, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,0,0,$5,$6,$7,$7) RETURNING id`,
		t.BatchID, string(t.Stage), t.AssignedTo, t.QuantityReceived, string(t.Status), t.Notes, t.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetTaskForUpdate(ctx context.Context, id int64) (StageTask, error) {
	t, err := scanTask(r.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM production_tasks WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StageTask{}, fmt.Errorf("%w: task %d", shared.ErrNotFound, id)
		}
		return StageTask{}, err
	}
	return t, nil
}

func (r *txRepository) GetTaskForStage(ctx context.Context, batchID int64, stage Stage) (StageTask, error) {
	t, err := scanTask(r.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM production_tasks WHERE batch_id=$1 AND stage=$2`, batchID, string(stage)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StageTask{}, fmt.Errorf("%w: no %s task for batch %d", shared.ErrNotFound, stage, batchID)
		}
		return StageTask{}, err
	}
	return t, nil
}

func (r *txRepository) UpdateTask(ctx context.Context, t StageTask) error {
	tag, err := r.tx.Exec(ctx, `UPDATE production_tasks
SET pieces_completed=$2, reject_pieces=$3, status=$4, notes=$5, started_at=$6, completed_at=$7, updated_at=$8
WHERE id=$1`,
		t.ID, t.PiecesCompleted, t.RejectPieces, string(t.Status), t.Notes, t.StartedAt, t.CompletedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: task %d", shared.ErrNotFound, t.ID)
	}
	return nil
}

func (r *txRepository) AppendTimeline(ctx context.Context, ev TimelineEvent) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO batch_timeline (batch_id, event, details, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5)`, ev.BatchID, string(ev.Event), ev.Details, ev.ActorID, ev.CreatedAt)
	return err
}

func (r *txRepository) InsertFinishedGoods(ctx context.Context, e FinishedGoodsEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO finished_goods (batch_id, kind, quantity, location, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		e.BatchID, string(e.Kind), e.Quantity, e.Location, e.Notes, e.CreatedBy, e.CreatedAt).Scan(&id)
	return id, err
}
