package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lokatex/lokatex/internal/materials"
	"github.com/lokatex/lokatex/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan reports materials that fell below their minimum level.
	TaskLowStockScan = "materials:low_stock_scan"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// LowStockPayload configures one low-stock scan run.
type LowStockPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewLowStockScanTask constructs the low-stock scan task.
func NewLowStockScanTask() (*asynq.Task, error) {
	data, err := json.Marshal(LowStockPayload{RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskIdempotencyCleanup, nil), nil
}

// LowStockScanner lists materials below their minimum stock level.
type LowStockScanner interface {
	ListLowStock(ctx context.Context) ([]materials.Material, error)
}

// NewLowStockHandler processes TaskLowStockScan tasks. The scan only logs
// its findings; purchasing follow-up happens outside this system.
func NewLowStockHandler(scanner LowStockScanner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		mats, err := scanner.ListLowStock(ctx)
		if err != nil {
			return err
		}
		if len(mats) == 0 {
			logger.Info("low stock scan clean")
			return nil
		}
		for _, m := range mats {
			logger.Warn("material below minimum stock",
				slog.String("code", m.Code),
				slog.String("current", m.CurrentStock.String()),
				slog.String("minimum", m.MinimumStock.String()))
		}
		logger.Info("low stock scan done", slog.Int("below_minimum", len(mats)))
		return nil
	}
}

// NewIdempotencyCleanupHandler processes TaskIdempotencyCleanup tasks.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		removed, err := store.Cleanup(ctx, retention)
		if err != nil {
			return err
		}
		logger.Info("idempotency cleanup done", slog.Int64("removed", removed))
		return nil
	}
}
