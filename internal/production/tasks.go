package production

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lokatex/lokatex/internal/shared"
)

// AssignStageInput assigns a stage of a batch to one worker.
type AssignStageInput struct {
	Stage      Stage
	AssignedTo int64
	// QuantityReceived is the planned piece count handed to the cutter.
	// Ignored for sewing and finishing, which inherit the verified output
	// of the previous stage.
	QuantityReceived int
	Notes            *string
}

// AssignStage opens the stage task for a batch and hands it to a worker of
// the matching role. A stage can only be assigned once per batch; rework
// after rejection re-opens the existing task instead.
func (s *Service) AssignStage(ctx context.Context, actor shared.Actor, batchID int64, input AssignStageInput) (StageTask, error) {
	if !actor.IsSupervisor() {
		return StageTask{}, supervisorOnly(actor)
	}
	if !ValidStage(input.Stage) {
		return StageTask{}, fmt.Errorf("%w: unknown stage %q", shared.ErrValidation, input.Stage)
	}
	worker, err := s.workers.Get(ctx, input.AssignedTo)
	if err != nil {
		return StageTask{}, err
	}
	if !worker.Active {
		return StageTask{}, fmt.Errorf("%w: worker %s is inactive", shared.ErrValidation, worker.Name)
	}
	if want := stageRole[input.Stage]; worker.Role != want {
		return StageTask{}, fmt.Errorf("%w: %s stage needs a %s, %s is a %s",
			shared.ErrValidation, strings.ToLower(string(input.Stage)), want, worker.Name, worker.Role)
	}

	var task StageTask
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != stageAssignFrom[input.Stage] {
			return transitionErr(batch.Status, stageAssigned[input.Stage])
		}
		if _, err := tx.GetTaskForStage(ctx, batchID, input.Stage); err == nil {
			return fmt.Errorf("%w: %s task already exists for batch %s",
				shared.ErrStateConflict, strings.ToLower(string(input.Stage)), batch.BatchSKU)
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}

		qty, err := s.stageQuantity(ctx, tx, batch, input)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		task = StageTask{
			BatchID:          batchID,
			Stage:            input.Stage,
			AssignedTo:       worker.ID,
			QuantityReceived: qty,
			Status:           TaskPending,
			Notes:            input.Notes,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		id, err := tx.InsertTask(ctx, task)
		if err != nil {
			return err
		}
		task.ID = id
		return s.transition(ctx, tx, &batch, stageAssigned[input.Stage], stageEvents[input.Stage].assigned, actor,
			fmt.Sprintf("%s assigned to %s, %d pcs", strings.ToLower(string(input.Stage)), worker.Name, qty))
	})
	if err != nil {
		return StageTask{}, err
	}
	s.auditAction(ctx, actor, "production:assign", batchID, map[string]any{
		"stage": input.Stage, "worker_id": worker.ID,
	})
	return task, nil
}

// stageQuantity determines how many pieces the stage receives. Cutting gets
// the supervisor's planned count (default: the batch target); later stages
// inherit the completed output of the previous, already verified stage.
func (s *Service) stageQuantity(ctx context.Context, tx TxRepository, batch ProductionBatch, input AssignStageInput) (int, error) {
	if input.Stage == StageCutting {
		qty := input.QuantityReceived
		if qty == 0 {
			qty = batch.TargetQuantity
		}
		if qty <= 0 {
			return 0, fmt.Errorf("%w: quantity received must be positive", shared.ErrValidation)
		}
		return qty, nil
	}
	prev := StageCutting
	if input.Stage == StageFinishing {
		prev = StageSewing
	}
	prevTask, err := tx.GetTaskForStage(ctx, batch.ID, prev)
	if err != nil {
		return 0, err
	}
	if prevTask.PiecesCompleted <= 0 {
		return 0, fmt.Errorf("%w: %s produced no pieces to hand over", shared.ErrStateConflict, strings.ToLower(string(prev)))
	}
	return prevTask.PiecesCompleted, nil
}

// StartTask begins work on a pending task. Only the assignee may start it.
func (s *Service) StartTask(ctx context.Context, actor shared.Actor, taskID int64) (StageTask, error) {
	return s.mutateTask(ctx, taskID, func(ctx context.Context, tx TxRepository, batch *ProductionBatch, task *StageTask) error {
		if task.AssignedTo != actor.ID {
			return notAssignee(actor, *task)
		}
		if task.Status != TaskPending {
			return taskStatusErr(*task, TaskPending)
		}
		now := time.Now().UTC()
		task.Status = TaskInProgress
		task.StartedAt = &now
		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, *task); err != nil {
			return err
		}
		return s.transition(ctx, tx, batch, stageInProgress[task.Stage], stageEvents[task.Stage].started, actor,
			fmt.Sprintf("%s started by %s", strings.ToLower(string(task.Stage)), actor.Name))
	})
}

// ProgressInput adds to a task's running totals.
type ProgressInput struct {
	CompletedDelta int
	RejectDelta    int
	Notes          *string
}

// RecordProgress adds completed and reject pieces to an in-progress task.
// Deltas accumulate; totals can never exceed the quantity received. Progress
// does not move the batch and leaves no timeline event.
func (s *Service) RecordProgress(ctx context.Context, actor shared.Actor, taskID int64, input ProgressInput) (StageTask, error) {
	if input.CompletedDelta < 0 || input.RejectDelta < 0 {
		return StageTask{}, fmt.Errorf("%w: progress deltas cannot be negative", shared.ErrValidation)
	}
	if input.CompletedDelta == 0 && input.RejectDelta == 0 {
		return StageTask{}, fmt.Errorf("%w: nothing to record", shared.ErrValidation)
	}
	return s.mutateTask(ctx, taskID, func(ctx context.Context, tx TxRepository, _ *ProductionBatch, task *StageTask) error {
		if task.AssignedTo != actor.ID {
			return notAssignee(actor, *task)
		}
		if task.Status != TaskInProgress {
			return taskStatusErr(*task, TaskInProgress)
		}
		completed := task.PiecesCompleted + input.CompletedDelta
		rejected := task.RejectPieces + input.RejectDelta
		if completed+rejected > task.QuantityReceived {
			return fmt.Errorf("%w: %d completed + %d rejected exceeds %d received",
				shared.ErrValidation, completed, rejected, task.QuantityReceived)
		}
		task.PiecesCompleted = completed
		task.RejectPieces = rejected
		task.Notes = mergeNotes(task.Notes, input.Notes)
		task.UpdatedAt = time.Now().UTC()
		return tx.UpdateTask(ctx, *task)
	})
}

// CompleteInput closes a task with its final counts.
type CompleteInput struct {
	PiecesCompleted int
	RejectPieces    int
	Notes           *string
}

// CompleteTask closes an in-progress task with final absolute counts. Finals
// may not fall below what progress already recorded and may not exceed the
// quantity received.
func (s *Service) CompleteTask(ctx context.Context, actor shared.Actor, taskID int64, input CompleteInput) (StageTask, error) {
	if input.PiecesCompleted < 0 || input.RejectPieces < 0 {
		return StageTask{}, fmt.Errorf("%w: final counts cannot be negative", shared.ErrValidation)
	}
	return s.mutateTask(ctx, taskID, func(ctx context.Context, tx TxRepository, batch *ProductionBatch, task *StageTask) error {
		if task.AssignedTo != actor.ID {
			return notAssignee(actor, *task)
		}
		if task.Status != TaskInProgress {
			return taskStatusErr(*task, TaskInProgress)
		}
		if input.PiecesCompleted < task.PiecesCompleted || input.RejectPieces < task.RejectPieces {
			return fmt.Errorf("%w: final counts (%d/%d) below recorded progress (%d/%d)",
				shared.ErrValidation, input.PiecesCompleted, input.RejectPieces, task.PiecesCompleted, task.RejectPieces)
		}
		if input.PiecesCompleted+input.RejectPieces > task.QuantityReceived {
			return fmt.Errorf("%w: %d completed + %d rejected exceeds %d received",
				shared.ErrValidation, input.PiecesCompleted, input.RejectPieces, task.QuantityReceived)
		}
		now := time.Now().UTC()
		task.PiecesCompleted = input.PiecesCompleted
		task.RejectPieces = input.RejectPieces
		task.Status = TaskCompleted
		task.CompletedAt = &now
		task.Notes = mergeNotes(task.Notes, input.Notes)
		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, *task); err != nil {
			return err
		}
		return s.transition(ctx, tx, batch, stageCompleted[task.Stage], stageEvents[task.Stage].completed, actor,
			fmt.Sprintf("%s completed: %d pcs done, %d rejected", strings.ToLower(string(task.Stage)), task.PiecesCompleted, task.RejectPieces))
	})
}

// VerifyInput is a supervisor's verdict on a completed task.
type VerifyInput struct {
	Approve bool
	Notes   *string
}

// VerifyTask approves or rejects a completed cutting or sewing task.
// Approval seals the task and advances the batch; rejection re-opens the
// same task for rework, keeping its counts, and requires notes. Finishing
// output is verified at the warehouse instead.
func (s *Service) VerifyTask(ctx context.Context, actor shared.Actor, taskID int64, input VerifyInput) (StageTask, error) {
	if !actor.IsSupervisor() {
		return StageTask{}, supervisorOnly(actor)
	}
	if !input.Approve && (input.Notes == nil || *input.Notes == "") {
		return StageTask{}, fmt.Errorf("%w: rejection requires notes", shared.ErrValidation)
	}
	return s.mutateTask(ctx, taskID, func(ctx context.Context, tx TxRepository, batch *ProductionBatch, task *StageTask) error {
		if task.Stage == StageFinishing {
			return fmt.Errorf("%w: finishing output is verified at the warehouse", shared.ErrStateConflict)
		}
		if task.Status != TaskCompleted {
			return taskStatusErr(*task, TaskCompleted)
		}
		now := time.Now().UTC()
		if input.Approve {
			task.Status = TaskVerified
			task.Notes = mergeNotes(task.Notes, input.Notes)
			task.UpdatedAt = now
			if err := tx.UpdateTask(ctx, *task); err != nil {
				return err
			}
			return s.transition(ctx, tx, batch, stageVerified[task.Stage], stageEvents[task.Stage].verified, actor,
				fmt.Sprintf("%s verified by %s", strings.ToLower(string(task.Stage)), actor.Name))
		}
		// Rejected work goes back to the same worker with counts intact.
		task.Status = TaskInProgress
		task.CompletedAt = nil
		task.Notes = mergeNotes(task.Notes, input.Notes)
		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, *task); err != nil {
			return err
		}
		return s.transition(ctx, tx, batch, stageInProgress[task.Stage], stageEvents[task.Stage].rejected, actor,
			fmt.Sprintf("%s rejected by %s: %s", strings.ToLower(string(task.Stage)), actor.Name, *input.Notes))
	})
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, id int64) (StageTask, error) {
	return s.repo.GetTask(ctx, id)
}

// mutateTask locks batch then task, in that order on every code path, and
// runs fn inside one transaction.
func (s *Service) mutateTask(ctx context.Context, taskID int64, fn func(context.Context, TxRepository, *ProductionBatch, *StageTask) error) (StageTask, error) {
	peek, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return StageTask{}, err
	}
	var task StageTask
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, peek.BatchID)
		if err != nil {
			return err
		}
		task, err = tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, &batch, &task)
	})
	if err != nil {
		return StageTask{}, err
	}
	return task, nil
}

func mergeNotes(existing, extra *string) *string {
	if extra == nil || *extra == "" {
		return existing
	}
	if existing == nil || *existing == "" {
		return extra
	}
	merged := *existing + "\n" + *extra
	return &merged
}

func notAssignee(actor shared.Actor, task StageTask) error {
	return fmt.Errorf("%w: task %d belongs to worker %d, not %d", shared.ErrUnauthorizedActor, task.ID, task.AssignedTo, actor.ID)
}

func taskStatusErr(task StageTask, want TaskStatus) error {
	return fmt.Errorf("%w: task %d is %s, expected %s", shared.ErrStateConflict, task.ID, task.Status, want)
}
