package production

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lokatex/lokatex/internal/shared"
)

func allocatedBatch(t *testing.T, svc *Service, target int) ProductionBatch {
	t.Helper()
	batch := createBatch(t, svc, target)
	confirmed, err := svc.ConfirmBatch(context.Background(), supervisor, batch.ID)
	require.NoError(t, err)
	return confirmed
}

func assign(t *testing.T, svc *Service, batchID int64, stage Stage, workerID int64) StageTask {
	t.Helper()
	task, err := svc.AssignStage(context.Background(), supervisor, batchID, AssignStageInput{
		Stage:      stage,
		AssignedTo: workerID,
	})
	require.NoError(t, err)
	return task
}

func TestAssignCutter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)

	task := assign(t, svc, batch.ID, StageCutting, cutter.ID)
	require.Equal(t, TaskPending, task.Status)
	require.Equal(t, 50, task.QuantityReceived)
	require.Equal(t, cutter.ID, task.AssignedTo)

	got, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAssignedToCutter, got.Status)

	events, err := svc.ListTimeline(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, EventCutterAssigned, events[len(events)-1].Event)
}

func TestAssignCutterPlannedQuantityOverride(t *testing.T) {
	svc, _ := newTestService(t)
	batch := allocatedBatch(t, svc, 50)
	task, err := svc.AssignStage(context.Background(), supervisor, batch.ID, AssignStageInput{
		Stage:            StageCutting,
		AssignedTo:       cutter.ID,
		QuantityReceived: 48,
	})
	require.NoError(t, err)
	require.Equal(t, 48, task.QuantityReceived)
}

func TestAssignGuards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)

	_, err := svc.AssignStage(ctx, cutter, batch.ID, AssignStageInput{Stage: StageCutting, AssignedTo: cutter.ID})
	require.ErrorIs(t, err, shared.ErrUnauthorizedActor)

	// Role mismatch: a sewer cannot take the cutting task.
	_, err = svc.AssignStage(ctx, supervisor, batch.ID, AssignStageInput{Stage: StageCutting, AssignedTo: sewer.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	// Inactive workers are not assignable.
	_, err = svc.AssignStage(ctx, supervisor, batch.ID, AssignStageInput{Stage: StageCutting, AssignedTo: 6})
	require.ErrorIs(t, err, shared.ErrValidation)

	// Sewing cannot start before cutting is verified.
	_, err = svc.AssignStage(ctx, supervisor, batch.ID, AssignStageInput{Stage: StageSewing, AssignedTo: sewer.ID})
	require.ErrorIs(t, err, shared.ErrStateConflict)

	assign(t, svc, batch.ID, StageCutting, cutter.ID)
	_, err = svc.AssignStage(ctx, supervisor, batch.ID, AssignStageInput{Stage: StageCutting, AssignedTo: cutter.ID})
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestStartTask(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)
	task := assign(t, svc, batch.ID, StageCutting, cutter.ID)

	// Only the assignee may start.
	_, err := svc.StartTask(ctx, sewer, task.ID)
	require.ErrorIs(t, err, shared.ErrUnauthorizedActor)

	started, err := svc.StartTask(ctx, cutter, task.ID)
	require.NoError(t, err)
	require.Equal(t, TaskInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	got, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInCutting, got.Status)

	_, err = svc.StartTask(ctx, cutter, task.ID)
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestRecordProgressAccumulatesAndBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)
	task := assign(t, svc, batch.ID, StageCutting, cutter.ID)
	_, err := svc.StartTask(ctx, cutter, task.ID)
	require.NoError(t, err)

	updated, err := svc.RecordProgress(ctx, cutter, task.ID, ProgressInput{CompletedDelta: 20})
	require.NoError(t, err)
	require.Equal(t, 20, updated.PiecesCompleted)

	updated, err = svc.RecordProgress(ctx, cutter, task.ID, ProgressInput{CompletedDelta: 25, RejectDelta: 2})
	require.NoError(t, err)
	require.Equal(t, 45, updated.PiecesCompleted)
	require.Equal(t, 2, updated.RejectPieces)

	// 45 + 2 + 5 = 52 > 50 received.
	_, err = svc.RecordProgress(ctx, cutter, task.ID, ProgressInput{CompletedDelta: 5})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordProgress(ctx, cutter, task.ID, ProgressInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordProgress(ctx, cutter, task.ID, ProgressInput{CompletedDelta: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordProgress(ctx, sewer, task.ID, ProgressInput{CompletedDelta: 1})
	require.ErrorIs(t, err, shared.ErrUnauthorizedActor)

	// Progress leaves no timeline events behind.
	events, err := svc.ListTimeline(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, EventCuttingStarted, events[len(events)-1].Event)

	got, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInCutting, got.Status)
}

func TestCompleteTaskFinalCounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)
	task := assign(t, svc, batch.ID, StageCutting, cutter.ID)
	_, err := svc.StartTask(ctx, cutter, task.ID)
	require.NoError(t, err)
	_, err = svc.RecordProgress(ctx, cutter, task.ID, ProgressInput{CompletedDelta: 30, RejectDelta: 1})
	require.NoError(t, err)

	// Finals below accumulated progress are rejected.
	_, err = svc.CompleteTask(ctx, cutter, task.ID, CompleteInput{PiecesCompleted: 25, RejectPieces: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	// Finals beyond quantity received are rejected.
	_, err = svc.CompleteTask(ctx, cutter, task.ID, CompleteInput{PiecesCompleted: 49, RejectPieces: 2})
	require.ErrorIs(t, err, shared.ErrValidation)

	done, err := svc.CompleteTask(ctx, cutter, task.ID, CompleteInput{PiecesCompleted: 48, RejectPieces: 2})
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	got, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCuttingCompleted, got.Status)
}

func TestVerifyTaskApproveAdvancesBatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)
	task := runStage(t, svc, batch.ID, StageCutting, cutter, 48, 2)

	_, err := svc.VerifyTask(ctx, cutter, task.ID, VerifyInput{Approve: true})
	require.ErrorIs(t, err, shared.ErrUnauthorizedActor)

	verified, err := svc.VerifyTask(ctx, supervisor, task.ID, VerifyInput{Approve: true})
	require.NoError(t, err)
	require.Equal(t, TaskVerified, verified.Status)

	got, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCuttingVerified, got.Status)
}

func TestVerifyTaskRejectReopensWork(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)
	task := runStage(t, svc, batch.ID, StageCutting, cutter, 48, 2)

	// Rejection without notes is refused.
	_, err := svc.VerifyTask(ctx, supervisor, task.ID, VerifyInput{Approve: false})
	require.ErrorIs(t, err, shared.ErrValidation)

	notes := "uneven edges on panel 3"
	reopened, err := svc.VerifyTask(ctx, supervisor, task.ID, VerifyInput{Approve: false, Notes: &notes})
	require.NoError(t, err)
	require.Equal(t, TaskInProgress, reopened.Status)
	require.Nil(t, reopened.CompletedAt)
	// Counts survive the rejection.
	require.Equal(t, 48, reopened.PiecesCompleted)
	require.Equal(t, 2, reopened.RejectPieces)
	require.Contains(t, *reopened.Notes, notes)

	got, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInCutting, got.Status)

	events, err := svc.ListTimeline(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, EventCuttingRejected, events[len(events)-1].Event)

	// Rework completes and passes the second time.
	_, err = svc.CompleteTask(ctx, cutter, task.ID, CompleteInput{PiecesCompleted: 48, RejectPieces: 2})
	require.NoError(t, err)
	_, err = svc.VerifyTask(ctx, supervisor, task.ID, VerifyInput{Approve: true})
	require.NoError(t, err)

	got, err = svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCuttingVerified, got.Status)
}

func TestSewingInheritsCuttingOutput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)
	cutTask := runStage(t, svc, batch.ID, StageCutting, cutter, 48, 2)
	_, err := svc.VerifyTask(ctx, supervisor, cutTask.ID, VerifyInput{Approve: true})
	require.NoError(t, err)

	sewTask := assign(t, svc, batch.ID, StageSewing, sewer.ID)
	require.Equal(t, 48, sewTask.QuantityReceived)
}

func TestVerifyFinishingGoesThroughWarehouse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := pipelineToFinishingCompleted(t, svc)

	tasks, err := svc.ListTasks(ctx, batch.ID)
	require.NoError(t, err)
	var finishing StageTask
	for _, task := range tasks {
		if task.Stage == StageFinishing {
			finishing = task
		}
	}
	before, err := svc.ListTimeline(ctx, batch.ID)
	require.NoError(t, err)

	_, err = svc.VerifyTask(ctx, supervisor, finishing.ID, VerifyInput{Approve: true})
	require.ErrorIs(t, err, shared.ErrStateConflict)

	// The refused attempt records nothing.
	after, err := svc.ListTimeline(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, eventTypes(before), eventTypes(after))
}

func TestVerifyWarehouseAllRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)

	cutTask := runStage(t, svc, batch.ID, StageCutting, cutter, 48, 2)
	_, err := svc.VerifyTask(ctx, supervisor, cutTask.ID, VerifyInput{Approve: true})
	require.NoError(t, err)
	sewTask := runStage(t, svc, batch.ID, StageSewing, sewer, 46, 2)
	_, err = svc.VerifyTask(ctx, supervisor, sewTask.ID, VerifyInput{Approve: true})
	require.NoError(t, err)
	runStage(t, svc, batch.ID, StageFinishing, finisher, 0, 46)

	completed, err := svc.VerifyWarehouse(ctx, warehouse, batch.ID, VerifyWarehouseInput{Location: "RAK-B2"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.Equal(t, 0, completed.ActualQuantity)
	require.Equal(t, 46, completed.RejectQuantity)

	// No zero-quantity accepted entry is booked.
	goods, err := svc.ListFinishedGoods(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, goods, 1)
	require.Equal(t, GoodsReject, goods[0].Kind)
	require.Equal(t, 46, goods[0].Quantity)
}

func TestVerifyWarehouseCompletesBatch(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	batch := pipelineToFinishingCompleted(t, svc)

	_, err := svc.VerifyWarehouse(ctx, supervisor, batch.ID, VerifyWarehouseInput{Location: "RAK-A1"})
	require.ErrorIs(t, err, shared.ErrUnauthorizedActor)

	_, err = svc.VerifyWarehouse(ctx, warehouse, batch.ID, VerifyWarehouseInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	completed, err := svc.VerifyWarehouse(ctx, warehouse, batch.ID, VerifyWarehouseInput{Location: "RAK-A1"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.Equal(t, 44, completed.ActualQuantity)
	require.Equal(t, 2, completed.RejectQuantity)
	require.NotNil(t, completed.CompletedDate)

	goods, err := svc.ListFinishedGoods(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, goods, 2)
	require.Equal(t, GoodsAccepted, goods[0].Kind)
	require.Equal(t, 44, goods[0].Quantity)
	require.Equal(t, "RAK-A1", goods[0].Location)
	require.Equal(t, GoodsReject, goods[1].Kind)
	require.Equal(t, 2, goods[1].Quantity)

	events, err := svc.ListTimeline(ctx, batch.ID)
	require.NoError(t, err)
	n := len(events)
	require.Equal(t, EventBatchCompleted, events[n-1].Event)
	require.Equal(t, EventWarehouseVerified, events[n-2].Event)

	// Verification is not repeatable.
	_, err = svc.VerifyWarehouse(ctx, warehouse, batch.ID, VerifyWarehouseInput{Location: "RAK-A1"})
	require.ErrorIs(t, err, shared.ErrStateConflict)

	// The stock consumed at confirmation stays consumed.
	require.Len(t, repo.stockTxs, 2)
}

// runStage assigns, starts and completes one stage task.
func runStage(t *testing.T, svc *Service, batchID int64, stage Stage, actor shared.Actor, completed, rejected int) StageTask {
	t.Helper()
	ctx := context.Background()
	task := assign(t, svc, batchID, stage, actor.ID)
	_, err := svc.StartTask(ctx, actor, task.ID)
	require.NoError(t, err)
	done, err := svc.CompleteTask(ctx, actor, task.ID, CompleteInput{PiecesCompleted: completed, RejectPieces: rejected})
	require.NoError(t, err)
	return done
}

// pipelineToFinishingCompleted drives a 50 pc batch through cutting (48 good,
// 2 reject), sewing (46 good, 2 reject) and finishing (44 good, 2 reject).
func pipelineToFinishingCompleted(t *testing.T, svc *Service) ProductionBatch {
	t.Helper()
	ctx := context.Background()
	batch := allocatedBatch(t, svc, 50)

	cutTask := runStage(t, svc, batch.ID, StageCutting, cutter, 48, 2)
	_, err := svc.VerifyTask(ctx, supervisor, cutTask.ID, VerifyInput{Approve: true})
	require.NoError(t, err)

	sewTask := runStage(t, svc, batch.ID, StageSewing, sewer, 46, 2)
	_, err = svc.VerifyTask(ctx, supervisor, sewTask.ID, VerifyInput{Approve: true})
	require.NoError(t, err)

	runStage(t, svc, batch.ID, StageFinishing, finisher, 44, 2)

	got, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFinishingCompleted, got.Status)
	return got
}
