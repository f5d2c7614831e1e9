package production

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHappyPathChain(t *testing.T) {
	chain := []BatchStatus{
		StatusPending,
		StatusMaterialRequested,
		StatusMaterialAllocated,
		StatusAssignedToCutter,
		StatusInCutting,
		StatusCuttingCompleted,
		StatusCuttingVerified,
		StatusAssignedToSewer,
		StatusInSewing,
		StatusSewingCompleted,
		StatusSewingVerified,
		StatusAssignedToFinisher,
		StatusInFinishing,
		StatusFinishingCompleted,
		StatusWarehouseVerified,
		StatusCompleted,
	}
	for i := 0; i < len(chain)-1; i++ {
		require.True(t, CanTransition(chain[i], chain[i+1]), "%s -> %s", chain[i], chain[i+1])
	}
}

func TestRejectionEdges(t *testing.T) {
	require.True(t, CanTransition(StatusCuttingCompleted, StatusInCutting))
	require.True(t, CanTransition(StatusSewingCompleted, StatusInSewing))
	// Finishing has no rejection loop; the warehouse is the final gate.
	require.False(t, CanTransition(StatusFinishingCompleted, StatusInFinishing))
}

func TestDirectConfirmSkipsRequest(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusMaterialAllocated))
}

func TestCancelOnlyBeforeAllocation(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusCancelled))
	require.True(t, CanTransition(StatusMaterialRequested, StatusCancelled))
	for _, from := range []BatchStatus{
		StatusMaterialAllocated, StatusInCutting, StatusSewingVerified,
		StatusFinishingCompleted, StatusWarehouseVerified, StatusCompleted,
	} {
		require.False(t, CanTransition(from, StatusCancelled), "cancel from %s", from)
	}
}

func TestIllegalJumps(t *testing.T) {
	require.False(t, CanTransition(StatusPending, StatusAssignedToCutter))
	require.False(t, CanTransition(StatusMaterialAllocated, StatusInCutting))
	require.False(t, CanTransition(StatusInCutting, StatusCuttingVerified))
	require.False(t, CanTransition(StatusCuttingVerified, StatusAssignedToFinisher))
	require.False(t, CanTransition(StatusCompleted, StatusPending))
	require.False(t, CanTransition(StatusCancelled, StatusPending))
}

func TestTerminal(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusWarehouseVerified.Terminal())
}

func TestStageTables(t *testing.T) {
	for _, stage := range []Stage{StageCutting, StageSewing, StageFinishing} {
		require.True(t, ValidStage(stage))
		require.True(t, CanTransition(stageAssignFrom[stage], stageAssigned[stage]))
		require.True(t, CanTransition(stageAssigned[stage], stageInProgress[stage]))
		require.True(t, CanTransition(stageInProgress[stage], stageCompleted[stage]))
		require.True(t, CanTransition(stageCompleted[stage], stageVerified[stage]))
	}
	require.False(t, ValidStage(Stage("PACKING")))
}
