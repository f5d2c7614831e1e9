package production

import (
	"fmt"

	"github.com/lokatex/lokatex/internal/shared"
)

// transitions is the full batch lifecycle graph. A status change is legal
// only if it appears here; everything else is a state conflict.
var transitions = map[BatchStatus][]BatchStatus{
	StatusPending:            {StatusMaterialRequested, StatusMaterialAllocated, StatusCancelled},
	StatusMaterialRequested:  {StatusMaterialAllocated, StatusCancelled},
	StatusMaterialAllocated:  {StatusAssignedToCutter},
	StatusAssignedToCutter:   {StatusInCutting},
	StatusInCutting:          {StatusCuttingCompleted},
	StatusCuttingCompleted:   {StatusCuttingVerified, StatusInCutting},
	StatusCuttingVerified:    {StatusAssignedToSewer},
	StatusAssignedToSewer:    {StatusInSewing},
	StatusInSewing:           {StatusSewingCompleted},
	StatusSewingCompleted:    {StatusSewingVerified, StatusInSewing},
	StatusSewingVerified:     {StatusAssignedToFinisher},
	StatusAssignedToFinisher: {StatusInFinishing},
	StatusInFinishing:        {StatusFinishingCompleted},
	StatusFinishingCompleted: {StatusWarehouseVerified},
	StatusWarehouseVerified:  {StatusCompleted},
	StatusCompleted:          {},
	StatusCancelled:          {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to BatchStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the batch lifecycle.
func (s BatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// stageAssignFrom is the batch status a stage may be assigned from.
var stageAssignFrom = map[Stage]BatchStatus{
	StageCutting:   StatusMaterialAllocated,
	StageSewing:    StatusCuttingVerified,
	StageFinishing: StatusSewingVerified,
}

var stageAssigned = map[Stage]BatchStatus{
	StageCutting:   StatusAssignedToCutter,
	StageSewing:    StatusAssignedToSewer,
	StageFinishing: StatusAssignedToFinisher,
}

var stageInProgress = map[Stage]BatchStatus{
	StageCutting:   StatusInCutting,
	StageSewing:    StatusInSewing,
	StageFinishing: StatusInFinishing,
}

var stageCompleted = map[Stage]BatchStatus{
	StageCutting:   StatusCuttingCompleted,
	StageSewing:    StatusSewingCompleted,
	StageFinishing: StatusFinishingCompleted,
}

var stageVerified = map[Stage]BatchStatus{
	StageCutting:   StatusCuttingVerified,
	StageSewing:    StatusSewingVerified,
	StageFinishing: StatusWarehouseVerified,
}

// stageRole is the worker role allowed to hold a task at each stage.
var stageRole = map[Stage]shared.Role{
	StageCutting:   shared.RoleCutter,
	StageSewing:    shared.RoleSewer,
	StageFinishing: shared.RoleFinisher,
}

var stageEvents = map[Stage]struct {
	assigned  EventType
	started   EventType
	completed EventType
	verified  EventType
	rejected  EventType
}{
	StageCutting:   {EventCutterAssigned, EventCuttingStarted, EventCuttingCompleted, EventCuttingVerified, EventCuttingRejected},
	StageSewing:    {EventSewerAssigned, EventSewingStarted, EventSewingCompleted, EventSewingVerified, EventSewingRejected},
	StageFinishing: {EventFinisherAssigned, EventFinishingStarted, EventFinishingCompleted, EventWarehouseVerified, ""},
}

// ValidStage reports whether s names a pipeline stage.
func ValidStage(s Stage) bool {
	_, ok := stageAssignFrom[s]
	return ok
}

func transitionErr(from, to BatchStatus) error {
	return fmt.Errorf("%w: illegal transition %s -> %s", shared.ErrStateConflict, from, to)
}
