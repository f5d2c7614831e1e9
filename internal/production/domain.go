package production

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus is the canonical lifecycle status of a production batch.
// It is mutated exclusively by the state machine in Service.
type BatchStatus string

const (
	StatusPending            BatchStatus = "PENDING"
	StatusMaterialRequested  BatchStatus = "MATERIAL_REQUESTED"
	StatusMaterialAllocated  BatchStatus = "MATERIAL_ALLOCATED"
	StatusAssignedToCutter   BatchStatus = "ASSIGNED_TO_CUTTER"
	StatusInCutting          BatchStatus = "IN_CUTTING"
	StatusCuttingCompleted   BatchStatus = "CUTTING_COMPLETED"
	StatusCuttingVerified    BatchStatus = "CUTTING_VERIFIED"
	StatusAssignedToSewer    BatchStatus = "ASSIGNED_TO_SEWER"
	StatusInSewing           BatchStatus = "IN_SEWING"
	StatusSewingCompleted    BatchStatus = "SEWING_COMPLETED"
	StatusSewingVerified     BatchStatus = "SEWING_VERIFIED"
	StatusAssignedToFinisher BatchStatus = "ASSIGNED_TO_FINISHER"
	StatusInFinishing        BatchStatus = "IN_FINISHING"
	StatusFinishingCompleted BatchStatus = "FINISHING_COMPLETED"
	StatusWarehouseVerified  BatchStatus = "WAREHOUSE_VERIFIED"
	StatusCompleted          BatchStatus = "COMPLETED"
	StatusCancelled          BatchStatus = "CANCELLED"
)

// Stage names one pipeline stage worked by a stage task.
type Stage string

const (
	StageCutting   Stage = "CUTTING"
	StageSewing    Stage = "SEWING"
	StageFinishing Stage = "FINISHING"
)

// TaskStatus is the lifecycle status of a stage task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskVerified   TaskStatus = "VERIFIED"
)

// AllocationStatus is the lifecycle status of a material allocation row.
type AllocationStatus string

const (
	AllocationRequested AllocationStatus = "REQUESTED"
	AllocationAllocated AllocationStatus = "ALLOCATED"
	AllocationRejected  AllocationStatus = "REJECTED"
)

// EventType names a timeline milestone. One event per committed transition.
type EventType string

const (
	EventBatchCreated       EventType = "BATCH_CREATED"
	EventMaterialRequested  EventType = "MATERIAL_REQUESTED"
	EventMaterialAllocated  EventType = "MATERIAL_ALLOCATED"
	EventCutterAssigned     EventType = "CUTTER_ASSIGNED"
	EventCuttingStarted     EventType = "CUTTING_STARTED"
	EventCuttingCompleted   EventType = "CUTTING_COMPLETED"
	EventCuttingVerified    EventType = "CUTTING_VERIFIED"
	EventCuttingRejected    EventType = "CUTTING_REJECTED"
	EventSewerAssigned      EventType = "SEWER_ASSIGNED"
	EventSewingStarted      EventType = "SEWING_STARTED"
	EventSewingCompleted    EventType = "SEWING_COMPLETED"
	EventSewingVerified     EventType = "SEWING_VERIFIED"
	EventSewingRejected     EventType = "SEWING_REJECTED"
	EventFinisherAssigned   EventType = "FINISHER_ASSIGNED"
	EventFinishingStarted   EventType = "FINISHING_STARTED"
	EventFinishingCompleted EventType = "FINISHING_COMPLETED"
	EventWarehouseVerified  EventType = "WAREHOUSE_VERIFIED"
	EventBatchCompleted     EventType = "BATCH_COMPLETED"
	EventBatchCancelled     EventType = "BATCH_CANCELLED"
)

// ProductionBatch is one production run of a product.
type ProductionBatch struct {
	ID             int64       `json:"id"`
	BatchSKU       string      `json:"batch_sku"`
	ProductID      int64       `json:"product_id"`
	TargetQuantity int         `json:"target_quantity"`
	ActualQuantity int         `json:"actual_quantity"`
	RejectQuantity int         `json:"reject_quantity"`
	Status         BatchStatus `json:"status"`
	StartDate      time.Time   `json:"start_date"`
	CompletedDate  *time.Time  `json:"completed_date,omitempty"`
	Notes          *string     `json:"notes,omitempty"`
	CreatedBy      int64       `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// MaterialAllocation reserves a quantity of one material for a batch.
type MaterialAllocation struct {
	ID           int64            `json:"id"`
	BatchID      int64            `json:"batch_id"`
	MaterialID   int64            `json:"material_id"`
	RequestedQty decimal.Decimal  `json:"requested_qty"`
	AllocatedQty *decimal.Decimal `json:"allocated_qty,omitempty"`
	Status       AllocationStatus `json:"status"`
}

// StageTask is the unit of work at one pipeline stage, owned by one worker.
// There is at most one task per (batch, stage); a rejected task is re-opened,
// never replaced.
type StageTask struct {
	ID               int64      `json:"id"`
	BatchID          int64      `json:"batch_id"`
	Stage            Stage      `json:"stage"`
	AssignedTo       int64      `json:"assigned_to"`
	QuantityReceived int        `json:"quantity_received"`
	PiecesCompleted  int        `json:"pieces_completed"`
	RejectPieces     int        `json:"reject_pieces"`
	Status           TaskStatus `json:"status"`
	Notes            *string    `json:"notes,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Live reports whether the task still holds its stage open.
func (t StageTask) Live() bool { return t.Status != TaskVerified }

// TimelineEvent is one append-only audit row for a batch. Never mutated.
type TimelineEvent struct {
	ID        int64     `json:"id"`
	BatchID   int64     `json:"batch_id"`
	Event     EventType `json:"event"`
	Details   string    `json:"details,omitempty"`
	ActorID   int64     `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// GoodsKind splits warehouse output into accepted and reject pools.
type GoodsKind string

const (
	GoodsAccepted GoodsKind = "GOOD"
	GoodsReject   GoodsKind = "REJECT"
)

// FinishedGoodsEntry records finished pieces received at the warehouse.
type FinishedGoodsEntry struct {
	ID        int64     `json:"id"`
	BatchID   int64     `json:"batch_id"`
	Kind      GoodsKind `json:"kind"`
	Quantity  int       `json:"quantity"`
	Location  string    `json:"location"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
