package shared

import "errors"

var (
	// ErrValidation indicates malformed or out-of-range input, rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates a transition that is not legal from the current status.
	ErrStateConflict = errors.New("state conflict")
	// ErrInsufficientStock indicates an allocation exceeding available material stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnauthorizedActor indicates the actor lacks the role or assignment required.
	ErrUnauthorizedActor = errors.New("actor not authorized")
	// ErrNotFound indicates a referenced batch/task/material does not exist.
	ErrNotFound = errors.New("not found")
)
