package workers

import (
	"time"

	"github.com/lokatex/lokatex/internal/shared"
)

// Worker is one member of the production workforce.
type Worker struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Role      shared.Role `json:"role"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
}

// WorkerLoad is a worker annotated with the number of open stage tasks.
type WorkerLoad struct {
	Worker
	OpenTasks int `json:"open_tasks"`
}
