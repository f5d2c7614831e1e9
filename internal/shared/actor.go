package shared

import "context"

// Role names a workforce role. The workflow engine gates every operation on
// the acting worker's role.
type Role string

const (
	// RoleSupervisor may create, confirm, assign, verify and cancel batches.
	RoleSupervisor Role = "SUPERVISOR"
	// RoleCutter works cutting tasks.
	RoleCutter Role = "CUTTER"
	// RoleSewer works sewing tasks.
	RoleSewer Role = "SEWER"
	// RoleFinisher works finishing tasks.
	RoleFinisher Role = "FINISHER"
	// RoleWarehouse performs the final warehouse verification.
	RoleWarehouse Role = "WAREHOUSE"
)

// Actor identifies the worker performing an operation.
type Actor struct {
	ID   int64
	Name string
	Role Role
}

// IsSupervisor reports whether the actor holds the supervisor role.
func (a Actor) IsSupervisor() bool { return a.Role == RoleSupervisor }

type actorContextKey struct{}

// ContextWithActor stores the actor in the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor stored by the actor middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
