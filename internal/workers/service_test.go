package workers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lokatex/lokatex/internal/shared"
)

type fakeRoster struct {
	workers map[int64]Worker
	loads   map[shared.Role][]WorkerLoad
	queries int
}

func (f *fakeRoster) Get(_ context.Context, id int64) (Worker, error) {
	w, ok := f.workers[id]
	if !ok {
		return Worker{}, fmt.Errorf("%w: worker %d", shared.ErrNotFound, id)
	}
	return w, nil
}

func (f *fakeRoster) ListByRoleWithLoad(_ context.Context, role shared.Role) ([]WorkerLoad, error) {
	f.queries++
	return f.loads[role], nil
}

func newRoster() *fakeRoster {
	budi := Worker{ID: 2, Name: "Budi", Role: shared.RoleCutter, Active: true}
	agus := Worker{ID: 3, Name: "Agus", Role: shared.RoleCutter, Active: true}
	return &fakeRoster{
		workers: map[int64]Worker{
			1: {ID: 1, Name: "Siti", Role: shared.RoleSupervisor, Active: true},
			2: budi,
			3: agus,
			4: {ID: 4, Name: "Eko", Role: shared.RoleCutter, Active: false},
		},
		loads: map[shared.Role][]WorkerLoad{
			shared.RoleCutter: {
				{Worker: agus, OpenTasks: 1},
				{Worker: budi, OpenTasks: 3},
			},
		},
	}
}

func TestResolve(t *testing.T) {
	svc := NewService(newRoster(), nil, 0)
	ctx := context.Background()

	actor, err := svc.Resolve(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, shared.RoleSupervisor, actor.Role)
	require.Equal(t, "Siti", actor.Name)

	_, err = svc.Resolve(ctx, 4)
	require.ErrorIs(t, err, shared.ErrUnauthorizedActor)

	_, err = svc.Resolve(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLeastLoaded(t *testing.T) {
	svc := NewService(newRoster(), nil, 0)
	ctx := context.Background()

	worker, err := svc.LeastLoaded(ctx, shared.RoleCutter)
	require.NoError(t, err)
	require.Equal(t, "Agus", worker.Name)

	_, err = svc.LeastLoaded(ctx, shared.RoleSewer)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.LeastLoaded(ctx, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListByRoleUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	roster := newRoster()
	svc := NewService(roster, client, 30*time.Second)
	ctx := context.Background()

	loads, err := svc.ListByRole(ctx, shared.RoleCutter)
	require.NoError(t, err)
	require.Len(t, loads, 2)
	require.Equal(t, 1, roster.queries)

	// Second read is served from redis.
	loads, err = svc.ListByRole(ctx, shared.RoleCutter)
	require.NoError(t, err)
	require.Len(t, loads, 2)
	require.Equal(t, "Agus", loads[0].Name)
	require.Equal(t, 1, roster.queries)

	// Expiry forces a fresh roster query.
	mr.FastForward(time.Minute)
	_, err = svc.ListByRole(ctx, shared.RoleCutter)
	require.NoError(t, err)
	require.Equal(t, 2, roster.queries)
}
