package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/lokatex/lokatex/internal/shared"
)

// RepositoryPort abstracts roster reads for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Worker, error)
	ListByRoleWithLoad(ctx context.Context, role shared.Role) ([]WorkerLoad, error)
}

// Service answers roster and assignment-suggestion queries. Load
// projections may be cached briefly in redis; the suggestion is advisory
// only, a supervisor can always override it.
type Service struct {
	repo     RepositoryPort
	cache    *redis.Client
	cacheTTL time.Duration
	group    singleflight.Group
}

// NewService builds Service. The cache client is optional.
func NewService(repo RepositoryPort, cache *redis.Client, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}
	return &Service{repo: repo, cache: cache, cacheTTL: cacheTTL}
}

// Resolve returns the acting worker for the given id. Inactive workers
// cannot act.
func (s *Service) Resolve(ctx context.Context, workerID int64) (shared.Actor, error) {
	w, err := s.repo.Get(ctx, workerID)
	if err != nil {
		return shared.Actor{}, err
	}
	if !w.Active {
		return shared.Actor{}, fmt.Errorf("%w: worker %d is inactive", shared.ErrUnauthorizedActor, workerID)
	}
	return shared.Actor{ID: w.ID, Name: w.Name, Role: w.Role}, nil
}

// Get returns one worker.
func (s *Service) Get(ctx context.Context, id int64) (Worker, error) {
	return s.repo.Get(ctx, id)
}

// ListByRole returns active workers of a role with open task counts,
// least loaded first.
func (s *Service) ListByRole(ctx context.Context, role shared.Role) ([]WorkerLoad, error) {
	if role == "" {
		return nil, fmt.Errorf("%w: role required", shared.ErrValidation)
	}
	if cached, ok := s.cachedLoads(ctx, role); ok {
		return cached, nil
	}
	// Collapse concurrent misses for the same role into one roster query.
	result, err, _ := s.group.Do(loadCacheKey(role), func() (any, error) {
		loads, err := s.repo.ListByRoleWithLoad(ctx, role)
		if err != nil {
			return nil, err
		}
		s.storeLoads(ctx, role, loads)
		return loads, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]WorkerLoad), nil
}

// LeastLoaded suggests the worker of a role with the fewest open tasks,
// ties broken by the lowest worker id.
func (s *Service) LeastLoaded(ctx context.Context, role shared.Role) (Worker, error) {
	loads, err := s.ListByRole(ctx, role)
	if err != nil {
		return Worker{}, err
	}
	if len(loads) == 0 {
		return Worker{}, fmt.Errorf("%w: no active worker with role %s", shared.ErrNotFound, role)
	}
	return loads[0].Worker, nil
}

func loadCacheKey(role shared.Role) string {
	return fmt.Sprintf("workers:load:%s", role)
}

func (s *Service) cachedLoads(ctx context.Context, role shared.Role) ([]WorkerLoad, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, loadCacheKey(role)).Bytes()
	if err != nil {
		return nil, false
	}
	var loads []WorkerLoad
	if err := json.Unmarshal(raw, &loads); err != nil {
		return nil, false
	}
	return loads, true
}

func (s *Service) storeLoads(ctx context.Context, role shared.Role, loads []WorkerLoad) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(loads)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, loadCacheKey(role), raw, s.cacheTTL).Err()
}
