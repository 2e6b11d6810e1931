package operation

import (
	"context"
	"fmt"

	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
	"mscolab/api/internal/store"
)

// Invert reverses the current route and commits the result.
func (s *Service) Invert(ctx context.Context, actor Actor, opID int64) (store.Revision, error) {
	return s.edit(ctx, actor, opID, "Invert flight direction", func(r route.Route) (route.Route, error) {
		return r.Inverted(), nil
	})
}

// InsertHexagon adds a hexagon pattern after waypoint index after.
func (s *Service) InsertHexagon(ctx context.Context, actor Actor, opID int64, after int, p route.HexagonParams) (store.Revision, error) {
	return s.edit(ctx, actor, opID, fmt.Sprintf("Insert hexagon after waypoint %d", after), func(r route.Route) (route.Route, error) {
		return route.InsertHexagon(r, after, p)
	})
}

// RemoveHexagon deletes the hexagon containing waypoint index.
func (s *Service) RemoveHexagon(ctx context.Context, actor Actor, opID int64, index int) (store.Revision, error) {
	return s.edit(ctx, actor, opID, fmt.Sprintf("Remove hexagon at waypoint %d", index), func(r route.Route) (route.Route, error) {
		return route.RemoveHexagon(r, index)
	})
}

// edit reads, transforms and appends under one hold of the operation
// lock so concurrent edits each apply to the other's result.
func (s *Service) edit(ctx context.Context, actor Actor, opID int64, summary string, apply func(route.Route) (route.Route, error)) (store.Revision, error) {
	if _, err := s.Authorize(ctx, actor, opID, rbac.ActionWrite); err != nil {
		return store.Revision{}, err
	}

	unlock := s.locks.Lock(opID)
	defer unlock()

	current, err := s.store.LatestRevision(ctx, opID)
	if err != nil {
		return store.Revision{}, err
	}
	next, err := apply(current.Route)
	if err != nil {
		return store.Revision{}, err
	}
	if err := next.Validate(); err != nil {
		return store.Revision{}, err
	}
	return s.commitLocked(ctx, actor, opID, next, summary)
}
