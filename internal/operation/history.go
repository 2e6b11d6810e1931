package operation

import (
	"context"
	"fmt"
	"strings"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
	"mscolab/api/internal/store"
)

// RouteAt returns the route archived by the commit hash.
func (s *Service) RouteAt(ctx context.Context, actor Actor, opID int64, hash string) (route.Route, error) {
	if _, err := s.Require(ctx, actor, opID, rbac.LevelViewer); err != nil {
		return nil, err
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, apperr.MalformedInput("commit hash is required")
	}
	if s.archive == nil {
		return nil, apperr.InvalidReference("operation %d has no archive", opID)
	}
	return s.archive.RouteAt(opID, hash)
}

// Restore commits the route archived by hash as the next revision.
func (s *Service) Restore(ctx context.Context, actor Actor, opID int64, hash string) (store.Revision, error) {
	if _, err := s.Require(ctx, actor, opID, rbac.LevelCollaborator); err != nil {
		return store.Revision{}, err
	}
	r, err := s.RouteAt(ctx, actor, opID, hash)
	if err != nil {
		return store.Revision{}, err
	}
	short := hash
	if len(short) > 7 {
		short = short[:7]
	}
	return s.Commit(ctx, actor, opID, r, fmt.Sprintf("Restore route from %s", short))
}
