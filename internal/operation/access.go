package operation

import (
	"context"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/store"
)

// AccessLevel answers the permission oracle query. LevelNone means no
// access; a missing operation is InvalidReference.
func (s *Service) AccessLevel(ctx context.Context, userID string, opID int64) (rbac.Level, error) {
	return s.store.GetPermission(ctx, userID, opID)
}

// Require returns the actor's level when it is at least min.
func (s *Service) Require(ctx context.Context, actor Actor, opID int64, min rbac.Level) (rbac.Level, error) {
	level, err := s.AccessLevel(ctx, actor.UserID, opID)
	if err != nil {
		return rbac.LevelNone, err
	}
	if !rbac.AtLeast(level, min) {
		return level, apperr.PermissionDenied("%s access to operation %d required", min, opID)
	}
	return level, nil
}

// Authorize returns the actor's level when it permits action.
func (s *Service) Authorize(ctx context.Context, actor Actor, opID int64, action rbac.Action) (rbac.Level, error) {
	level, err := s.AccessLevel(ctx, actor.UserID, opID)
	if err != nil {
		return rbac.LevelNone, err
	}
	if !rbac.Can(level, action) {
		return level, apperr.PermissionDenied("%s on operation %d not permitted", action, opID)
	}
	return level, nil
}

func (s *Service) Permissions(ctx context.Context, actor Actor, opID int64) ([]store.Permission, error) {
	if _, err := s.Require(ctx, actor, opID, rbac.LevelViewer); err != nil {
		return nil, err
	}
	return s.store.ListPermissions(ctx, opID)
}

// Grant gives userID level on the operation, replacing any earlier level.
// The grantee's live sessions are joined to the room.
func (s *Service) Grant(ctx context.Context, actor Actor, opID int64, userID string, level rbac.Level) error {
	if !rbac.Grantable(level) {
		return apperr.MalformedInput("access level %q cannot be granted", level)
	}
	if _, err := s.Authorize(ctx, actor, opID, rbac.ActionManage); err != nil {
		return err
	}
	if userID == actor.UserID {
		return apperr.Conflict("cannot change your own access level")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if err := s.store.PutPermission(ctx, store.Permission{UserID: userID, OpID: opID, Level: level}); err != nil {
		return err
	}
	if s.rooms != nil {
		s.rooms.Granted(ctx, opID, userID, level)
	}
	s.logger.Info("access granted", "op", opID, "user", userID, "level", level, "by", actor.UserID)
	return nil
}

// Revoke removes userID's level. The grantee's sessions leave the room.
func (s *Service) Revoke(ctx context.Context, actor Actor, opID int64, userID string) error {
	if _, err := s.Authorize(ctx, actor, opID, rbac.ActionManage); err != nil {
		return err
	}
	if userID == actor.UserID {
		return apperr.Conflict("cannot revoke your own access")
	}
	if err := s.store.DeletePermission(ctx, userID, opID); err != nil {
		return err
	}
	if s.rooms != nil {
		s.rooms.Revoked(ctx, opID, userID)
	}
	s.logger.Info("access revoked", "op", opID, "user", userID, "by", actor.UserID)
	return nil
}
