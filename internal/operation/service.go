// Package operation manages operations, their route revisions and who may
// access them.
package operation

import (
	"context"
	"fmt"
	"strings"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/gitrepo"
	"mscolab/api/internal/hub"
	"mscolab/api/internal/logging"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
	"mscolab/api/internal/store"
	"mscolab/api/internal/util"
)

// Actor is the authenticated user on whose behalf a call runs.
type Actor struct {
	UserID   string
	Username string
}

// Archive keeps the revision history outside the primary store.
type Archive interface {
	CommitRevision(opID, revision int64, r route.Route, author, summary string) (gitrepo.CommitInfo, error)
	History(opID int64, limit int) ([]gitrepo.CommitInfo, error)
	RouteAt(opID int64, hash string) (route.Route, error)
}

// Rooms is the part of the hub the services publish through.
type Rooms interface {
	Broadcast(ctx context.Context, opID int64, ev hub.Event, exclude ...string)
	Granted(ctx context.Context, opID int64, userID string, level rbac.Level)
	Revoked(ctx context.Context, opID int64, userID string)
}

type Service struct {
	store   store.Store
	archive Archive
	rooms   Rooms
	logger  logging.Logger
	locks   util.KeyedMutex[int64]
}

func NewService(st store.Store, archive Archive, rooms Rooms, logger logging.Logger) *Service {
	return &Service{
		store:   st,
		archive: archive,
		rooms:   rooms,
		logger:  logging.OrNop(logger),
	}
}

// SetRooms wires the hub after construction; the hub itself needs the
// service as its oracle.
func (s *Service) SetRooms(rooms Rooms) {
	s.rooms = rooms
}

type CreateInput struct {
	Path        string      `json:"path"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Route       route.Route `json:"route"`
}

// DocumentUpdate is the payload of document-updated.
type DocumentUpdate struct {
	OpID     int64       `json:"opId"`
	Revision int64       `json:"revision"`
	Route    route.Route `json:"route"`
	AuthorID string      `json:"authorId"`
}

func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (store.Operation, error) {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return store.Operation{}, apperr.MalformedInput("operation path is required")
	}
	if strings.ContainsAny(path, " /\\") {
		return store.Operation{}, apperr.MalformedInput("operation path %q must not contain spaces or slashes", path)
	}
	r := in.Route
	if r == nil {
		r = route.Default()
	}
	if err := r.Validate(); err != nil {
		return store.Operation{}, err
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = "default"
	}

	op, err := s.store.CreateOperation(ctx, store.Operation{
		Path:        path,
		Description: in.Description,
		Category:    category,
	}, actor.UserID, r)
	if err != nil {
		return store.Operation{}, err
	}
	s.archiveRevision(op.ID, op.Revision, r, actor, fmt.Sprintf("Create operation %s", op.Path))
	s.logger.Info("operation created", "op", op.ID, "path", op.Path, "user", actor.UserID)
	return op, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, opID int64) (store.Operation, error) {
	if _, err := s.Require(ctx, actor, opID, rbac.LevelViewer); err != nil {
		return store.Operation{}, err
	}
	return s.store.GetOperation(ctx, opID)
}

// List returns only the operations the actor holds a level on.
func (s *Service) List(ctx context.Context, actor Actor) ([]store.OperationAccess, error) {
	return s.store.ListOperationsForUser(ctx, actor.UserID)
}

func (s *Service) Current(ctx context.Context, actor Actor, opID int64) (store.Revision, error) {
	if _, err := s.Require(ctx, actor, opID, rbac.LevelViewer); err != nil {
		return store.Revision{}, err
	}
	return s.store.LatestRevision(ctx, opID)
}

// Commit appends r as the next revision and broadcasts document-updated.
// It never compares against the caller's base revision.
func (s *Service) Commit(ctx context.Context, actor Actor, opID int64, r route.Route, summary string) (store.Revision, error) {
	if _, err := s.Authorize(ctx, actor, opID, rbac.ActionWrite); err != nil {
		return store.Revision{}, err
	}
	if err := r.Validate(); err != nil {
		return store.Revision{}, err
	}

	unlock := s.locks.Lock(opID)
	defer unlock()
	return s.commitLocked(ctx, actor, opID, r, summary)
}

// commitLocked expects the operation lock to be held.
func (s *Service) commitLocked(ctx context.Context, actor Actor, opID int64, r route.Route, summary string) (store.Revision, error) {
	rev, err := s.store.AppendRevision(ctx, opID, actor.UserID, r)
	if err != nil {
		return store.Revision{}, err
	}
	if s.rooms != nil {
		s.rooms.Broadcast(ctx, opID, hub.MustEvent(hub.EventDocumentUpdated, opID, DocumentUpdate{
			OpID:     opID,
			Revision: rev.Revision,
			Route:    rev.Route,
			AuthorID: actor.UserID,
		}))
	}
	s.archiveRevision(opID, rev.Revision, rev.Route, actor, summary)
	return rev, nil
}

func (s *Service) History(ctx context.Context, actor Actor, opID int64, limit int) ([]gitrepo.CommitInfo, error) {
	if _, err := s.Require(ctx, actor, opID, rbac.LevelViewer); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	return s.archive.History(opID, limit)
}

// FTML renders the current route as a flight-track document.
func (s *Service) FTML(ctx context.Context, actor Actor, opID int64) ([]byte, store.Revision, error) {
	rev, err := s.Current(ctx, actor, opID)
	if err != nil {
		return nil, store.Revision{}, err
	}
	data, err := route.MarshalFTML(rev.Route)
	if err != nil {
		return nil, store.Revision{}, err
	}
	return data, rev, nil
}

func (s *Service) archiveRevision(opID, revision int64, r route.Route, actor Actor, summary string) {
	if s.archive == nil {
		return
	}
	author := actor.Username
	if author == "" {
		author = actor.UserID
	}
	if _, err := s.archive.CommitRevision(opID, revision, r, author, summary); err != nil {
		s.logger.Error("archive revision", "op", opID, "revision", revision, "error", err)
	}
}
