package conflict

import (
	"context"
	"errors"
	"fmt"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/logging"
	"mscolab/api/internal/operation"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
	"mscolab/api/internal/store"
)

// Documents is the revision store the engine resolves against.
type Documents interface {
	Authorize(ctx context.Context, actor operation.Actor, opID int64, action rbac.Action) (rbac.Level, error)
	Current(ctx context.Context, actor operation.Actor, opID int64) (store.Revision, error)
	Commit(ctx context.Context, actor operation.Actor, opID int64, r route.Route, summary string) (store.Revision, error)
}

// Engine is the server half of conflict resolution.
type Engine struct {
	docs   Documents
	logger logging.Logger
}

func NewEngine(docs Documents, logger logging.Logger) *Engine {
	return &Engine{docs: docs, logger: logging.OrNop(logger)}
}

// Result is what the client adopts as its new synced state.
type Result struct {
	Strategy   Strategy    `json:"strategy"`
	Revision   int64       `json:"revision"`
	Route      route.Route `json:"route"`
	Divergence Divergence  `json:"divergence"`
	Committed  bool        `json:"committed"`
}

func (e *Engine) Fetch(ctx context.Context, actor operation.Actor, opID int64) (ServerState, error) {
	rev, err := e.docs.Current(ctx, actor, opID)
	if err != nil {
		return ServerState{}, err
	}
	return ServerState{Revision: rev.Revision, Route: rev.Route}, nil
}

// Resolve applies strategy to wc. Overwrite appends after whatever the
// latest revision is at commit time, even if another client moved it.
func (e *Engine) Resolve(ctx context.Context, actor operation.Actor, opID int64, strategy Strategy, wc WorkingCopy) (Result, error) {
	if strategy == StrategyOverwrite {
		if _, err := e.docs.Authorize(ctx, actor, opID, rbac.ActionWrite); err != nil {
			return Result{}, err
		}
	}
	server, err := e.Fetch(ctx, actor, opID)
	if err != nil {
		return Result{}, err
	}
	wc.OpID = opID
	div := Detect(wc, server)
	outcome, err := Resolve(strategy, wc, server)
	if err != nil {
		return Result{}, err
	}
	if !outcome.Commit {
		return Result{Strategy: strategy, Revision: outcome.Revision, Route: outcome.Route, Divergence: div}, nil
	}

	summary := fmt.Sprintf("Overwrite with working copy of revision %d", wc.BaseRevision)
	rev, err := e.docs.Commit(ctx, actor, opID, outcome.Route, summary)
	if errors.Is(err, apperr.ErrPermissionDenied) {
		return Result{}, apperr.Wrap(apperr.KindConflict, err, "access changed while resolving")
	}
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("working copy overwrote server route",
		"op", opID, "user", actor.UserID, "base", wc.BaseRevision, "previous", server.Revision, "revision", rev.Revision)
	return Result{Strategy: strategy, Revision: rev.Revision, Route: rev.Route, Divergence: div, Committed: true}, nil
}
