package conflict

import (
	"context"
	"sync"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/operation"
	"mscolab/api/internal/route"
)

type State int

const (
	Synced State = iota
	Diverged
)

func (s State) String() string {
	if s == Diverged {
		return "diverged"
	}
	return "synced"
}

// Remote is how a Tracker reaches the server.
type Remote interface {
	Fetch(ctx context.Context, opID int64) (ServerState, error)
	Resolve(ctx context.Context, opID int64, strategy Strategy, wc WorkingCopy) (ServerState, error)
}

// Tracker is the client half: it holds the last synced server state and,
// while offline, a working copy.
type Tracker struct {
	mu     sync.Mutex
	opID   int64
	remote Remote
	synced ServerState
	wc     *WorkingCopy
}

func NewTracker(opID int64, remote Remote) *Tracker {
	return &Tracker{opID: opID, remote: remote}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wc != nil {
		return Diverged
	}
	return Synced
}

// Route is the locally visible route: the working copy when there is one.
func (t *Tracker) Route() route.Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wc != nil {
		return t.wc.Route.Clone()
	}
	return t.synced.Route.Clone()
}

// Revision is the last server revision this client synced to.
func (t *Tracker) Revision() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synced.Revision
}

func (t *Tracker) WorkingCopy() (WorkingCopy, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wc == nil {
		return WorkingCopy{}, false
	}
	return WorkingCopy{OpID: t.wc.OpID, BaseRevision: t.wc.BaseRevision, Route: t.wc.Route.Clone()}, true
}

// Sync pulls the server state. It refuses to drop a working copy; use
// Resolve for that.
func (t *Tracker) Sync(ctx context.Context) error {
	if t.State() == Diverged {
		return apperr.Conflict("working copy must be resolved before syncing")
	}
	server, err := t.remote.Fetch(ctx, t.opID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wc == nil {
		t.synced = server
	}
	return nil
}

// Observe applies a pushed document-updated while synced. Older or
// duplicate revisions are ignored.
func (t *Tracker) Observe(server ServerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wc != nil || server.Revision <= t.synced.Revision {
		return
	}
	t.synced = ServerState{Revision: server.Revision, Route: server.Route.Clone()}
}

// Branch starts offline work from the synced state.
func (t *Tracker) Branch() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wc != nil {
		return apperr.Conflict("operation %d already has a working copy", t.opID)
	}
	t.wc = &WorkingCopy{OpID: t.opID, BaseRevision: t.synced.Revision, Route: t.synced.Route.Clone()}
	return nil
}

// Edit changes the working copy.
func (t *Tracker) Edit(apply func(route.Route) (route.Route, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wc == nil {
		return apperr.Conflict("operation %d has no working copy", t.opID)
	}
	next, err := apply(t.wc.Route.Clone())
	if err != nil {
		return err
	}
	t.wc.Route = next
	return nil
}

// Check asks the server whether the working copy has diverged.
func (t *Tracker) Check(ctx context.Context) (Divergence, error) {
	wc, ok := t.WorkingCopy()
	if !ok {
		return Divergence{}, nil
	}
	server, err := t.remote.Fetch(ctx, t.opID)
	if err != nil {
		return Divergence{}, err
	}
	return Detect(wc, server), nil
}

// Resolve settles the working copy and leaves the tracker synced. fetch
// is also accepted without a working copy as a plain refresh.
func (t *Tracker) Resolve(ctx context.Context, strategy Strategy) error {
	wc, ok := t.WorkingCopy()
	if !ok {
		if strategy == StrategyOverwrite {
			return apperr.MalformedInput("nothing to overwrite: operation %d has no working copy", t.opID)
		}
		server, err := t.remote.Fetch(ctx, t.opID)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.synced = server
		t.mu.Unlock()
		return nil
	}

	server, err := t.remote.Resolve(ctx, t.opID, strategy, wc)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.synced = ServerState{Revision: server.Revision, Route: server.Route.Clone()}
	t.wc = nil
	return nil
}

// LocalRemote connects a Tracker to an in-process Engine.
type LocalRemote struct {
	Engine *Engine
	Actor  operation.Actor
}

func (r LocalRemote) Fetch(ctx context.Context, opID int64) (ServerState, error) {
	return r.Engine.Fetch(ctx, r.Actor, opID)
}

func (r LocalRemote) Resolve(ctx context.Context, opID int64, strategy Strategy, wc WorkingCopy) (ServerState, error) {
	res, err := r.Engine.Resolve(ctx, r.Actor, opID, strategy, wc)
	if err != nil {
		return ServerState{}, err
	}
	return ServerState{Revision: res.Revision, Route: res.Route}, nil
}
