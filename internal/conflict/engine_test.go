package conflict

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/hub"
	"mscolab/api/internal/operation"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
	"mscolab/api/internal/store"
)

type fakeRooms struct {
	mu     sync.Mutex
	events []hub.Event
}

func (f *fakeRooms) Broadcast(_ context.Context, _ int64, ev hub.Event, _ ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeRooms) Granted(context.Context, int64, string, rbac.Level) {}
func (f *fakeRooms) Revoked(context.Context, int64, string)             {}

func (f *fakeRooms) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

var (
	pilot    = operation.Actor{UserID: "u-pilot", Username: "pilot"}
	planner  = operation.Actor{UserID: "u-planner", Username: "planner"}
	observer = operation.Actor{UserID: "u-observer", Username: "observer"}
)

type world struct {
	ops    *operation.Service
	engine *Engine
	rooms  *fakeRooms
	opID   int64
}

// newWorld creates operation "europe" at revision 1 with a 3-point route.
func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	for _, a := range []operation.Actor{pilot, planner, observer} {
		if _, err := mem.CreateUser(ctx, store.User{ID: a.UserID, DisplayName: a.Username, Email: a.Username + "@example.test"}); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	rooms := &fakeRooms{}
	ops := operation.NewService(mem, nil, rooms, nil)
	op, err := ops.Create(ctx, pilot, operation.CreateInput{Path: "europe", Route: threePoints()})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := ops.Grant(ctx, pilot, op.ID, planner.UserID, rbac.LevelCollaborator); err != nil {
		t.Fatalf("Grant(planner) error = %v", err)
	}
	if err := ops.Grant(ctx, pilot, op.ID, observer.UserID, rbac.LevelViewer); err != nil {
		t.Fatalf("Grant(observer) error = %v", err)
	}
	return &world{ops: ops, engine: NewEngine(ops, nil), rooms: rooms, opID: op.ID}
}

func TestEuropeOverwriteScenario(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	offline := NewTracker(w.opID, LocalRemote{Engine: w.engine, Actor: pilot})
	if err := offline.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if offline.Revision() != 1 || len(offline.Route()) != 3 {
		t.Fatalf("initial state rev=%d route=%+v", offline.Revision(), offline.Route())
	}

	if err := offline.Branch(); err != nil {
		t.Fatalf("Branch() error = %v", err)
	}
	if err := offline.Edit(func(r route.Route) (route.Route, error) { return r.Inverted(), nil }); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if offline.State() != Diverged {
		t.Fatalf("State() = %s, want diverged", offline.State())
	}
	div, err := offline.Check(ctx)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if div.Behind || !div.ContentDiffers {
		t.Fatalf("Check() = %+v", div)
	}

	if err := offline.Resolve(ctx, StrategyOverwrite); err != nil {
		t.Fatalf("Resolve(overwrite) error = %v", err)
	}
	if offline.State() != Synced || offline.Revision() != 2 {
		t.Fatalf("after overwrite state=%s rev=%d", offline.State(), offline.Revision())
	}

	second := NewTracker(w.opID, LocalRemote{Engine: w.engine, Actor: observer})
	if err := second.Sync(ctx); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if second.Revision() != 2 || !second.Route().Equal(threePoints().Inverted()) {
		t.Fatalf("second client sees rev=%d route=%+v", second.Revision(), second.Route())
	}
	if w.rooms.count(hub.EventDocumentUpdated) != 1 {
		t.Fatalf("document-updated broadcasts = %d, want 1", w.rooms.count(hub.EventDocumentUpdated))
	}
}

func TestKeepServerAndFetchLeaveServerUntouched(t *testing.T) {
	for _, strategy := range []Strategy{StrategyKeepServer, StrategyFetch} {
		t.Run(string(strategy), func(t *testing.T) {
			w := newWorld(t)
			ctx := context.Background()
			wc := WorkingCopy{BaseRevision: 1, Route: threePoints().Inverted()}

			res, err := w.engine.Resolve(ctx, observer, w.opID, strategy, wc)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if res.Committed || res.Revision != 1 || !res.Route.Equal(threePoints()) {
				t.Fatalf("Resolve() = %+v", res)
			}
			if !res.Divergence.ContentDiffers {
				t.Fatalf("Divergence = %+v", res.Divergence)
			}
			server, err := w.engine.Fetch(ctx, pilot, w.opID)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if server.Revision != 1 || !server.Route.Equal(threePoints()) {
				t.Fatalf("server changed: %+v", server)
			}
			if w.rooms.count(hub.EventDocumentUpdated) != 0 {
				t.Fatal("keep/fetch must not broadcast")
			}
		})
	}
}

func TestOverwriteAfterConcurrentAdvance(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	offline := NewTracker(w.opID, LocalRemote{Engine: w.engine, Actor: pilot})
	if err := offline.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := offline.Branch(); err != nil {
		t.Fatalf("Branch() error = %v", err)
	}
	if err := offline.Edit(func(r route.Route) (route.Route, error) { return r[:2], nil }); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	if _, err := w.ops.Invert(ctx, planner, w.opID); err != nil {
		t.Fatalf("Invert() error = %v", err)
	}
	if _, err := w.ops.Invert(ctx, planner, w.opID); err != nil {
		t.Fatalf("Invert() error = %v", err)
	}

	div, err := offline.Check(ctx)
	if err != nil || !div.Behind {
		t.Fatalf("Check() = %+v, %v", div, err)
	}
	if err := offline.Resolve(ctx, StrategyOverwrite); err != nil {
		t.Fatalf("Resolve(overwrite) error = %v", err)
	}
	if offline.Revision() != 4 {
		t.Fatalf("revision = %d, want 4", offline.Revision())
	}
	server, err := w.engine.Fetch(ctx, planner, w.opID)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if server.Revision != 4 || len(server.Route) != 2 {
		t.Fatalf("server = %+v", server)
	}
}

func TestOverwriteRequiresCollaborator(t *testing.T) {
	w := newWorld(t)
	_, err := w.engine.Resolve(context.Background(), observer, w.opID, StrategyOverwrite, WorkingCopy{BaseRevision: 1, Route: threePoints().Inverted()})
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("Resolve(viewer overwrite) error = %v", err)
	}
	if w.rooms.count(hub.EventDocumentUpdated) != 0 {
		t.Fatal("denied overwrite broadcast")
	}
}

type revokingDocs struct {
	*operation.Service
}

func (d revokingDocs) Commit(context.Context, operation.Actor, int64, route.Route, string) (store.Revision, error) {
	return store.Revision{}, apperr.PermissionDenied("collaborator access required")
}

func TestOverwriteRacingRevokeIsConflict(t *testing.T) {
	w := newWorld(t)
	engine := NewEngine(revokingDocs{w.ops}, nil)
	_, err := engine.Resolve(context.Background(), planner, w.opID, StrategyOverwrite, WorkingCopy{BaseRevision: 1, Route: threePoints().Inverted()})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("Resolve() error = %v, want conflict", err)
	}
}
