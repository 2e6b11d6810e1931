package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"mscolab/api/internal/blob"
	"mscolab/api/internal/config"
	"mscolab/api/internal/hub"
	"mscolab/api/internal/operation"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
	"mscolab/api/internal/store"
)

// pingStore lets a test fail the readiness probe.
type pingStore struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (p *pingStore) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return nil
}

type testEnv struct {
	t      *testing.T
	store  *pingStore
	blobs  *blob.MemoryStore
	svc    *Service
	server *HTTPServer
	tokens map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := &pingStore{MemoryStore: store.NewMemoryStore()}
	blobs := blob.NewMemoryStore()
	cfg := config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      time.Hour,
		CORSOrigin:     "*",
		SendBuffer:     32,
		MaxUploadBytes: 1 << 20,
	}
	svc := NewService(cfg, Deps{Store: st, Blobs: blobs, Bus: hub.NewLocalBus()})
	env := &testEnv{
		t:      t,
		store:  st,
		blobs:  blobs,
		svc:    svc,
		server: NewHTTPServer(svc, cfg.CORSOrigin),
		tokens: map[string]string{},
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		env.addUser(name)
	}
	return env
}

func (e *testEnv) addUser(id string) {
	e.t.Helper()
	user, err := e.store.CreateUser(context.Background(), store.User{ID: id, DisplayName: id, Email: id + "@example.org"})
	if err != nil {
		e.t.Fatalf("CreateUser(%s) error = %v", id, err)
	}
	session, err := e.svc.issue(user)
	if err != nil {
		e.t.Fatalf("issue(%s) error = %v", id, err)
	}
	e.tokens[id] = session.Token
}

func (e *testEnv) actor(id string) operation.Actor {
	return operation.Actor{UserID: id, Username: id}
}

// createOperation makes alice the creator and grants the given levels.
func (e *testEnv) createOperation(path string, grants map[string]rbac.Level) store.Operation {
	e.t.Helper()
	ctx := context.Background()
	op, err := e.svc.ops.Create(ctx, e.actor("alice"), operation.CreateInput{Path: path, Route: threePoints()})
	if err != nil {
		e.t.Fatalf("Create(%s) error = %v", path, err)
	}
	for userID, level := range grants {
		if err := e.svc.ops.Grant(ctx, e.actor("alice"), op.ID, userID, level); err != nil {
			e.t.Fatalf("Grant(%s) error = %v", userID, err)
		}
	}
	return op
}

func (e *testEnv) do(method, target, user string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := e.tokens[user]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Code string `json:"code"`
	}
	decode(t, rr, &payload)
	return payload.Code
}

func threePoints() route.Route {
	return route.Route{
		{Lat: 48.35, Lon: 11.78, FlightLevel: 0, Location: "EDMO"},
		{Lat: 50.0, Lon: 10.0, FlightLevel: 350, Location: "Mid"},
		{Lat: 48.35, Lon: 11.78, FlightLevel: 0, Location: "EDDM"},
	}
}
