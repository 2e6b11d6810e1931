package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
)

func seededMemory(t *testing.T) (*MemoryStore, Operation) {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"u-alice", "u-bob"} {
		if _, err := s.CreateUser(ctx, User{ID: id, DisplayName: id, Email: id + "@example.test"}); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	op, err := s.CreateOperation(ctx, Operation{Path: "europe"}, "u-alice", route.Default())
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	return s, op
}

func TestMemoryCreateOperationAssignsCreator(t *testing.T) {
	s, op := seededMemory(t)
	ctx := context.Background()

	if op.Revision != 1 {
		t.Fatalf("op.Revision = %d, want 1", op.Revision)
	}
	level, err := s.GetPermission(ctx, "u-alice", op.ID)
	if err != nil {
		t.Fatalf("GetPermission() error = %v", err)
	}
	if level != rbac.LevelCreator {
		t.Fatalf("level = %q, want creator", level)
	}
	if _, err := s.CreateOperation(ctx, Operation{Path: "europe"}, "u-bob", route.Default()); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate path error = %v, want conflict", err)
	}
	if err := s.PutPermission(ctx, Permission{UserID: "u-alice", OpID: op.ID, Level: rbac.LevelViewer}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("downgrade creator error = %v, want conflict", err)
	}
	if err := s.DeletePermission(ctx, "u-alice", op.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("revoke creator error = %v, want conflict", err)
	}
}

func TestMemoryAppendRevisionIncrements(t *testing.T) {
	s, op := seededMemory(t)
	ctx := context.Background()

	rev, err := s.AppendRevision(ctx, op.ID, "u-alice", route.Default().Inverted())
	if err != nil {
		t.Fatalf("AppendRevision() error = %v", err)
	}
	if rev.Revision != 2 {
		t.Fatalf("rev.Revision = %d, want 2", rev.Revision)
	}
	latest, err := s.LatestRevision(ctx, op.ID)
	if err != nil {
		t.Fatalf("LatestRevision() error = %v", err)
	}
	if !latest.Route.Equal(route.Default().Inverted()) {
		t.Fatalf("latest route = %+v", latest.Route)
	}
}

func TestMemoryMessageIDsAreNeverReused(t *testing.T) {
	s, op := seededMemory(t)
	ctx := context.Background()

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	var ids []int64
	var created []time.Time
	for _, text := range []string{"one", "two", "three"} {
		msg, err := s.AppendMessage(ctx, Message{OpID: op.ID, UserID: "u-alice", Username: "alice", Text: text})
		if err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		ids = append(ids, msg.ID)
		created = append(created, msg.CreatedAt)
	}
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("ids = %v, want [1 2 3]", ids)
	}
	if !created[1].After(created[0]) || !created[2].After(created[1]) {
		t.Fatalf("created_at not strictly increasing under a frozen clock: %v", created)
	}

	if err := s.DeleteMessage(ctx, op.ID, 3); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	next, err := s.AppendMessage(ctx, Message{OpID: op.ID, UserID: "u-alice", Username: "alice", Text: "four"})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if next.ID != 4 {
		t.Fatalf("next.ID = %d, want 4", next.ID)
	}

	since, err := s.ListMessages(ctx, op.ID, created[0])
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(since) != 2 || since[0].ID != 2 || since[1].ID != 4 {
		t.Fatalf("ListMessages(since first) = %+v", since)
	}
}

func TestMemoryUpdateAndSearch(t *testing.T) {
	s, op := seededMemory(t)
	ctx := context.Background()

	msg, err := s.AppendMessage(ctx, Message{OpID: op.ID, UserID: "u-bob", Username: "bob", Text: "Turn at the Brussels waypoint"})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	edited, err := s.UpdateMessageText(ctx, op.ID, msg.ID, "Turn at the London waypoint", time.Now())
	if err != nil {
		t.Fatalf("UpdateMessageText() error = %v", err)
	}
	if edited.EditedAt == nil || !edited.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("edited = %+v", edited)
	}

	hits, err := s.SearchMessages(ctx, op.ID, "london", 10)
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != msg.ID {
		t.Fatalf("hits = %+v", hits)
	}
	if _, err := s.GetMessage(ctx, op.ID, 99); !errors.Is(err, apperr.ErrInvalidReference) {
		t.Fatalf("GetMessage(99) error = %v", err)
	}
}

func TestMessageTypeParsing(t *testing.T) {
	cases := map[string]MessageType{
		"0":        MessageText,
		"2":        MessageImage,
		"document": MessageDocument,
		"system":   MessageSystem,
	}
	for in, want := range cases {
		got, err := ParseMessageType(in)
		if err != nil {
			t.Fatalf("ParseMessageType(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseMessageType(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseMessageType("7"); err == nil {
		t.Fatal("expected error for unknown numeric type")
	}

	var typ MessageType
	if err := typ.UnmarshalJSON([]byte(`3`)); err != nil || typ != MessageDocument {
		t.Fatalf("UnmarshalJSON(3) = %v, %v", typ, err)
	}
}
