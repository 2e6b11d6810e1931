package hub

import (
	"sync"
	"testing"
)

func TestRegistryTracksSessionsPerUser(t *testing.T) {
	r := NewRegistry()
	a1 := NewSession("alice", "Alice", 1)
	a2 := NewSession("alice", "Alice", 1)
	b := NewSession("bob", "Bob", 1)
	for _, s := range []*Session{a1, a2, b} {
		r.Register(s)
	}

	if got := len(r.SessionsOf("alice")); got != 2 {
		t.Fatalf("SessionsOf(alice) = %d, want 2", got)
	}
	if user, ok := r.UserOf(b.ID); !ok || user != "bob" {
		t.Fatalf("UserOf(b) = %q, %v", user, ok)
	}

	if _, last := r.Unregister(a1.ID); last {
		t.Fatal("alice still has a session")
	}
	if _, last := r.Unregister(a2.ID); !last {
		t.Fatal("expected last session for alice")
	}
	if s, _ := r.Unregister(a2.ID); s != nil {
		t.Fatal("double unregister should return nil")
	}
	if _, ok := r.UserOf(a1.ID); ok {
		t.Fatal("unregistered session still resolves")
	}
}

func TestRegistryConcurrentConnectDisconnect(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewSession("user", "User", 1)
			r.Register(s)
			_ = r.SessionsOf("user")
			r.Unregister(s.ID)
		}()
	}
	wg.Wait()
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
}
