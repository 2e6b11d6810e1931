package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/route"
)

func TestOperationArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first := route.Default()
	if _, err := svc.CommitRevision(7, 1, first, "Avery", "Create operation europe"); err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "7", "flight.ftml")); err != nil {
		t.Fatalf("route file missing: %v", err)
	}

	second := first.Inverted()
	commit, err := svc.CommitRevision(7, 2, second, "Blake Q", "")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if commit.Hash == "" || commit.Revision != 2 || commit.Author != "Blake Q" {
		t.Fatalf("unexpected commit info %+v", commit)
	}

	history, err := svc.History(7, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Revision != 2 || history[1].Revision != 1 {
		t.Fatalf("history order = %+v", history)
	}
	if history[1].Message != "Create operation europe" {
		t.Fatalf("history[1].Message = %q", history[1].Message)
	}

	got, err := svc.RouteAt(7, history[1].Hash)
	if err != nil {
		t.Fatalf("RouteAt() error = %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("RouteAt(first) = %+v, want %+v", got, first)
	}

	limited, err := svc.History(7, 1)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("len(limited) = %d, want 1", len(limited))
	}
}

func TestHistoryOfUnarchivedOperationIsEmpty(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History(99, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history = %+v", history)
	}
	if _, err := svc.RouteAt(99, "abc1234"); !errors.Is(err, apperr.ErrInvalidReference) {
		t.Fatalf("RouteAt() error = %v", err)
	}
}

func TestConcurrentCommitsAcrossOperations(t *testing.T) {
	svc := New(t.TempDir())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for op := int64(1); op <= 4; op++ {
		for rev := int64(1); rev <= 2; rev++ {
			wg.Add(1)
			go func(op, rev int64) {
				defer wg.Done()
				if _, err := svc.CommitRevision(op, rev, route.Default(), fmt.Sprintf("user-%d", op), ""); err != nil {
					errs <- err
				}
			}(op, rev)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CommitRevision() error = %v", err)
	}

	for op := int64(1); op <= 4; op++ {
		history, err := svc.History(op, 0)
		if err != nil {
			t.Fatalf("History(%d) error = %v", op, err)
		}
		if len(history) != 2 {
			t.Fatalf("History(%d) len = %d, want 2", op, len(history))
		}
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("!!!"); got != "user" {
		t.Fatalf("sanitizeEmail(!!!) = %q, want user", got)
	}
	if got := sanitizeEmail("Blake Q"); got != "Blake.Q" {
		t.Fatalf("sanitizeEmail() = %q, want Blake.Q", got)
	}
}
