package chat

import (
	"fmt"
	"testing"

	"mscolab/api/internal/store"
)

func TestBuildThread(t *testing.T) {
	msgs := []store.Message{
		{ID: 4, ReplyID: 2, Text: "d"},
		{ID: 1, Text: "a"},
		{ID: 2, ReplyID: 1, Text: "b"},
		{ID: 3, ReplyID: 1, Text: "c"},
		{ID: 6, ReplyID: 5, Text: "orphan"},
	}
	thread := BuildThread(msgs)

	var walked []string
	thread.Walk(func(depth int, m store.Message) {
		walked = append(walked, fmt.Sprintf("%d:%s", depth, m.Text))
	})
	want := []string{"0:a", "1:b", "2:d", "1:c", "0:orphan"}
	if fmt.Sprint(walked) != fmt.Sprint(want) {
		t.Fatalf("Walk() = %v, want %v", walked, want)
	}

	replies := thread.Replies(1)
	if len(replies) != 2 || replies[0].ID != 2 || replies[1].ID != 3 {
		t.Fatalf("Replies(1) = %+v", replies)
	}
	if _, ok := thread.Find(5); ok {
		t.Fatal("Find(5) found a deleted message")
	}
	if thread.Replies(5) != nil {
		t.Fatal("Replies(5) should be nil")
	}
}
