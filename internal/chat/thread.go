package chat

import (
	"sort"

	"mscolab/api/internal/store"
)

// Thread is a reply-tree view over a flat message list. Nodes live in one
// slice and refer to each other by position; a reply whose parent is gone
// is shown as a root.
type Thread struct {
	Nodes []ThreadNode
	Roots []int
	index map[int64]int
}

type ThreadNode struct {
	Message store.Message
	Replies []int
}

func BuildThread(msgs []store.Message) *Thread {
	sorted := make([]store.Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	t := &Thread{
		Nodes: make([]ThreadNode, 0, len(sorted)),
		index: make(map[int64]int, len(sorted)),
	}
	for _, m := range sorted {
		t.index[m.ID] = len(t.Nodes)
		t.Nodes = append(t.Nodes, ThreadNode{Message: m})
	}
	for i, n := range t.Nodes {
		parent, ok := t.index[n.Message.ReplyID]
		if n.Message.ReplyID == 0 || !ok || parent == i {
			t.Roots = append(t.Roots, i)
			continue
		}
		t.Nodes[parent].Replies = append(t.Nodes[parent].Replies, i)
	}
	return t
}

func (t *Thread) Find(id int64) (ThreadNode, bool) {
	i, ok := t.index[id]
	if !ok {
		return ThreadNode{}, false
	}
	return t.Nodes[i], true
}

// Replies returns the direct replies to id in id order.
func (t *Thread) Replies(id int64) []store.Message {
	node, ok := t.Find(id)
	if !ok {
		return nil
	}
	out := make([]store.Message, 0, len(node.Replies))
	for _, i := range node.Replies {
		out = append(out, t.Nodes[i].Message)
	}
	return out
}

// Walk visits every message depth-first, roots in id order.
func (t *Thread) Walk(fn func(depth int, m store.Message)) {
	var visit func(i, depth int)
	visit = func(i, depth int) {
		fn(depth, t.Nodes[i].Message)
		for _, child := range t.Nodes[i].Replies {
			visit(child, depth+1)
		}
	}
	for _, root := range t.Roots {
		visit(root, 0)
	}
}
