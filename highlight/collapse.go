package highlight

import (
	"container/heap"

	"reddit-highlighter/pkg/comments"
)

// Pass summarises one reprocessing pass.
type Pass struct {
	Evaluated   []comments.NodeID // Nodes whose collapse state was decided, in order
	Highlighted int
	Collapsed   int
	Expanded    int
}

// ExpandAll uncollapses every collapsed comment.
func (s *Session) ExpandAll() Pass {
	var p Pass
	for _, id := range s.tree.Comments() {
		if s.tree.Collapsed(id) {
			s.tree.SetCollapsed(id, false)
			p.Expanded++
		}
	}
	return p
}

// Propagate recomputes the collapse state of ids and their parents, deepest
// first. Whenever a node's state changes its parent is queued as well, so a
// change bubbles up as far as it matters and no further. Highlight flags must
// be current.
func (s *Session) Propagate(ids []comments.NodeID) Pass {
	var p Pass
	q := &depthQueue{depths: make(map[comments.NodeID]int), queued: make(map[comments.NodeID]bool)}
	for _, id := range ids {
		q.add(s.tree, id)
		// A node that changed without changing its own state can still
		// change its parent's.
		if parent := s.tree.Parent(id); parent != comments.None {
			q.add(s.tree, parent)
		}
	}

	for q.Len() > 0 {
		id := heap.Pop(q).(comments.NodeID)
		delete(q.queued, id)
		p.Evaluated = append(p.Evaluated, id)

		collapse := !s.keepVisible(id)
		if collapse == s.tree.Collapsed(id) {
			continue
		}
		s.tree.SetCollapsed(id, collapse)
		if collapse {
			p.Collapsed++
		} else {
			p.Expanded++
		}
		if parent := s.tree.Parent(id); parent != comments.None {
			q.add(s.tree, parent)
		}
	}

	if p.Collapsed > 0 {
		s.logger.Debug("Comments collapsed", "count", p.Collapsed, "evaluated", len(p.Evaluated))
	}
	return p
}

func (s *Session) keepVisible(id comments.NodeID) bool {
	if s.reference == 0 || s.tree.Highlighted(id) || s.unloadedWithin(id) {
		return true
	}
	for _, c := range s.tree.Children(id) {
		if s.showsNew(c) {
			return true
		}
	}
	return false
}

// showsNew reports whether the subtree at id holds a highlighted comment
// that is not hidden behind a collapsed comment.
func (s *Session) showsNew(id comments.NodeID) bool {
	if s.tree.Collapsed(id) {
		return false
	}
	if s.tree.Highlighted(id) {
		return true
	}
	for _, c := range s.tree.Children(id) {
		if s.showsNew(c) {
			return true
		}
	}
	return false
}

// unloadedWithin reports whether id or any loaded descendant still has
// replies waiting to be loaded.
func (s *Session) unloadedWithin(id comments.NodeID) bool {
	if s.tree.HasUnloaded(id) {
		return true
	}
	for _, c := range s.tree.Children(id) {
		if s.unloadedWithin(c) {
			return true
		}
	}
	return false
}

// depthQueue is a max-heap of nodes by depth, ties broken by id.
type depthQueue struct {
	depths map[comments.NodeID]int
	queued map[comments.NodeID]bool
	items  []comments.NodeID
}

func (q *depthQueue) add(t Tree, id comments.NodeID) {
	if q.queued[id] {
		return
	}
	if _, ok := q.depths[id]; !ok {
		q.depths[id] = depth(t, id)
	}
	q.queued[id] = true
	heap.Push(q, id)
}

func depth(t Tree, id comments.NodeID) int {
	d := 0
	for p := t.Parent(id); p != comments.None; p = t.Parent(p) {
		d++
	}
	return d
}

func (q *depthQueue) Len() int { return len(q.items) }

func (q *depthQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if q.depths[a] != q.depths[b] {
		return q.depths[a] > q.depths[b]
	}
	return a < b
}

func (q *depthQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *depthQueue) Push(x any) { q.items = append(q.items, x.(comments.NodeID)) }

func (q *depthQueue) Pop() any {
	n := len(q.items)
	id := q.items[n-1]
	q.items = q.items[:n-1]
	return id
}
