package comments

import (
	"fmt"
	"slices"
)

// Tree is an arena of comment nodes. Parent and child links are NodeIDs, so
// the tree owns every node and callers only ever hold handles.
//
// Tree is not safe for concurrent use; all access happens on the page's
// single task queue.
type Tree struct {
	byKey      map[string]NodeID
	markers    map[MarkerID]*Marker
	unloaded   map[NodeID]int
	nodes      []*Node
	subs       []subscriber
	nextMarker MarkerID
	nextSub    int
}

type subscriber struct {
	fn func(Change)
	id int
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{
		byKey:    make(map[string]NodeID),
		markers:  make(map[MarkerID]*Marker),
		unloaded: make(map[NodeID]int),
	}
}

func (t *Tree) node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Add attaches a new node under parent. Times may be empty when the host's
// timestamps could not be parsed.
func (t *Tree) Add(key string, parent NodeID, times ...int64) (NodeID, error) {
	if _, ok := t.byKey[key]; ok {
		return None, fmt.Errorf("add %q: %w", key, ErrDuplicateKey)
	}
	if parent != None && t.node(parent) == nil {
		return None, fmt.Errorf("add %q under %d: %w", key, parent, ErrUnknownNode)
	}

	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, &Node{
		ID:     id,
		Key:    key,
		Parent: parent,
		Times:  slices.Clone(times),
	})
	t.byKey[key] = id
	if p := t.node(parent); p != nil {
		p.Children = append(p.Children, id)
	}
	return id, nil
}

// Lookup finds a node by host identity.
func (t *Tree) Lookup(key string) (NodeID, bool) {
	id, ok := t.byKey[key]
	return id, ok
}

// Node returns the node for id, or nil.
func (t *Tree) Node(id NodeID) *Node { return t.node(id) }

// Comments returns every node in insertion order.
func (t *Tree) Comments() []NodeID {
	ids := make([]NodeID, len(t.nodes))
	for i := range t.nodes {
		ids[i] = NodeID(i)
	}
	return ids
}

// Parent returns the parent of id, or None.
func (t *Tree) Parent(id NodeID) NodeID {
	if n := t.node(id); n != nil {
		return n.Parent
	}
	return None
}

// Children returns the loaded direct replies of id.
func (t *Tree) Children(id NodeID) []NodeID {
	if n := t.node(id); n != nil {
		return n.Children
	}
	return nil
}

// Subtree returns id and all of its loaded descendants in pre-order.
func (t *Tree) Subtree(id NodeID) []NodeID {
	if t.node(id) == nil {
		return nil
	}
	var out []NodeID
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		children := t.nodes[cur].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

// Depth returns the number of ancestors of id.
func (t *Tree) Depth(id NodeID) int {
	d := 0
	for p := t.Parent(id); p != None; p = t.Parent(p) {
		d++
	}
	return d
}

// EffectiveTime is the max over the node's post and edit times. ok is false
// when the node has no usable time.
func (t *Tree) EffectiveTime(id NodeID) (ms int64, ok bool) {
	n := t.node(id)
	if n == nil || len(n.Times) == 0 {
		return 0, false
	}
	return slices.Max(n.Times), true
}

// AddTime records new time metadata (an edit) on a node. It reports whether
// the time was new.
func (t *Tree) AddTime(id NodeID, ms int64) (bool, error) {
	n := t.node(id)
	if n == nil {
		return false, fmt.Errorf("add time to %d: %w", id, ErrUnknownNode)
	}
	if slices.Contains(n.Times, ms) {
		return false, nil
	}
	n.Times = append(n.Times, ms)
	return true, nil
}

// BetterThanParent reports whether a reply scores higher than the comment it
// answers. Thread-level comments never qualify.
func (t *Tree) BetterThanParent(id NodeID) bool {
	n := t.node(id)
	if n == nil {
		return false
	}
	parent := t.node(n.Parent)
	return parent != nil && n.Score > parent.Score
}

// Deleted reports whether the comment was deleted on the host.
func (t *Tree) Deleted(id NodeID) bool {
	n := t.node(id)
	return n != nil && n.Deleted
}

// SetDeleted marks a comment deleted.
func (t *Tree) SetDeleted(id NodeID, deleted bool) {
	if n := t.node(id); n != nil {
		n.Deleted = deleted
	}
}

// Collapsed reports the node's collapse flag.
func (t *Tree) Collapsed(id NodeID) bool {
	n := t.node(id)
	return n != nil && n.Collapsed
}

// SetCollapsed sets the node's collapse flag.
func (t *Tree) SetCollapsed(id NodeID, collapsed bool) {
	if n := t.node(id); n != nil {
		n.Collapsed = collapsed
	}
}

// Highlighted reports whether the node is new under the current reference time.
func (t *Tree) Highlighted(id NodeID) bool {
	n := t.node(id)
	return n != nil && n.Highlighted
}

// SetHighlighted sets the node's highlight flag.
func (t *Tree) SetHighlighted(id NodeID, highlighted bool) {
	if n := t.node(id); n != nil {
		n.Highlighted = highlighted
	}
}

// AddMarker records unloaded replies under parent.
func (t *Tree) AddMarker(parent NodeID, href string) (MarkerID, error) {
	if parent != None && t.node(parent) == nil {
		return 0, fmt.Errorf("add marker under %d: %w", parent, ErrUnknownNode)
	}
	id := t.nextMarker
	t.nextMarker++
	t.markers[id] = &Marker{ID: id, Parent: parent, Href: href}
	t.unloaded[parent]++
	return id, nil
}

// RemoveMarker drops a marker once its replies are loaded. It returns the
// removed marker.
func (t *Tree) RemoveMarker(id MarkerID) (Marker, bool) {
	m, ok := t.markers[id]
	if !ok {
		return Marker{}, false
	}
	delete(t.markers, id)
	if t.unloaded[m.Parent]--; t.unloaded[m.Parent] <= 0 {
		delete(t.unloaded, m.Parent)
	}
	return *m, true
}

// Markers returns all markers ordered by MarkerID.
func (t *Tree) Markers() []Marker {
	out := make([]Marker, 0, len(t.markers))
	for _, m := range t.markers {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Marker) int { return int(a.ID) - int(b.ID) })
	return out
}

// HasUnloaded reports whether id has replies hidden behind a marker.
func (t *Tree) HasUnloaded(id NodeID) bool {
	return t.unloaded[id] > 0
}

// Subscribe registers fn for structural change notifications. The returned
// func removes the subscription.
func (t *Tree) Subscribe(fn func(Change)) (cancel func()) {
	id := t.nextSub
	t.nextSub++
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	return func() {
		t.subs = slices.DeleteFunc(t.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Notify delivers c to every subscriber, in subscription order.
func (t *Tree) Notify(c Change) {
	for _, s := range slices.Clone(t.subs) {
		s.fn(c)
	}
}
