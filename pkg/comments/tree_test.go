package comments

import (
	"errors"
	"slices"
	"testing"
)

func TestThreadID(t *testing.T) {
	tests := []struct {
		name      string
		postID    string
		commentID string
		want      string
	}{
		{name: "full thread", postID: "abc12", want: "redd_id_abc12"},
		{name: "permalinked reply", postID: "abc12", commentID: "xyz9", want: "redd_id_abc12_xyz9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ThreadID(tt.postID, tt.commentID); got != tt.want {
				t.Errorf("ThreadID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTreeStructure(t *testing.T) {
	tree := NewTree()
	root, err := tree.Add("t1_root", None, 100)
	if err != nil {
		t.Fatalf("Add root: %v", err)
	}
	a, _ := tree.Add("t1_a", root, 200)
	b, _ := tree.Add("t1_b", root, 300)
	aa, _ := tree.Add("t1_aa", a, 400)

	if got := tree.Parent(aa); got != a {
		t.Errorf("Parent(aa) = %v, want %v", got, a)
	}
	if got := tree.Parent(root); got != None {
		t.Errorf("Parent(root) = %v, want None", got)
	}
	if got := tree.Children(root); !slices.Equal(got, []NodeID{a, b}) {
		t.Errorf("Children(root) = %v, want %v", got, []NodeID{a, b})
	}
	if got := tree.Subtree(root); !slices.Equal(got, []NodeID{root, a, aa, b}) {
		t.Errorf("Subtree(root) = %v, want pre-order", got)
	}
	if got := tree.Depth(aa); got != 2 {
		t.Errorf("Depth(aa) = %d, want 2", got)
	}
	if id, ok := tree.Lookup("t1_b"); !ok || id != b {
		t.Errorf("Lookup(t1_b) = %v, %v", id, ok)
	}

	if _, err := tree.Add("t1_a", root); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("Add duplicate error = %v, want ErrDuplicateKey", err)
	}
	if _, err := tree.Add("t1_x", NodeID(42)); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Add under unknown parent error = %v, want ErrUnknownNode", err)
	}
}

func TestEffectiveTime(t *testing.T) {
	tree := NewTree()
	id, _ := tree.Add("t1_a", None, 100)
	noTime, _ := tree.Add("t1_b", None)

	if got, ok := tree.EffectiveTime(id); !ok || got != 100 {
		t.Errorf("EffectiveTime() = %d, %v, want 100, true", got, ok)
	}

	added, err := tree.AddTime(id, 250)
	if err != nil || !added {
		t.Fatalf("AddTime() = %v, %v", added, err)
	}
	if added, _ := tree.AddTime(id, 250); added {
		t.Error("AddTime() of a known time should report false")
	}
	if got, _ := tree.EffectiveTime(id); got != 250 {
		t.Errorf("EffectiveTime() after edit = %d, want 250", got)
	}

	if _, ok := tree.EffectiveTime(noTime); ok {
		t.Error("EffectiveTime() of node without times should not be ok")
	}
}

func TestMarkers(t *testing.T) {
	tree := NewTree()
	a, _ := tree.Add("t1_a", None, 1)

	m1, err := tree.AddMarker(a, "/r/x/comments/p/s/a/")
	if err != nil {
		t.Fatalf("AddMarker: %v", err)
	}
	m2, _ := tree.AddMarker(a, "")
	top, _ := tree.AddMarker(None, "")

	if !tree.HasUnloaded(a) {
		t.Error("HasUnloaded(a) = false, want true")
	}
	if got := len(tree.Markers()); got != 3 {
		t.Errorf("len(Markers()) = %d, want 3", got)
	}

	tree.RemoveMarker(m1)
	if !tree.HasUnloaded(a) {
		t.Error("HasUnloaded(a) should stay true while a marker remains")
	}
	removed, ok := tree.RemoveMarker(m2)
	if !ok || removed.Parent != a {
		t.Errorf("RemoveMarker() = %+v, %v", removed, ok)
	}
	if tree.HasUnloaded(a) {
		t.Error("HasUnloaded(a) = true after all markers removed")
	}
	if _, ok := tree.RemoveMarker(m2); ok {
		t.Error("RemoveMarker() twice should report false")
	}
	if got := tree.Markers(); len(got) != 1 || got[0].ID != top {
		t.Errorf("Markers() = %+v, want only the thread-level marker", got)
	}
}

func TestSubscribeNotify(t *testing.T) {
	tree := NewTree()
	var got []ChangeKind
	cancel := tree.Subscribe(func(c Change) { got = append(got, c.Kind) })

	tree.Notify(Change{Kind: Inserted, Container: None})
	cancel()
	tree.Notify(Change{Kind: Edited, Container: None})

	if !slices.Equal(got, []ChangeKind{Inserted}) {
		t.Errorf("notifications = %v, want [inserted]", got)
	}
}
