// Package comments contains the core domain types for comment highlighting:
// an arena of comment nodes addressed by NodeID, the "load more" markers that
// stand for unloaded replies, and the change notifications a host emits when
// the tree grows.
package comments

import (
	"errors"
	"fmt"
)

// NodeID addresses a node inside a Tree.
type NodeID int

// None is the parent of thread-level comments.
const None NodeID = -1

// MarkerID addresses a "load more" marker inside a Tree.
type MarkerID int

// ErrUnknownNode is returned when a NodeID does not belong to the tree.
var ErrUnknownNode = errors.New("unknown comment node")

// ErrDuplicateKey is returned when a host identity is added twice.
var ErrDuplicateKey = errors.New("duplicate comment key")

// Node represents a single comment.
type Node struct {
	Key         string   // Host identity, stable across incremental loads (e.g. "t1_abc")
	Author      string   // Display only
	Permalink   string   // Display only
	Times       []int64  // Post time followed by any edit times, ms since epoch
	Score       int      // Displayed score, counting the reader's own vote
	Children    []NodeID // Loaded direct replies, in page order
	ID          NodeID
	Parent      NodeID // None at thread root
	Deleted     bool
	Collapsed   bool
	Highlighted bool
}

// Marker stands for replies that exist on the host but are not loaded yet.
type Marker struct {
	Href   string // Where the replies can be loaded from; empty when only the host can load them
	ID     MarkerID
	Parent NodeID // None for thread-level markers
}

// ChangeKind is the type of structural change observed on a tree.
type ChangeKind int

const (
	// Inserted means new nodes were attached; Nodes holds the roots of the inserted subtrees.
	Inserted ChangeKind = iota + 1
	// Edited means existing nodes gained time metadata.
	Edited
	// Resolved means a load completed without inserting anything the watcher can see.
	Resolved
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Edited:
		return "edited"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is a single structural change notification.
type Change struct {
	Nodes     []NodeID
	Kind      ChangeKind
	Container NodeID // Nearest known ancestor of the change, None for the thread itself
}

// ThreadID derives the visit-history key for a page view. A view scoped to a
// permalinked reply gets its own key.
func ThreadID(postID, commentID string) string {
	id := "redd_id_" + postID
	if commentID != "" {
		id += "_" + commentID
	}
	return id
}
