package watch

import (
	"log/slog"

	"reddit-highlighter/highlight"
	"reddit-highlighter/pkg/comments"
)

// Source is the comment tree as seen by the watcher.
type Source interface {
	Subscribe(fn func(comments.Change)) (cancel func())
	Subtree(id comments.NodeID) []comments.NodeID
	Comments() []comments.NodeID
}

// Reprocessor reclassifies nodes and recomputes collapse state from them.
type Reprocessor interface {
	Reprocess(ids []comments.NodeID) highlight.Pass
}

// Watcher reprocesses the part of the tree each change touches.
type Watcher struct {
	src    Source
	proc   Reprocessor
	logger *slog.Logger
	cancel func()
}

// NewWatcher creates a watcher; call Attach to start receiving changes.
func NewWatcher(src Source, proc Reprocessor, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{src: src, proc: proc, logger: logger}
}

// Attach subscribes to the source. Attaching twice is a no-op.
func (w *Watcher) Attach() {
	if w.cancel != nil {
		return
	}
	w.cancel = w.src.Subscribe(func(c comments.Change) { w.Handle(c) })
}

// Close stops receiving changes.
func (w *Watcher) Close() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// Handle reprocesses the nodes affected by c.
func (w *Watcher) Handle(c comments.Change) highlight.Pass {
	ids := w.affected(c)
	p := w.proc.Reprocess(ids)
	w.logger.Debug("Reprocessed changed comments",
		"kind", c.Kind.String(), "nodes", len(ids), "highlighted", p.Highlighted, "collapsed", p.Collapsed, "expanded", p.Expanded)
	return p
}

// affected returns the nodes to reprocess for c. Inserted roots bring their
// whole loaded subtree. When a change names nothing the watcher can see, the
// container is reprocessed instead, or the whole tree if there is none.
func (w *Watcher) affected(c comments.Change) []comments.NodeID {
	seen := make(map[comments.NodeID]bool)
	var ids []comments.NodeID
	add := func(list []comments.NodeID) {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	switch c.Kind {
	case comments.Inserted:
		for _, root := range c.Nodes {
			add(w.src.Subtree(root))
		}
	case comments.Edited:
		add(c.Nodes)
	}
	if c.Container != comments.None {
		add([]comments.NodeID{c.Container})
	}

	if len(ids) == 0 || c.Kind == comments.Resolved {
		if c.Container != comments.None {
			add(w.src.Subtree(c.Container))
		} else {
			add(w.src.Comments())
		}
	}
	return ids
}
