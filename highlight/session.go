// Package highlight classifies comments as new or already seen against a
// reference time and collapses the parts of a thread that hold nothing new.
//
// A Session owns all per-page state: the reference time, the most recent
// comment time observed and its subscribers. It is not safe for concurrent
// use; every call is expected to come from the page's single task queue.
package highlight

import (
	"log/slog"
	"slices"

	"reddit-highlighter/pkg/comments"
)

// Tree is the comment tree collaborator.
type Tree interface {
	Comments() []comments.NodeID
	Parent(id comments.NodeID) comments.NodeID
	Children(id comments.NodeID) []comments.NodeID
	EffectiveTime(id comments.NodeID) (int64, bool)
	Deleted(id comments.NodeID) bool
	HasUnloaded(id comments.NodeID) bool
	Collapsed(id comments.NodeID) bool
	SetCollapsed(id comments.NodeID, collapsed bool)
	Highlighted(id comments.NodeID) bool
	SetHighlighted(id comments.NodeID, highlighted bool)
}

// Config holds session options.
type Config struct {
	Logger *slog.Logger
	// Inclusive counts a comment made exactly at the reference time as new.
	Inclusive bool
}

// Session is the highlighting state of one page view.
type Session struct {
	tree       Tree
	logger     *slog.Logger
	subs       []mostRecentSub
	history    []int64
	reference  int64
	mostRecent int64
	nextSub    int
	inclusive  bool
}

type mostRecentSub struct {
	fn func(int64)
	id int
}

// New creates a session for tree. history is the thread's visit history in
// ascending order and lastVisit the previous visit as returned when this
// visit was recorded. On a first visit (lastVisit == now) nothing is
// highlighted.
func New(tree Tree, history []int64, lastVisit, now int64, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		logger:    logger,
		inclusive: cfg.Inclusive,
	}
	s.Reset(tree, history, lastVisit, now)
	return s
}

// Reset reinitialises the session for a new thread or page.
func (s *Session) Reset(tree Tree, history []int64, lastVisit, now int64) {
	s.tree = tree
	s.history = slices.Clone(history)
	s.mostRecent = 0
	s.reference = DefaultReference(lastVisit, now)
}

// DefaultReference is the reference time used until the user picks one.
func DefaultReference(lastVisit, now int64) int64 {
	if lastVisit == now {
		return 0
	}
	return lastVisit
}

// Reference returns the current reference time; 0 means no highlighting.
func (s *Session) Reference() int64 { return s.reference }

// MostRecent returns the newest comment time seen so far.
func (s *Session) MostRecent() int64 { return s.mostRecent }

// SubscribeMostRecent registers fn to be called whenever the most recent
// comment time increases. The returned func removes the subscription.
func (s *Session) SubscribeMostRecent(fn func(ms int64)) (cancel func()) {
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, mostRecentSub{id: id, fn: fn})
	return func() {
		s.subs = slices.DeleteFunc(s.subs, func(sub mostRecentSub) bool { return sub.id == id })
	}
}

// Start processes every loaded comment.
func (s *Session) Start() Pass {
	return s.Refresh()
}

// Refresh reprocesses every loaded comment.
func (s *Session) Refresh() Pass {
	return s.Reprocess(s.tree.Comments())
}

// Reprocess classifies ids and recomputes collapse state from them upward.
// ids must include every node whose time may have changed.
func (s *Session) Reprocess(ids []comments.NodeID) Pass {
	highlighted := s.Classify(ids)
	var p Pass
	if s.reference == 0 {
		p = s.ExpandAll()
	} else {
		p = s.Propagate(ids)
	}
	p.Highlighted = highlighted
	return p
}

// Select changes the reference time and reprocesses the whole tree.
func (s *Session) Select(reference int64) Pass {
	s.logger.Debug("Reference time selected", "reference", reference)
	s.reference = reference
	return s.Refresh()
}
