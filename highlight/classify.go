package highlight

import "reddit-highlighter/pkg/comments"

// isNew reports whether a comment made at ms is newer than the reference.
func (s *Session) isNew(ms int64) bool {
	if s.reference == 0 {
		return false
	}
	if s.inclusive {
		return ms >= s.reference
	}
	return ms > s.reference
}

// Classify sets the highlight flag of each node in ids and advances the most
// recent comment time. Deleted nodes and nodes without a usable time are
// never highlighted and don't count towards the most recent time. It returns
// the number of highlighted nodes in ids.
func (s *Session) Classify(ids []comments.NodeID) int {
	count := 0
	before := s.mostRecent
	for _, id := range ids {
		if s.tree.Deleted(id) {
			s.setHighlighted(id, false)
			continue
		}
		ms, ok := s.tree.EffectiveTime(id)
		if !ok {
			s.logger.Debug("Comment has no usable time", "node", id)
			s.setHighlighted(id, false)
			continue
		}
		s.mostRecent = max(s.mostRecent, ms)

		isNew := s.isNew(ms)
		s.setHighlighted(id, isNew)
		if isNew {
			count++
		}
	}

	if s.mostRecent > before {
		for _, sub := range append([]mostRecentSub(nil), s.subs...) {
			sub.fn(s.mostRecent)
		}
	}
	return count
}

func (s *Session) setHighlighted(id comments.NodeID, v bool) {
	if s.tree.Highlighted(id) != v {
		s.tree.SetHighlighted(id, v)
	}
}
