package highlight

import (
	"slices"

	"reddit-highlighter/pretty"
)

// Option is one choice of reference time.
type Option struct {
	Label string `json:"label"`
	Time  int64  `json:"time"`
}

// Options lists the reference times a user can pick: previous visits newest
// first, then "no highlighting". The current visit is left out.
func (s *Session) Options(now int64) []Option {
	times := slices.Clone(s.history)
	slices.Reverse(times)
	if len(times) > 0 {
		times = times[1:]
	}
	times = append(times, 0)

	opts := make([]Option, len(times))
	for i, t := range times {
		opts[i] = Option{Time: t, Label: pretty.Prettify(t, now)}
	}
	return opts
}
