// Package pretty formats visit and comment times for display.
package pretty

import (
	"strconv"
	"strings"
	"time"
)

// NoHighlighting is the label of the zero reference time.
const NoHighlighting = "no highlighting"

const (
	minute = int64(time.Minute / time.Millisecond)
	hour   = 60 * minute
	day    = 24 * hour
)

// Prettify renders how long before now (both ms since epoch) a time was,
// e.g. "2 days, 1 hour ago". Units with a zero count are skipped; when every
// unit is zero the remaining milliseconds are shown instead.
func Prettify(ms, now int64) string {
	if ms == 0 {
		return NoHighlighting
	}

	diff := now - ms
	var parts []string
	for _, u := range []struct {
		name string
		size int64
	}{{"day", day}, {"hour", hour}, {"minute", minute}} {
		n := diff / u.size
		if n <= 0 {
			continue
		}
		diff -= n * u.size
		parts = append(parts, plural(n, u.name))
	}

	if len(parts) == 0 {
		return strconv.FormatInt(diff, 10) + "ms ago"
	}
	return strings.Join(parts, ", ") + " ago"
}

func plural(n int64, unit string) string {
	s := strconv.FormatInt(n, 10) + " " + unit
	if n > 1 {
		s += "s"
	}
	return s
}

// MostRecent renders the "most recent activity" note for the newest comment
// time seen on a page, or "" when nothing has been seen yet.
func MostRecent(ms, now int64, loc *time.Location) string {
	if ms == 0 {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}

	ago := Prettify(ms, now)
	if i := strings.LastIndex(ago, ","); i >= 0 {
		ago = ago[:i] + ", and" + ago[i+1:]
		// With exactly two units the list reads "1 hour and 1 minute ago".
		if strings.Count(ago, ",") == 1 {
			ago = strings.Replace(ago, ", and", " and", 1)
		}
	}

	at := time.UnixMilli(ms).In(loc).Format(time.DateTime)
	return "The most recent comment was made/edited " + ago + " at " + at + "."
}
