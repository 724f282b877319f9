// Package oldreddit reads comment trees from old.reddit.com comment pages.
package oldreddit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"reddit-highlighter/pkg/comments"
	"reddit-highlighter/surface"
)

// Host is the front end this package understands.
const Host = "old.reddit.com"

// Fetcher loads and parses a page.
type Fetcher interface {
	Document(ctx context.Context, pageURL string) (*goquery.Document, error)
}

// Page is a parsed old Reddit comments page.
type Page struct {
	tree     *comments.Tree
	base     *url.URL
	fetcher  Fetcher
	logger   *slog.Logger
	threadID string
}

// NormalizeURL rewrites a Reddit comments URL to its old Reddit form.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host != "reddit.com" && !strings.HasSuffix(host, ".reddit.com") {
		return "", fmt.Errorf("%q is not a reddit url: %w", raw, surface.ErrUnsupported)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "r" || parts[2] != "comments" {
		return "", fmt.Errorf("%q is not a comments page: %w", raw, surface.ErrUnsupported)
	}
	u.Scheme = "https"
	u.Host = Host
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// Parse builds the comment tree of doc, fetched from pageURL. fetcher loads
// "continue this thread" pages later on; it may be nil when the page will
// never be expanded.
func Parse(doc *goquery.Document, pageURL string, fetcher Fetcher, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	threadID, err := parseThreadID(doc)
	if err != nil {
		return nil, err
	}

	root := doc.Find("div.commentarea > div.sitetable").First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("no comment area: %w", surface.ErrUnsupported)
	}

	p := &Page{
		tree:     comments.NewTree(),
		base:     base,
		fetcher:  fetcher,
		logger:   logger,
		threadID: threadID,
	}
	entries := p.extract(root, "")
	graft := p.merge(entries, comments.None)
	logger.Info("Comment page parsed",
		"thread_id", threadID,
		"comments", p.tree.Len(),
		"markers", len(p.tree.Markers()),
		"skipped", graft.skipped)
	return p, nil
}

func parseThreadID(doc *goquery.Document) (string, error) {
	id, ok := doc.Find(`div[id^="siteTable_t3"]`).First().Attr("id")
	parts := strings.Split(id, "_")
	if !ok || len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("no post id: %w", surface.ErrUnsupported)
	}

	var commentID string
	permalinked := doc.Find("body.comment-permalink-page .commentarea > div > .comment").First()
	if fullname, ok := permalinked.Attr("data-fullname"); ok {
		if _, after, found := strings.Cut(fullname, "_"); found {
			commentID = after
		}
	}
	return comments.ThreadID(parts[2], commentID), nil
}

// ThreadID returns the visit-history key of the page.
func (p *Page) ThreadID() string { return p.threadID }

// Tree returns the page's comment tree.
func (p *Page) Tree() *comments.Tree { return p.tree }

// Pending lists markers that link to a page holding their replies. "Load
// more comments" markers without a link can only be expanded in a browser.
func (p *Page) Pending() []comments.Marker {
	var out []comments.Marker
	for _, m := range p.tree.Markers() {
		if m.Href != "" {
			out = append(out, m)
		}
	}
	return out
}

// Fetch loads the page behind m. The returned func merges its comments into
// the tree, drops m and notifies subscribers; it must run on the page's
// queue.
func (p *Page) Fetch(ctx context.Context, m comments.Marker) (func() error, error) {
	if p.fetcher == nil || m.Href == "" {
		return nil, fmt.Errorf("marker %d cannot be loaded", m.ID)
	}
	doc, err := p.fetcher.Document(ctx, m.Href)
	if err != nil {
		return nil, fmt.Errorf("fetch replies: %w", err)
	}
	root := doc.Find("div.commentarea > div.sitetable").First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("no comment area at %s", m.Href)
	}
	entries := p.extract(root, "")

	return func() error {
		if _, ok := p.tree.RemoveMarker(m.ID); !ok {
			return nil
		}
		g := p.merge(entries, m.Parent)
		if len(g.edited) > 0 {
			p.tree.Notify(comments.Change{Kind: comments.Edited, Nodes: g.edited, Container: comments.None})
		}
		if len(g.inserted) > 0 {
			p.tree.Notify(comments.Change{Kind: comments.Inserted, Nodes: g.inserted, Container: m.Parent})
		} else {
			p.tree.Notify(comments.Change{Kind: comments.Resolved, Container: m.Parent})
		}
		return nil
	}, nil
}

// entry is one comment or marker read from a page, in document order.
type entry struct {
	key       string
	parentKey string
	author    string
	permalink string
	href      string
	times     []int64
	score     int
	marker    bool
	deleted   bool
	collapsed bool
}

func (p *Page) extract(sitetable *goquery.Selection, parentKey string) []entry {
	var out []entry
	sitetable.ChildrenFiltered("div.thing").Each(func(_ int, s *goquery.Selection) {
		switch {
		case s.HasClass("comment"):
			child := s.ChildrenFiltered("div.child").ChildrenFiltered("div.sitetable")
			key, ok := s.Attr("data-fullname")
			if !ok || key == "" {
				// Replies attach to the nearest known ancestor.
				p.logger.Debug("Skipping comment without fullname")
				out = append(out, p.extract(child, parentKey)...)
				return
			}
			author, _ := s.Attr("data-author")
			permalink, _ := s.Attr("data-permalink")
			out = append(out, entry{
				key:       key,
				parentKey: parentKey,
				author:    author,
				permalink: permalink,
				times:     p.times(key, s),
				score:     score(s),
				deleted:   s.HasClass("deleted"),
				collapsed: s.HasClass("collapsed"),
			})
			out = append(out, p.extract(child, key)...)

		case s.HasClass("morechildren"), s.HasClass("morerecursion"):
			var href string
			if h, ok := s.Find("span.deepthread a").First().Attr("href"); ok {
				href = p.resolve(h)
			}
			out = append(out, entry{marker: true, parentKey: parentKey, href: href})
		}
	})
	return out
}

// times reads the post time and edit time from a comment's own tagline.
// Values that don't parse are dropped.
func (p *Page) times(key string, s *goquery.Selection) []int64 {
	var out []int64
	s.ChildrenFiltered("div.entry").Find("p.tagline time[datetime]").Each(func(_ int, t *goquery.Selection) {
		raw, _ := t.Attr("datetime")
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			p.logger.Warn("Ignoring unparseable comment time", "comment", key, "datetime", raw, "error", err)
			return
		}
		out = append(out, ts.UnixMilli())
	})
	return out
}

// score reads the comment's unvoted score and adds the reader's own vote.
// A hidden or missing score counts as 0.
func score(s *goquery.Selection) int {
	var n int
	text := s.ChildrenFiltered("div.entry").Find("p.tagline span.score.unvoted").First().Text()
	if fields := strings.Fields(text); len(fields) > 0 {
		n, _ = strconv.Atoi(fields[0])
	}

	vote := s.ChildrenFiltered("div.midcol").First()
	switch {
	case vote.HasClass("likes"):
		n++
	case vote.HasClass("dislikes"):
		n--
	}
	return n
}

func (p *Page) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return p.base.ResolveReference(ref).String()
}

type graftResult struct {
	inserted []comments.NodeID // Roots of newly inserted subtrees
	edited   []comments.NodeID // Existing comments that gained a time
	skipped  int
}

// merge adds entries to the tree. Comments already present only contribute
// new times. Entries whose parent is unknown attach to fallback.
func (p *Page) merge(entries []entry, fallback comments.NodeID) graftResult {
	var g graftResult
	added := make(map[comments.NodeID]bool)

	parentOf := func(e entry) comments.NodeID {
		if e.parentKey != "" {
			if id, ok := p.tree.Lookup(e.parentKey); ok {
				return id
			}
		}
		return fallback
	}

	for _, e := range entries {
		parent := parentOf(e)

		if e.marker {
			// Markers below comments we already had are already known.
			if parent != fallback && !added[parent] {
				continue
			}
			if _, err := p.tree.AddMarker(parent, e.href); err != nil {
				p.logger.Warn("Failed to add marker", "error", err)
				g.skipped++
			}
			continue
		}

		if id, ok := p.tree.Lookup(e.key); ok {
			p.tree.Node(id).Score = e.score
			changed := false
			for _, ms := range e.times {
				isNew, err := p.tree.AddTime(id, ms)
				if err != nil {
					p.logger.Warn("Failed to add comment time", "comment", e.key, "error", err)
					continue
				}
				changed = changed || isNew
			}
			if changed {
				g.edited = append(g.edited, id)
			}
			continue
		}

		id, err := p.tree.Add(e.key, parent, e.times...)
		if err != nil {
			p.logger.Warn("Failed to add comment", "comment", e.key, "error", err)
			g.skipped++
			continue
		}
		n := p.tree.Node(id)
		n.Author = e.author
		n.Permalink = e.permalink
		n.Score = e.score
		n.Deleted = e.deleted
		n.Collapsed = e.collapsed
		added[id] = true
		if !added[parent] {
			g.inserted = append(g.inserted, id)
		}
	}
	return g
}
