// Package pageview runs one visit to a thread: it fetches the page, records
// the visit, highlights what is new and, optionally, loads every collapsed
// "continue this thread" branch.
package pageview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reddit-highlighter/highlight"
	"reddit-highlighter/pretty"
	"reddit-highlighter/surface"
	"reddit-highlighter/surface/oldreddit"
	"reddit-highlighter/visits"
	"reddit-highlighter/watch"
)

// Config holds runner options.
type Config struct {
	Logger      *slog.Logger
	Location    *time.Location   // For the most recent comment note; UTC when nil
	Now         func() time.Time // Clock; time.Now when nil
	Expiration  time.Duration
	StepDelay   time.Duration
	MaxFailures int
	Inclusive   bool
}

// Runner performs page views.
type Runner struct {
	fetcher oldreddit.Fetcher
	history *visits.History
	logger  *slog.Logger
	purges  sync.WaitGroup
	cfg     Config
}

// Request describes one page view.
type Request struct {
	Reference *int64 // Overrides the default reference time when set; 0 turns highlighting off
	URL       string
	LoadAll   bool
}

// Comment is a highlighted comment in a Report.
type Comment struct {
	Key       string `json:"key"`
	Author    string `json:"author,omitempty"`
	Permalink string `json:"permalink,omitempty"`
	Time      int64  `json:"time"`
	Score     int    `json:"score"`
}

// Report is the outcome of a page view.
type Report struct {
	ThreadID    string             `json:"thread_id"`
	URL         string             `json:"url"`
	Surface     string             `json:"surface"`
	Label       string             `json:"label"`
	Note        string             `json:"note,omitempty"`
	Visits      []int64            `json:"visits"`
	Options     []highlight.Option `json:"options"`
	New         []Comment          `json:"new"`
	Better      []Comment          `json:"better"` // Replies scoring higher than their parent
	Reference   int64              `json:"reference"`
	MostRecent  int64              `json:"most_recent"`
	Comments    int                `json:"comments"`
	Collapsed   int                `json:"collapsed"`
	Loaded      int                `json:"loaded"`
	Abandoned   int                `json:"abandoned"`
	Unloaded    int                `json:"unloaded"`
	LoadAborted bool               `json:"load_aborted,omitempty"`
}

// New creates a runner.
func New(fetcher oldreddit.Fetcher, history *visits.History, cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = visits.DefaultExpiration
	}
	return &Runner{
		fetcher: fetcher,
		history: history,
		logger:  cfg.Logger,
		cfg:     cfg,
	}
}

// Wait blocks until background purges have finished.
func (r *Runner) Wait() {
	r.purges.Wait()
}

// Run performs a page view. Pages without an integration yield an error
// wrapping surface.ErrUnsupported.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	pageURL, err := oldreddit.NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}

	doc, err := r.fetcher.Document(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	kind, err := surface.Detect(doc)
	if err != nil {
		r.logger.Info("Page has no highlighting integration", "url", pageURL, "surface", kind.String())
		return nil, err
	}
	page, err := oldreddit.Parse(doc, pageURL, r.fetcher, r.logger)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	threadID := page.ThreadID()
	logger := r.logger.With("thread_id", threadID)

	now := r.cfg.Now().UnixMilli()
	history, lastVisit, err := r.history.RecordVisit(ctx, threadID, now)
	if err != nil {
		logger.Warn("Failed to record visit, highlighting without history", "error", err)
		history, lastVisit = []int64{now}, now
	}
	r.purge(ctx, now)

	tree := page.Tree()
	session := highlight.New(tree, history, lastVisit, now, highlight.Config{
		Logger:    logger,
		Inclusive: r.cfg.Inclusive,
	})
	cancelSub := session.SubscribeMostRecent(func(ms int64) {
		logger.Debug("Most recent comment time advanced", "most_recent", ms)
	})
	defer cancelSub()

	q := watch.NewQueue()
	watcher := watch.NewWatcher(tree, session, logger)
	defer watcher.Close()

	var load watch.LoadResult
	q.Post(func() {
		var p highlight.Pass
		if req.Reference != nil {
			p = session.Select(*req.Reference)
		} else {
			p = session.Start()
		}
		logger.Info("Comments highlighted",
			"reference", session.Reference(),
			"highlighted", p.Highlighted,
			"collapsed", p.Collapsed)
		watcher.Attach()

		if !req.LoadAll {
			q.Stop()
			return
		}
		loader := watch.NewLoader(q, page, watch.LoaderConfig{
			Logger:      logger,
			StepDelay:   r.cfg.StepDelay,
			MaxFailures: r.cfg.MaxFailures,
		})
		loader.Start(ctx, func(res watch.LoadResult) {
			load = res
			q.Stop()
		})
	})
	if err := q.Run(ctx); err != nil {
		logger.Warn("Page view interrupted", "error", err)
		load.Aborted = true
	}

	report := &Report{
		ThreadID:    threadID,
		URL:         pageURL,
		Surface:     kind.String(),
		Visits:      history,
		Reference:   session.Reference(),
		Label:       pretty.Prettify(session.Reference(), now),
		Options:     session.Options(now),
		MostRecent:  session.MostRecent(),
		Note:        pretty.MostRecent(session.MostRecent(), now, r.cfg.Location),
		Comments:    tree.Len(),
		New:         []Comment{},
		Better:      []Comment{},
		Loaded:      load.Loaded,
		Abandoned:   load.Abandoned,
		Unloaded:    len(tree.Markers()),
		LoadAborted: load.Aborted,
	}
	for _, id := range tree.Comments() {
		n := tree.Node(id)
		if n.Collapsed {
			report.Collapsed++
		}
		ms, _ := tree.EffectiveTime(id)
		c := Comment{Key: n.Key, Author: n.Author, Permalink: n.Permalink, Time: ms, Score: n.Score}
		if n.Highlighted {
			report.New = append(report.New, c)
		}
		if tree.BetterThanParent(id) {
			report.Better = append(report.Better, c)
		}
	}
	return report, nil
}

// purge removes expired threads in the background. Failures are logged and
// never affect the page view.
func (r *Runner) purge(ctx context.Context, now int64) {
	r.purges.Add(1)
	go func() {
		defer r.purges.Done()
		removed, err := r.history.PurgeExpired(context.WithoutCancel(ctx), now, r.cfg.Expiration)
		if err != nil {
			r.logger.Warn("Failed to purge expired visit records", "error", err)
			return
		}
		if removed > 0 {
			r.logger.Debug("Expired visit records purged", "count", removed)
		}
	}()
}
