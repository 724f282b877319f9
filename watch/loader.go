package watch

import (
	"context"
	"log/slog"
	"time"

	"reddit-highlighter/pkg/comments"
)

// DefaultStepDelay is the wait between load steps while a load is in flight
// or after a failed one.
const DefaultStepDelay = 500 * time.Millisecond

// DefaultMaxFailures is how often a marker may fail before it is given up.
const DefaultMaxFailures = 5

// Expander loads the replies behind markers.
type Expander interface {
	// Pending lists the markers that can still be loaded.
	Pending() []comments.Marker
	// Fetch loads a marker's replies. It runs off the queue; the returned
	// apply func grafts them into the tree and runs on the queue.
	Fetch(ctx context.Context, m comments.Marker) (apply func() error, err error)
}

// LoaderConfig holds loader options.
type LoaderConfig struct {
	Logger      *slog.Logger
	StepDelay   time.Duration
	MaxFailures int
}

// LoadResult summarises a finished load-all run.
type LoadResult struct {
	Loaded    int
	Abandoned int
	Aborted   bool
}

// Loader loads every pending marker, one at a time, each step on a later
// queue turn.
type Loader struct {
	ctx      context.Context
	q        *Queue
	exp      Expander
	logger   *slog.Logger
	failures map[comments.MarkerID]int
	done     func(LoadResult)
	result   LoadResult
	cfg      LoaderConfig
	inFlight bool
}

// NewLoader creates a loader that posts its steps on q.
func NewLoader(q *Queue, exp Expander, cfg LoaderConfig) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = DefaultStepDelay
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	return &Loader{
		q:        q,
		exp:      exp,
		cfg:      cfg,
		logger:   cfg.Logger,
		failures: make(map[comments.MarkerID]int),
	}
}

// Start begins loading. done is called on the queue once nothing is left to
// load or ctx is done.
func (l *Loader) Start(ctx context.Context, done func(LoadResult)) {
	l.ctx = ctx
	l.done = done
	l.q.Post(l.step)
}

func (l *Loader) finish() {
	if l.done != nil {
		l.done(l.result)
		l.done = nil
	}
}

func (l *Loader) step() {
	if err := l.ctx.Err(); err != nil {
		l.logger.Info("Loading comments aborted", "loaded", l.result.Loaded, "error", err)
		l.result.Aborted = true
		l.finish()
		return
	}
	if l.inFlight {
		l.q.PostAfter(l.cfg.StepDelay, l.step)
		return
	}

	var next *comments.Marker
	abandoned := 0
	for _, m := range l.exp.Pending() {
		if l.failures[m.ID] >= l.cfg.MaxFailures {
			abandoned++
			continue
		}
		if next == nil {
			next = &m
		}
	}
	if next == nil {
		l.result.Abandoned = abandoned
		l.logger.Info("Finished loading all comments", "loaded", l.result.Loaded, "abandoned", abandoned)
		l.finish()
		return
	}

	m := *next
	l.inFlight = true
	go func() {
		apply, err := l.exp.Fetch(l.ctx, m)
		l.q.Post(func() { l.applied(m, apply, err) })
	}()
}

func (l *Loader) applied(m comments.Marker, apply func() error, err error) {
	l.inFlight = false
	if err == nil {
		err = apply()
	}
	if err != nil {
		l.failures[m.ID]++
		l.logger.Warn("Failed to load more comments",
			"marker", m.ID, "href", m.Href, "attempt", l.failures[m.ID], "error", err)
		l.q.PostAfter(l.cfg.StepDelay, l.step)
		return
	}
	l.result.Loaded++
	l.q.Post(l.step)
}
