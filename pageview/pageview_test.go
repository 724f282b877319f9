package pageview

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"reddit-highlighter/storage"
	"reddit-highlighter/surface"
	"reddit-highlighter/visits"
)

const pageURL = "https://old.reddit.com/r/go/comments/abc/title/"

const firstPage = `<html><body class="comments-page">
<div class="commentarea"><div id="siteTable_t3_abc" class="sitetable nestedlisting">
 <div class="thing comment" data-fullname="t1_c1" data-author="alice">
  <div class="entry"><p class="tagline"><time datetime="2024-01-02T10:00:00Z"></time></p></div>
  <div class="child"><div class="sitetable listing">
   <div class="thing comment" data-fullname="t1_c2" data-author="bob">
    <div class="entry"><p class="tagline"><time datetime="2024-01-02T11:00:00Z"></time></p></div>
   </div>
  </div></div>
 </div>
 <div class="thing comment" data-fullname="t1_c3" data-author="carol">
  <div class="entry"><p class="tagline"><time datetime="2024-01-02T12:00:00Z"></time></p></div>
 </div>
</div></div></body></html>`

// secondPage adds a reply to c2 and a deep thread under c3.
const secondPage = `<html><body class="comments-page">
<div class="commentarea"><div id="siteTable_t3_abc" class="sitetable nestedlisting">
 <div class="thing comment" data-fullname="t1_c1" data-author="alice">
  <div class="entry"><p class="tagline"><time datetime="2024-01-02T10:00:00Z"></time></p></div>
  <div class="child"><div class="sitetable listing">
   <div class="thing comment" data-fullname="t1_c2" data-author="bob">
    <div class="entry"><p class="tagline"><time datetime="2024-01-02T11:00:00Z"></time></p></div>
    <div class="child"><div class="sitetable listing">
     <div class="thing comment" data-fullname="t1_c4" data-author="dave">
      <div class="entry"><p class="tagline"><time datetime="2024-01-04T09:00:00Z"></time></p></div>
     </div>
    </div></div>
   </div>
  </div></div>
 </div>
 <div class="thing comment" data-fullname="t1_c3" data-author="carol">
  <div class="entry"><p class="tagline"><time datetime="2024-01-02T12:00:00Z"></time></p></div>
  <div class="child"><div class="sitetable listing">
   <div class="thing morerecursion"><div class="entry"><span class="deepthread"><a href="/r/go/comments/abc/_/c3/">continue this thread</a></span></div></div>
  </div></div>
 </div>
</div></div></body></html>`

const deepPage = `<html><body class="comments-page comment-permalink-page">
<div class="commentarea"><div id="siteTable_t3_abc" class="sitetable nestedlisting">
 <div class="thing comment" data-fullname="t1_c3" data-author="carol">
  <div class="entry"><p class="tagline"><time datetime="2024-01-02T12:00:00Z"></time></p></div>
  <div class="child"><div class="sitetable listing">
   <div class="thing comment" data-fullname="t1_c5" data-author="erin">
    <div class="entry"><p class="tagline"><time datetime="2024-01-04T10:00:00Z"></time></p></div>
   </div>
  </div></div>
 </div>
</div></div></body></html>`

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Document(_ context.Context, u string) (*goquery.Document, error) {
	html, ok := f.pages[u]
	if !ok {
		return nil, errors.New("HTTP 404")
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRunner(f *fakeFetcher, c *clock) (*Runner, *storage.Memory) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	kv := storage.NewMemory()
	r := New(f, visits.New(kv, logger), Config{
		Logger:    logger,
		Now:       c.now,
		StepDelay: time.Millisecond,
	})
	return r, kv
}

func newKeys(r *Report) []string {
	var keys []string
	for _, c := range r.New {
		keys = append(keys, c.Key)
	}
	return keys
}

func TestRunVisits(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{pageURL: firstPage}}
	c := &clock{t: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}
	r, _ := newRunner(f, c)
	ctx := context.Background()

	first, err := r.Run(ctx, Request{URL: "https://www.reddit.com/r/go/comments/abc/title/"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.ThreadID != "redd_id_abc" || first.URL != pageURL {
		t.Errorf("Run() = %s at %s", first.ThreadID, first.URL)
	}
	if first.Reference != 0 || len(first.New) != 0 || first.Collapsed != 0 {
		t.Errorf("first visit highlighted %v, collapsed %d, want nothing", newKeys(first), first.Collapsed)
	}
	if first.Label != "no highlighting" || len(first.Options) != 1 {
		t.Errorf("first visit label = %q, options = %v", first.Label, first.Options)
	}
	if first.Note == "" || first.MostRecent == 0 {
		t.Error("most recent comment should be reported on a first visit")
	}

	f.pages[pageURL] = secondPage
	c.t = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	second, err := r.Run(ctx, Request{URL: pageURL})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	r.Wait()

	if second.Reference != c.t.Add(-48*time.Hour).UnixMilli() {
		t.Errorf("Reference = %d, want previous visit", second.Reference)
	}
	if second.Label != "2 days ago" {
		t.Errorf("Label = %q, want %q", second.Label, "2 days ago")
	}
	if got := newKeys(second); len(got) != 1 || got[0] != "t1_c4" {
		t.Errorf("New = %v, want [t1_c4]", got)
	}
	// c3 keeps an unloaded thread visible; nothing else is old and leaf-only.
	if second.Collapsed != 0 {
		t.Errorf("Collapsed = %d, want 0", second.Collapsed)
	}
	if second.Unloaded != 1 || len(second.Visits) != 2 || len(second.Options) != 2 {
		t.Errorf("Unloaded = %d, Visits = %v, Options = %v", second.Unloaded, second.Visits, second.Options)
	}
}

func TestRunLoadAll(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		pageURL: secondPage,
		"https://old.reddit.com/r/go/comments/abc/_/c3/": deepPage,
	}}
	c := &clock{t: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}
	r, _ := newRunner(f, c)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := r.Run(ctx, Request{URL: pageURL}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	c.t = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	report, err := r.Run(ctx, Request{URL: pageURL, LoadAll: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	r.Wait()

	if report.Loaded != 1 || report.Unloaded != 0 || report.LoadAborted {
		t.Errorf("Loaded = %d, Unloaded = %d, aborted = %v", report.Loaded, report.Unloaded, report.LoadAborted)
	}
	if report.Comments != 5 {
		t.Errorf("Comments = %d, want 5", report.Comments)
	}
	got := newKeys(report)
	if len(got) != 2 || got[0] != "t1_c4" || got[1] != "t1_c5" {
		t.Errorf("New = %v, want [t1_c4 t1_c5]", got)
	}
}

func TestRunReference(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{pageURL: firstPage}}
	c := &clock{t: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}
	r, _ := newRunner(f, c)

	ref := time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC).UnixMilli()
	report, err := r.Run(context.Background(), Request{URL: pageURL, Reference: &ref})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	r.Wait()

	if got := newKeys(report); len(got) != 2 {
		t.Errorf("New = %v, want c2 and c3", got)
	}
	// c1 stays visible for its new reply.
	if report.Collapsed != 0 {
		t.Errorf("Collapsed = %d, want 0", report.Collapsed)
	}
}

const scoredPage = `<html><body class="comments-page">
<div class="commentarea"><div id="siteTable_t3_abc" class="sitetable nestedlisting">
 <div class="thing comment" data-fullname="t1_c1" data-author="alice">
  <div class="midcol unvoted"></div>
  <div class="entry"><p class="tagline"><span class="score unvoted">2 points</span><time datetime="2024-01-02T10:00:00Z"></time></p></div>
  <div class="child"><div class="sitetable listing">
   <div class="thing comment" data-fullname="t1_c2" data-author="bob">
    <div class="midcol likes"></div>
    <div class="entry"><p class="tagline"><span class="score unvoted">9 points</span><time datetime="2024-01-02T11:00:00Z"></time></p></div>
   </div>
  </div></div>
 </div>
 <div class="thing comment" data-fullname="t1_c3" data-author="carol">
  <div class="midcol unvoted"></div>
  <div class="entry"><p class="tagline"><span class="score unvoted">50 points</span><time datetime="2024-01-02T12:00:00Z"></time></p></div>
 </div>
</div></div></body></html>`

func TestRunBetterReplies(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{pageURL: scoredPage}}
	r, _ := newRunner(f, &clock{t: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)})

	report, err := r.Run(context.Background(), Request{URL: pageURL})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	r.Wait()

	if len(report.Better) != 1 || report.Better[0].Key != "t1_c2" || report.Better[0].Score != 10 {
		t.Errorf("Better = %+v, want only t1_c2 with score 10", report.Better)
	}
}

func TestRunUnsupported(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		pageURL: `<html><body><shreddit-comment></shreddit-comment></body></html>`,
	}}
	r, kv := newRunner(f, &clock{t: time.Now()})

	tests := []string{pageURL, "https://example.com/r/go/comments/abc/"}
	for _, u := range tests {
		t.Run(u, func(t *testing.T) {
			if _, err := r.Run(context.Background(), Request{URL: u}); !errors.Is(err, surface.ErrUnsupported) {
				t.Errorf("Run() error = %v, want ErrUnsupported", err)
			}
		})
	}
	keys, err := kv.Keys(context.Background())
	if err != nil || len(keys) != 0 {
		t.Errorf("unsupported views recorded visits: %v", keys)
	}
}
