// Package surface recognises which Reddit front end served a page.
package surface

import (
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"reddit-highlighter/pkg/comments"
)

// ErrUnsupported is returned for pages without a highlighting integration.
var ErrUnsupported = errors.New("unsupported view")

// Kind identifies a Reddit front end.
type Kind int

const (
	Unknown Kind = iota
	OldReddit
	NewReddit
	Shreddit
)

func (k Kind) String() string {
	switch k {
	case OldReddit:
		return "old reddit"
	case NewReddit:
		return "new reddit"
	case Shreddit:
		return "shreddit"
	default:
		return "unknown"
	}
}

// View is a parsed comments page of a supported front end.
type View interface {
	ThreadID() string
	Tree() *comments.Tree
	// Pending lists markers whose replies can be loaded.
	Pending() []comments.Marker
	// Fetch loads the replies behind m; apply grafts them into Tree.
	Fetch(ctx context.Context, m comments.Marker) (apply func() error, err error)
}

// Detect reports which front end served doc. Only old Reddit comment pages
// are supported; every other page yields an error wrapping ErrUnsupported.
func Detect(doc *goquery.Document) (Kind, error) {
	switch {
	case doc.Find("body.comments-page").Length() > 0:
		return OldReddit, nil
	case doc.Find("shreddit-comment").Length() > 0:
		return Shreddit, fmt.Errorf("%s: %w", Shreddit, ErrUnsupported)
	case doc.Find(`div[id^="t1_"][tabindex]`).Length() > 0:
		return NewReddit, fmt.Errorf("%s: %w", NewReddit, ErrUnsupported)
	default:
		return Unknown, fmt.Errorf("no comment section found: %w", ErrUnsupported)
	}
}
