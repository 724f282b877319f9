package surface

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		want    Kind
		wantErr bool
	}{
		{
			name: "old reddit",
			html: `<html><body class="listing-page comments-page"><div class="commentarea"></div></body></html>`,
			want: OldReddit,
		},
		{
			name:    "new reddit",
			html:    `<html><body><div id="t1_abc" tabindex="-1">hi</div></body></html>`,
			want:    NewReddit,
			wantErr: true,
		},
		{
			name:    "shreddit",
			html:    `<html><body><shreddit-comment thingid="t1_abc"></shreddit-comment></body></html>`,
			want:    Shreddit,
			wantErr: true,
		},
		{
			name:    "front page",
			html:    `<html><body class="listing-page"></body></html>`,
			want:    Unknown,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			if err != nil {
				t.Fatal(err)
			}
			got, err := Detect(doc)
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
			if tt.wantErr != errors.Is(err, ErrUnsupported) {
				t.Errorf("Detect() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
