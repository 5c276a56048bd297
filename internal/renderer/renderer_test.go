package renderer_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/Akaiko1/game-grove/internal/model"
	"github.com/Akaiko1/game-grove/internal/renderer"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func newRenderer() *renderer.StandardCatalogRenderer {
	return &renderer.StandardCatalogRenderer{Now: func() time.Time { return now }}
}

func TestEntryLabel(t *testing.T) {
	tests := []struct {
		name     string
		modified *time.Time
		want     string
	}{
		{"no timestamp", nil, "📁 pong/"},
		{"seconds", at(10 * time.Second), "📁 pong/ (just now)"},
		{"one minute", at(time.Minute), "📁 pong/ (1 minute ago)"},
		{"hours", at(5 * time.Hour), "📁 pong/ (5 hours ago)"},
		{"days", at(3 * 24 * time.Hour), "📁 pong/ (3 days ago)"},
		{"old", at(90 * 24 * time.Hour), "📁 pong/ (2024-03-12)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label := newRenderer().EntryLabel(model.CatalogEntry{Name: "pong", LastModified: tt.modified})
			gt.V(t, label).Equal(tt.want)
		})
	}
}

func TestRenderCatalog(t *testing.T) {
	snap := model.Snapshot{
		Root: "/games",
		Entries: []model.CatalogEntry{
			{Name: "tetris", Path: "/games/tetris", LastModified: at(time.Hour)},
			{Name: "pong", Path: "/games/pong"},
		},
	}

	out := newRenderer().RenderCatalog(snap)
	lines := strings.Split(out, "\n")
	gt.V(t, lines[0]).Equal("Catalog for: /games")
	gt.V(t, lines[3]).Equal("├── 📁 tetris/ (1 hour ago)")
	gt.V(t, lines[4]).Equal("└── 📁 pong/")
	gt.True(t, strings.Contains(out, "2 items"))
}

func TestRenderCatalog_States(t *testing.T) {
	r := newRenderer()

	gt.V(t, r.RenderCatalog(model.Snapshot{})).Equal("")
	gt.True(t, strings.HasSuffix(r.RenderCatalog(model.Snapshot{Root: "/g"}), "(empty)\n"))
	gt.True(t, strings.HasSuffix(r.RenderCatalog(model.Snapshot{Root: "/g", Loading: true}), "Scanning...\n"))
	gt.True(t, strings.Contains(r.RenderCatalog(model.Snapshot{Root: "/g", Err: errors.New("denied")}), "Error: denied"))
}
