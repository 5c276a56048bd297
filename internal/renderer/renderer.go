package renderer

import (
	"fmt"
	"strings"
	"time"

	"github.com/Akaiko1/game-grove/internal/model"
)

const (
	folderIcon = "📁"

	// Tree drawing characters
	treeBranch     = "├──"
	treeLastBranch = "└──"
)

// CatalogRenderer turns catalog state into text.
type CatalogRenderer interface {
	RenderCatalog(snap model.Snapshot) string
	EntryLabel(entry model.CatalogEntry) string
}

// StandardCatalogRenderer renders a catalog as a one-level tree, in the order given.
type StandardCatalogRenderer struct {
	// Now is the reference time for relative ages. Defaults to time.Now.
	Now func() time.Time
}

// RenderCatalog renders a snapshot as a formatted string.
func (r *StandardCatalogRenderer) RenderCatalog(snap model.Snapshot) string {
	if snap.Root == "" {
		return ""
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Catalog for: %s\n", snap.Root))
	builder.WriteString(strings.Repeat("=", 50) + "\n\n")

	switch {
	case snap.Err != nil:
		builder.WriteString(fmt.Sprintf("Error: %v\n", snap.Err))
		return builder.String()
	case snap.Loading && len(snap.Entries) == 0:
		builder.WriteString("Scanning...\n")
		return builder.String()
	case len(snap.Entries) == 0:
		builder.WriteString("(empty)\n")
		return builder.String()
	}

	for i, entry := range snap.Entries {
		connector := treeBranch
		if i == len(snap.Entries)-1 {
			connector = treeLastBranch
		}
		builder.WriteString(fmt.Sprintf("%s %s\n", connector, r.EntryLabel(entry)))
	}
	builder.WriteString(fmt.Sprintf("\n%d items\n", len(snap.Entries)))

	return builder.String()
}

// EntryLabel renders one entry as "icon name/ (age)".
func (r *StandardCatalogRenderer) EntryLabel(entry model.CatalogEntry) string {
	label := fmt.Sprintf("%s %s/", folderIcon, entry.Name)
	if entry.LastModified == nil {
		return label
	}
	return fmt.Sprintf("%s (%s)", label, r.age(*entry.LastModified))
}

func (r *StandardCatalogRenderer) age(t time.Time) string {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	case d < 30*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	default:
		return t.Format("2006-01-02")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
