// Package model holds the data types shared by the catalog, settings and update packages.
package model

import "time"

// CatalogEntry is one item of the catalog: an immediate subdirectory of the root path.
type CatalogEntry struct {
	Name         string
	Path         string     // Absolute path, unique within one scan
	LastModified *time.Time // nil when the modification time could not be read
}

// Snapshot is the externally visible state of the catalog.
type Snapshot struct {
	Root       string
	Entries    []CatalogEntry
	Loading    bool
	Err        error
	Generation uint64 // Scan the snapshot belongs to; increases with every scan
}
