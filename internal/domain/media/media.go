// Package media provides the media entry domain entity.
package media

import (
	"path/filepath"
	"strings"
)

// Category classifies a media entry by its role in the show.
type Category int

const (
	CategoryIdle   Category = iota // Looping background media
	CategoryEvent                  // Cue clips played on triggers
	CategoryRandom                 // Clips injected after idle timeout
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryIdle:
		return "idle"
	case CategoryEvent:
		return "event"
	case CategoryRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ParseCategory parses a category name. Accepts both the singular form and
// the on-disk directory name ("events").
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return CategoryIdle, true
	case "event", "events":
		return CategoryEvent, true
	case "random":
		return CategoryRandom, true
	default:
		return Category(0), false
	}
}

// Entry represents a single media file known to the appliance.
// Entries are immutable once loaded; the per-category sets are only
// replaced wholesale on an explicit refresh.
type Entry struct {
	Path     string   // Absolute filesystem path
	Category Category // Role of this entry
}

// Name returns the file basename.
func (e Entry) Name() string {
	return filepath.Base(e.Path)
}

// CueName returns the basename without extension, lowercased.
// This is the identifier used to address an event entry as a named cue.
func (e Entry) CueName() string {
	base := filepath.Base(e.Path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// IsZero reports whether the entry is the zero value.
func (e Entry) IsZero() bool {
	return e.Path == ""
}
