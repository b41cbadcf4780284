// Package playlist provides the categorized media store and its selection policy.
package playlist

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/NicholasTracy/CueBeam/internal/domain/media"
)

// Errors
var (
	ErrEmptyCategory = errors.New("no entries in category")
	ErrNotFound      = errors.New("cue not found")
)

// IdleOrder selects the policy used to pick the next idle entry.
type IdleOrder int

const (
	OrderShuffle    IdleOrder = iota // Random pick, no immediate repeat
	OrderSequential                  // Sequential with wrap-around
)

// ParseIdleOrder parses an idle order name.
func ParseIdleOrder(s string) (IdleOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shuffle", "":
		return OrderShuffle, nil
	case "sequential":
		return OrderSequential, nil
	default:
		return OrderShuffle, errors.Newf("unknown idle order: %s", s)
	}
}

// mediaExtensions lists the file extensions treated as playable media.
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
}

// categoryDirs maps a category to its directory name under the media root.
var categoryDirs = map[media.Category]string{
	media.CategoryIdle:   "idle",
	media.CategoryEvent:  "events",
	media.CategoryRandom: "random",
}

// Store holds the categorized media entries and selection state.
// Entries are read-only at runtime; Refresh replaces them wholesale.
type Store struct {
	mu sync.RWMutex

	root    string
	order   IdleOrder
	entries map[media.Category][]media.Entry

	idleCursor int         // Next sequential idle index
	lastIdle   media.Entry // Last idle entry handed out (shuffle repeat guard)
	lastRandom media.Entry // Last random entry handed out
}

// NewStore creates a store rooted at the given media directory and scans it.
// Missing category directories are created so the upload collaborator has a
// place to write into.
func NewStore(root string, order IdleOrder) (*Store, error) {
	s := &Store{
		root:    root,
		order:   order,
		entries: make(map[media.Category][]media.Entry),
	}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh rescans the media directories and replaces the entry sets.
// The caller must only invoke this between clips, never mid-playback.
func (s *Store) Refresh() error {
	scanned := make(map[media.Category][]media.Entry)

	for cat, dir := range categoryDirs {
		full := filepath.Join(s.root, dir)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create media directory %s", full)
		}

		items, err := os.ReadDir(full)
		if err != nil {
			return errors.Wrapf(err, "failed to scan media directory %s", full)
		}

		var list []media.Entry
		for _, it := range items {
			if it.IsDir() || !mediaExtensions[strings.ToLower(filepath.Ext(it.Name()))] {
				continue
			}
			list = append(list, media.Entry{
				Path:     filepath.Join(full, it.Name()),
				Category: cat,
			})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
		scanned[cat] = list
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = scanned
	s.idleCursor = 0
	zlog.Debug().Msgf("playlist: scanned media root %s: idle=%d events=%d random=%d",
		s.root, len(scanned[media.CategoryIdle]), len(scanned[media.CategoryEvent]), len(scanned[media.CategoryRandom]))
	return nil
}

// Entries returns a copy of the entries in the given category.
func (s *Store) Entries(cat media.Category) []media.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]media.Entry, len(s.entries[cat]))
	copy(result, s.entries[cat])
	return result
}

// Count returns the number of entries in the given category.
func (s *Store) Count(cat media.Category) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[cat])
}

// NextIdle returns the next idle entry according to the configured order.
// Returns ErrEmptyCategory when no idle media exists.
func (s *Store) NextIdle() (media.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := s.entries[media.CategoryIdle]
	if len(pool) == 0 {
		return media.Entry{}, errors.Wrap(ErrEmptyCategory, "idle")
	}

	var next media.Entry
	switch s.order {
	case OrderSequential:
		next = pool[s.idleCursor%len(pool)]
		s.idleCursor = (s.idleCursor + 1) % len(pool)
	default:
		next = pickExcluding(pool, s.lastIdle)
	}
	s.lastIdle = next
	return next, nil
}

// PickRandom returns an entry from the random category, never repeating the
// immediately previous pick when the pool has two or more entries.
func (s *Store) PickRandom() (media.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := s.entries[media.CategoryRandom]
	if len(pool) == 0 {
		return media.Entry{}, errors.Wrap(ErrEmptyCategory, "random")
	}

	next := pickExcluding(pool, s.lastRandom)
	s.lastRandom = next
	return next, nil
}

// PickEvent returns a random entry from the event category.
func (s *Store) PickEvent() (media.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool := s.entries[media.CategoryEvent]
	if len(pool) == 0 {
		return media.Entry{}, errors.Wrap(ErrEmptyCategory, "event")
	}
	return pool[rand.Intn(len(pool))], nil
}

// Cue resolves a named event cue to its entry. Cue names are the file
// basename without extension, compared case-insensitively.
func (s *Store) Cue(name string) (media.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool := s.entries[media.CategoryEvent]
	if len(pool) == 0 {
		return media.Entry{}, errors.Wrap(ErrEmptyCategory, "event")
	}

	want := strings.ToLower(strings.TrimSpace(name))
	for _, e := range pool {
		if e.CueName() == want {
			return e, nil
		}
	}
	return media.Entry{}, errors.Wrapf(ErrNotFound, "cue %q", name)
}

// pickExcluding picks a random entry from pool, excluding last when the
// pool has at least two entries.
func pickExcluding(pool []media.Entry, last media.Entry) media.Entry {
	if len(pool) == 1 {
		return pool[0]
	}
	for {
		candidate := pool[rand.Intn(len(pool))]
		if candidate.Path != last.Path {
			return candidate
		}
	}
}
