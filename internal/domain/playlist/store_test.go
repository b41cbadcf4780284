package playlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicholasTracy/CueBeam/internal/domain/media"
)

// newTestStore builds a store over a temp media tree with the given files
// per category directory.
func newTestStore(t *testing.T, order IdleOrder, files map[string][]string) *Store {
	t.Helper()
	root := t.TempDir()
	for dir, names := range files {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		for _, name := range names {
			require.NoError(t, os.WriteFile(filepath.Join(root, dir, name), []byte("x"), 0o644))
		}
	}
	s, err := NewStore(root, order)
	require.NoError(t, err)
	return s
}

func TestStore_ScanFiltersNonMedia(t *testing.T) {
	s := newTestStore(t, OrderShuffle, map[string][]string{
		"idle": {"loop.mp4", "notes.txt", "cover.jpg", "b.mkv"},
	})

	entries := s.Entries(media.CategoryIdle)
	require.Len(t, entries, 2)
	assert.Equal(t, "b.mkv", entries[0].Name())
	assert.Equal(t, "loop.mp4", entries[1].Name())
}

func TestStore_NextIdle_Sequential(t *testing.T) {
	s := newTestStore(t, OrderSequential, map[string][]string{
		"idle": {"a.mp4", "b.mp4", "c.mp4"},
	})

	var got []string
	for i := 0; i < 6; i++ {
		e, err := s.NextIdle()
		require.NoError(t, err)
		got = append(got, e.Name())
	}
	assert.Equal(t, []string{"a.mp4", "b.mp4", "c.mp4", "a.mp4", "b.mp4", "c.mp4"}, got)
}

func TestStore_NextIdle_ShuffleNoImmediateRepeat(t *testing.T) {
	s := newTestStore(t, OrderShuffle, map[string][]string{
		"idle": {"a.mp4", "b.mp4", "c.mp4"},
	})

	prev, err := s.NextIdle()
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		e, err := s.NextIdle()
		require.NoError(t, err)
		assert.NotEqual(t, prev.Path, e.Path)
		prev = e
	}
}

func TestStore_NextIdle_SingleEntryLoops(t *testing.T) {
	s := newTestStore(t, OrderShuffle, map[string][]string{
		"idle": {"loop.mp4"},
	})

	for i := 0; i < 5; i++ {
		e, err := s.NextIdle()
		require.NoError(t, err)
		assert.Equal(t, "loop.mp4", e.Name())
	}
}

func TestStore_NextIdle_Empty(t *testing.T) {
	s := newTestStore(t, OrderShuffle, nil)

	_, err := s.NextIdle()
	assert.True(t, errors.Is(err, ErrEmptyCategory))
}

func TestStore_PickRandom_NeverRepeatsWithTwoEntries(t *testing.T) {
	s := newTestStore(t, OrderShuffle, map[string][]string{
		"random": {"x.mp4", "y.mp4"},
	})

	prev, err := s.PickRandom()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		e, err := s.PickRandom()
		require.NoError(t, err)
		assert.NotEqual(t, prev.Path, e.Path, "consecutive random picks must differ")
		prev = e
	}
}

func TestStore_PickRandom_Empty(t *testing.T) {
	s := newTestStore(t, OrderShuffle, map[string][]string{"idle": {"loop.mp4"}})

	_, err := s.PickRandom()
	assert.True(t, errors.Is(err, ErrEmptyCategory))
}

func TestStore_Cue(t *testing.T) {
	s := newTestStore(t, OrderShuffle, map[string][]string{
		"events": {"doorbell.mp4", "Chime.mov"},
	})

	e, err := s.Cue("doorbell")
	require.NoError(t, err)
	assert.Equal(t, "doorbell.mp4", e.Name())
	assert.Equal(t, media.CategoryEvent, e.Category)

	// Case-insensitive match
	e, err = s.Cue("CHIME")
	require.NoError(t, err)
	assert.Equal(t, "Chime.mov", e.Name())

	_, err = s.Cue("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_Refresh(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "events"), 0o755))
	s, err := NewStore(root, OrderShuffle)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Count(media.CategoryEvent))

	require.NoError(t, os.WriteFile(filepath.Join(root, "events", "new.mp4"), []byte("x"), 0o644))
	require.NoError(t, s.Refresh())
	assert.Equal(t, 1, s.Count(media.CategoryEvent))
}

func TestParseIdleOrder(t *testing.T) {
	order, err := ParseIdleOrder("sequential")
	require.NoError(t, err)
	assert.Equal(t, OrderSequential, order)

	order, err = ParseIdleOrder("")
	require.NoError(t, err)
	assert.Equal(t, OrderShuffle, order)

	_, err = ParseIdleOrder("zigzag")
	assert.Error(t, err)
}
