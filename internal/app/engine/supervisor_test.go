package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine records loads and lets tests inject events.
type fakeEngine struct {
	mu      sync.Mutex
	loads   []Intent
	gens    []uint64
	stopped bool
	closed  bool
	events  chan Event

	startErr error
	loadErr  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan Event, 8)}
}

func (f *fakeEngine) Start(context.Context) error { return f.startErr }

func (f *fakeEngine) Load(path string, loops int, offset time.Duration, gen uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loads = append(f.loads, Intent{Path: path, Loops: loops, StartOffset: offset})
	f.gens = append(f.gens, gen)
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeEngine) Events() <-chan Event { return f.events }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeEngine) loadedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, len(f.loads))
	for i, l := range f.loads {
		paths[i] = l.Path
	}
	return paths
}

// lastGen returns the generation of the most recent load.
func (f *fakeEngine) lastGen() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gens[len(f.gens)-1]
}

// crash simulates the subprocess dying out from under the supervisor.
func (f *fakeEngine) crash(err error) {
	f.events <- Event{Type: EventExited, Err: err}
}

// factory hands out fake engines in sequence and remembers them.
type factory struct {
	mu      sync.Mutex
	engines []*fakeEngine
}

func (fa *factory) next() Engine {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	e := newFakeEngine()
	fa.engines = append(fa.engines, e)
	return e
}

func (fa *factory) engine(i int) *fakeEngine {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.engines[i]
}

func (fa *factory) count() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.engines)
}

func waitNotice(t *testing.T, s *Supervisor, want NoticeType) Notice {
	t.Helper()
	for {
		select {
		case n := <-s.Notices():
			if n.Type == want {
				return n
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notice %d", want)
		}
	}
}

func TestSupervisor_SubmitAssignsGenerations(t *testing.T) {
	fa := &factory{}
	s := NewSupervisor(fa.next, 3)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	gen1, err := s.Submit(Intent{Path: "/media/idle/loop.mp4", Loops: LoopInfinite})
	require.NoError(t, err)
	gen2, err := s.Submit(Intent{Path: "/media/events/chime.mp4", Loops: 1})
	require.NoError(t, err)

	assert.Greater(t, gen2, gen1, "newer intents get higher generations")
	assert.Equal(t, []string{"/media/idle/loop.mp4", "/media/events/chime.mp4"}, fa.engine(0).loadedPaths())
}

func TestSupervisor_EOFCarriesCurrentGeneration(t *testing.T) {
	fa := &factory{}
	s := NewSupervisor(fa.next, 3)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	gen, err := s.Submit(Intent{Path: "/media/events/chime.mp4", Loops: 1})
	require.NoError(t, err)
	assert.Equal(t, gen, fa.engine(0).lastGen(), "load carries the intent's generation")

	fa.engine(0).events <- Event{Type: EventEOF, Gen: fa.engine(0).lastGen()}
	n := waitNotice(t, s, NoticeEOF)
	assert.Equal(t, gen, n.Gen)
}

func TestSupervisor_InFlightEOFKeepsSupersededGeneration(t *testing.T) {
	fa := &factory{}
	s := NewSupervisor(fa.next, 3)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	genA, err := s.Submit(Intent{Path: "/media/events/alpha.mp4", Loops: 1})
	require.NoError(t, err)

	// Alpha finishes, but its completion is still queued when bravo
	// supersedes it. The notice must keep alpha's identity so the
	// consumer can discard it instead of treating bravo as finished.
	fa.engine(0).events <- Event{Type: EventEOF, Gen: genA}
	genB, err := s.Submit(Intent{Path: "/media/events/bravo.mp4", Loops: 1})
	require.NoError(t, err)
	require.NotEqual(t, genA, genB)

	n := waitNotice(t, s, NoticeEOF)
	assert.Equal(t, genA, n.Gen, "late completion keeps the superseded clip's generation")
}

func TestSupervisor_RestartReissuesWantedIntent(t *testing.T) {
	fa := &factory{}
	s := NewSupervisor(fa.next, 3)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	gen, err := s.Submit(Intent{Path: "/media/idle/loop.mp4", Loops: LoopInfinite})
	require.NoError(t, err)

	fa.engine(0).crash(errors.New("killed externally"))

	// Exactly one transient fault, then recovery with the intent re-issued.
	n := waitNotice(t, s, NoticeFault)
	assert.True(t, errors.Is(n.Err, ErrEngineFault))
	waitNotice(t, s, NoticeRecovered)

	require.Equal(t, 2, fa.count(), "a fresh handle replaces the dead one")
	assert.Equal(t, []string{"/media/idle/loop.mp4"}, fa.engine(1).loadedPaths())
	assert.Equal(t, gen, fa.engine(1).lastGen(), "re-issue keeps the intent's generation")
}

func TestSupervisor_FatalAfterBudgetExhausted(t *testing.T) {
	fa := &factory{}
	s := NewSupervisor(fa.next, 1)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	_, err := s.Submit(Intent{Path: "/media/idle/loop.mp4", Loops: LoopInfinite})
	require.NoError(t, err)

	fa.engine(0).crash(errors.New("crash 1"))
	waitNotice(t, s, NoticeRecovered)
	fa.engine(1).crash(errors.New("crash 2"))

	n := waitNotice(t, s, NoticeFatal)
	assert.ErrorContains(t, n.Err, "unrecoverable")
}

func TestSupervisor_TeardownIsNotACrash(t *testing.T) {
	fa := &factory{}
	s := NewSupervisor(fa.next, 3)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	_, err := s.Submit(Intent{Path: "/media/idle/loop.mp4", Loops: LoopInfinite})
	require.NoError(t, err)

	s.Teardown()

	select {
	case n := <-s.Notices():
		t.Fatalf("unexpected notice after deliberate teardown: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, fa.count())
}

func TestSupervisor_LazyStartOnSubmit(t *testing.T) {
	fa := &factory{}
	s := NewSupervisor(fa.next, 3)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	s.Teardown()
	_, err := s.Submit(Intent{Path: "/media/idle/loop.mp4", Loops: LoopInfinite})
	require.NoError(t, err)

	assert.Equal(t, 2, fa.count(), "submit after teardown starts a fresh engine")
	assert.Equal(t, []string{"/media/idle/loop.mp4"}, fa.engine(1).loadedPaths())
}

func TestSupervisor_StopPlaybackClearsWantedIntent(t *testing.T) {
	fa := &factory{}
	s := NewSupervisor(fa.next, 3)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	_, err := s.Submit(Intent{Path: "/media/idle/loop.mp4", Loops: LoopInfinite})
	require.NoError(t, err)
	require.NoError(t, s.StopPlayback())
	assert.True(t, fa.engine(0).stopped)

	// A crash after stop restarts the engine but re-issues nothing.
	fa.engine(0).crash(errors.New("killed"))
	waitNotice(t, s, NoticeRecovered)
	assert.Empty(t, fa.engine(1).loadedPaths())
}
