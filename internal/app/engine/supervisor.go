// Package engine provides the media engine supervisor: exclusive owner of
// the one live rendering subprocess and its command/event channel.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// ErrEngineFault marks a rendering engine failure. The supervisor restarts
// the engine up to its retry budget before escalating to a fatal notice.
var ErrEngineFault = errors.New("engine fault")

// restartResetWindow is how long an engine must stay up before the restart
// budget resets.
const restartResetWindow = time.Minute

// LoopInfinite requests endless looping of a clip.
const LoopInfinite = -1

// Intent is a high-level playback request: play this file, this many
// times, from this offset.
type Intent struct {
	Path        string
	Loops       int // LoopInfinite or a positive count
	StartOffset time.Duration
}

// EventType classifies an event surfaced by an Engine implementation.
type EventType int

const (
	EventEOF    EventType = iota // Current clip reached end-of-file
	EventErrored                 // Current clip failed to render
	EventExited                  // Engine subprocess exited
)

// Event is a raw engine event. EOF and error events carry the generation
// given to the Load that produced the clip, so a completion that was
// already in flight when a newer Load superseded it keeps the old clip's
// identity instead of inheriting the new one's.
type Event struct {
	Type EventType
	Gen  uint64
	Err  error
}

// Engine abstracts the rendering subprocess and its IPC channel.
type Engine interface {
	// Start spawns the subprocess and connects the command channel.
	Start(ctx context.Context) error
	// Load replaces whatever is rendering with the given file. The
	// outgoing clip's teardown overlaps the new clip's decode. The
	// generation tags EOF and error events for this clip.
	Load(path string, loops int, offset time.Duration, gen uint64) error
	// Stop halts playback, keeping the subprocess alive.
	Stop() error
	// Events streams EOF, error and exit events.
	Events() <-chan Event
	// Close terminates the subprocess.
	Close() error
}

// NoticeType classifies a supervisor notice delivered to the state machine.
type NoticeType int

const (
	NoticeEOF       NoticeType = iota // Clip finished; Gen identifies which intent
	NoticeFault                       // Engine crashed or clip errored; restart in progress
	NoticeRecovered                   // Engine restarted and the wanted intent re-issued
	NoticeFatal                       // Restart budget exhausted
)

// Notice is a supervisor event for the state machine.
type Notice struct {
	Type NoticeType
	Gen  uint64 // Generation of the intent this notice belongs to
	Err  error
}

// Supervisor owns the single live engine handle. Intents are serialized:
// one in flight at a time, and a newer intent supersedes an older one
// rather than queueing behind it. The monitor mutex covers the handle and
// the in-flight command, because a restart may race a submit.
type Supervisor struct {
	mu sync.Mutex

	newEngine func() Engine
	eng       Engine
	gen       uint64
	wanted    *Intent
	wantedGen uint64
	startedAt time.Time
	restarts  int

	maxRestarts int
	notices     chan Notice
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      zerolog.Logger
}

// NewSupervisor creates a supervisor. The factory is invoked for the
// initial engine and for every restart, so a dead handle is never reused.
func NewSupervisor(factory func() Engine, maxRestarts int) *Supervisor {
	return &Supervisor{
		newEngine:   factory,
		maxRestarts: maxRestarts,
		notices:     make(chan Notice, 8),
		logger:      zlog.With().Str("component", "engine").Logger(),
	}
}

// Notices returns the supervisor's event stream.
func (s *Supervisor) Notices() <-chan Notice {
	return s.notices
}

// Start spawns the engine subprocess and begins pumping its events.
func (s *Supervisor) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startEngineLocked()
}

func (s *Supervisor) startEngineLocked() error {
	eng := s.newEngine()
	if err := eng.Start(s.ctx); err != nil {
		return errors.Wrap(err, "failed to start engine")
	}
	s.eng = eng
	s.startedAt = time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(eng)
	}()
	return nil
}

// Submit issues an intent, superseding any in-flight one, and returns the
// generation assigned to it. EOF notices carry the generation so stale
// completions of superseded clips can be discarded upstream.
func (s *Supervisor) Submit(intent Intent) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eng == nil {
		if err := s.startEngineLocked(); err != nil {
			return 0, err
		}
	}

	s.gen++
	s.wanted = &intent
	s.wantedGen = s.gen
	if err := s.eng.Load(intent.Path, intent.Loops, intent.StartOffset, s.gen); err != nil {
		return s.gen, errors.Wrapf(ErrEngineFault, "load %s: %v", intent.Path, err)
	}
	s.logger.Debug().Msgf("intent issued: gen=%d path=%s loops=%d", s.gen, intent.Path, intent.Loops)
	return s.gen, nil
}

// StopPlayback halts rendering without tearing the subprocess down and
// clears the wanted intent.
func (s *Supervisor) StopPlayback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wanted = nil
	if s.eng == nil {
		return nil
	}
	return s.eng.Stop()
}

// Teardown terminates the engine subprocess. A later Submit starts a fresh
// one lazily.
func (s *Supervisor) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wanted = nil
	if s.eng != nil {
		_ = s.eng.Close()
		s.eng = nil
	}
}

// Close shuts the supervisor down for good.
func (s *Supervisor) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Teardown()
	s.wg.Wait()
}

// pump translates one engine handle's events into notices, handling
// restarts. It exits when the handle's event channel closes.
func (s *Supervisor) pump(eng Engine) {
	for ev := range eng.Events() {
		switch ev.Type {
		case EventEOF:
			s.mu.Lock()
			s.restarts = 0
			s.mu.Unlock()
			s.send(Notice{Type: NoticeEOF, Gen: ev.Gen})

		case EventErrored:
			s.logger.Warn().Msgf("clip error: %v", ev.Err)
			s.send(Notice{Type: NoticeFault, Gen: ev.Gen, Err: errors.Wrapf(ErrEngineFault, "clip error: %v", ev.Err)})

		case EventExited:
			if s.ctx.Err() != nil {
				return
			}
			s.handleExit(ev.Err)
			return
		}
	}
}

// handleExit restarts a crashed engine and re-issues the wanted intent.
// The interruption is bounded and logged, never silently swallowed.
func (s *Supervisor) handleExit(cause error) {
	s.mu.Lock()
	if s.eng == nil {
		// Deliberate teardown, not a crash.
		s.mu.Unlock()
		return
	}
	_ = s.eng.Close()
	s.eng = nil
	if time.Since(s.startedAt) > restartResetWindow {
		s.restarts = 0
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		s.restarts++
		restarts := s.restarts
		gen := s.wantedGen
		wanted := s.wanted
		s.mu.Unlock()

		s.logger.Error().Msgf("engine exited unexpectedly (restart %d/%d): %v", restarts, s.maxRestarts, cause)
		s.send(Notice{Type: NoticeFault, Gen: gen, Err: errors.Wrapf(ErrEngineFault, "engine exited: %v", cause)})

		if restarts > s.maxRestarts {
			s.send(Notice{Type: NoticeFatal, Gen: gen, Err: errors.Wrapf(ErrEngineFault, "engine unrecoverable after %d restarts", s.maxRestarts)})
			return
		}

		s.mu.Lock()
		err := s.startEngineLocked()
		if err == nil && wanted != nil {
			err = s.eng.Load(wanted.Path, wanted.Loops, wanted.StartOffset, gen)
		}
		if err != nil && s.eng != nil {
			_ = s.eng.Close()
			s.eng = nil
		}
		s.mu.Unlock()

		if err == nil {
			s.logger.Info().Msg("engine restarted, intent re-issued")
			s.send(Notice{Type: NoticeRecovered, Gen: gen})
			return
		}
		cause = err
	}
}

// send delivers a notice without blocking shutdown.
func (s *Supervisor) send(n Notice) {
	select {
	case s.notices <- n:
	case <-s.ctx.Done():
	}
}
