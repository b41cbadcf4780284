package show

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/NicholasTracy/CueBeam/internal/app/engine"
	"github.com/NicholasTracy/CueBeam/internal/app/notify"
	"github.com/NicholasTracy/CueBeam/internal/app/trigger"
	"github.com/NicholasTracy/CueBeam/internal/domain/media"
	"github.com/NicholasTracy/CueBeam/internal/domain/playlist"
)

// ErrNotRunning is returned by commands issued after Close.
var ErrNotRunning = errors.New("machine not running")

// Config holds machine configuration.
type Config struct {
	IdleToRandom  time.Duration // Idle time before a random clip plays, 0 disables
	RandomWindow  time.Duration // How long random clips chain before idle resumes, 0 means one clip
	Heartbeat     time.Duration // Status broadcast interval, 0 disables
	DailyShutdown string        // "MM HH" cron-less wall clock "HH:MM", empty disables
}

// Machine is the single consumer of trigger events and engine notices.
// Everything that mutates playback state funnels through one goroutine, so
// two triggers arriving together resolve in arrival order with no locks on
// the hot path.
type Machine struct {
	cfg      Config
	store    *playlist.Store
	sup      *engine.Supervisor
	triggers *trigger.Manager
	status   *notify.Manager
	logger   zerolog.Logger

	cmds         chan func()
	shutdown     chan struct{}
	shutdownOnce sync.Once
	sched        *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Owned by the run goroutine.
	state       State
	current     media.Entry
	gen         uint64
	since       time.Time
	randomUntil time.Time
	idleTimer   *time.Timer

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewMachine wires the machine to its collaborators. Call Start to begin
// playback.
func NewMachine(cfg Config, store *playlist.Store, sup *engine.Supervisor, triggers *trigger.Manager, status *notify.Manager) *Machine {
	return &Machine{
		cfg:      cfg,
		store:    store,
		sup:      sup,
		triggers: triggers,
		status:   status,
		cmds:     make(chan func(), 4),
		shutdown: make(chan struct{}),
		logger:   zlog.With().Str("component", "show").Logger(),
	}
}

// ShutdownRequested is closed when the configured daily shutdown time is
// reached. The caller owns process exit.
func (m *Machine) ShutdownRequested() <-chan struct{} {
	return m.shutdown
}

// Start enters the idle state and begins consuming events.
func (m *Machine) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.scheduleDailyShutdown(); err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run()
	}()
	return nil
}

// Close stops the machine and tears playback down.
func (m *Machine) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.sched != nil {
		m.sched.Stop()
	}
	m.sup.Teardown()
}

// Fire injects a manual trigger, same path as any external source.
func (m *Machine) Fire(category media.Category, cue string) {
	m.triggers.Fire(category, cue)
}

// Stop halts playback until Resume. Triggers arriving while stopped are
// discarded.
func (m *Machine) Stop() error {
	return m.do(func() {
		m.stopTimersLocked()
		if err := m.sup.StopPlayback(); err != nil {
			m.logger.Warn().Msgf("stop playback: %v", err)
		}
		m.transition(StateStopped, media.Entry{})
	})
}

// Resume restarts the idle loop after Stop.
func (m *Machine) Resume() error {
	return m.do(func() {
		if m.state != StateStopped {
			return
		}
		m.enterIdle()
	})
}

// RefreshLibrary rescans the media tree. It runs on the machine goroutine
// so a scan never races a clip transition.
func (m *Machine) RefreshLibrary() error {
	return m.do(func() {
		if err := m.store.Refresh(); err != nil {
			m.logger.Error().Msgf("media rescan failed: %v", err)
			return
		}
		m.logger.Info().Msgf("media library rescanned: idle=%d events=%d random=%d",
			m.store.Count(media.CategoryIdle), m.store.Count(media.CategoryEvent), m.store.Count(media.CategoryRandom))
	})
}

// Snapshot returns the current machine state.
func (m *Machine) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

func (m *Machine) do(fn func()) error {
	if m.ctx == nil {
		return ErrNotRunning
	}
	select {
	case m.cmds <- fn:
		return nil
	case <-m.ctx.Done():
		return ErrNotRunning
	}
}

func (m *Machine) scheduleDailyShutdown() error {
	if m.cfg.DailyShutdown == "" {
		return nil
	}
	at, err := time.Parse("15:04", m.cfg.DailyShutdown)
	if err != nil {
		return errors.Wrapf(err, "bad daily shutdown time %q", m.cfg.DailyShutdown)
	}

	m.sched = cron.New()
	if _, err = m.sched.AddFunc(at.Format("04 15")+" * * *", m.requestShutdown); err != nil {
		return errors.Wrap(err, "failed to schedule daily shutdown")
	}
	m.sched.Start()
	return nil
}

// requestShutdown halts playback through the machine loop, so status
// reporting sees the Stopped transition before the host exits.
func (m *Machine) requestShutdown() {
	m.logger.Info().Msg("daily shutdown time reached")
	err := m.do(func() {
		m.stopTimersLocked()
		if err := m.sup.StopPlayback(); err != nil {
			m.logger.Warn().Msgf("stop playback: %v", err)
		}
		m.transition(StateStopped, media.Entry{})
		m.signalShutdown()
	})
	if err != nil {
		// Machine already gone; still let the host exit.
		m.signalShutdown()
	}
}

func (m *Machine) signalShutdown() {
	m.shutdownOnce.Do(func() { close(m.shutdown) })
}

// run is the machine's only state-mutating goroutine.
func (m *Machine) run() {
	var heartbeat <-chan time.Time
	if m.cfg.Heartbeat > 0 {
		t := time.NewTicker(m.cfg.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	m.enterIdle()

	for {
		select {
		case <-m.ctx.Done():
			m.stopTimersLocked()
			return

		case ev := <-m.triggers.Events():
			m.handleTrigger(ev)

		case n := <-m.sup.Notices():
			m.handleNotice(n)

		case <-m.idleTimerC():
			m.idleTimer = nil
			m.enterRandomWindow()

		case <-heartbeat:
			m.broadcast()

		case fn := <-m.cmds:
			fn()
		}
	}
}

func (m *Machine) idleTimerC() <-chan time.Time {
	if m.idleTimer == nil {
		return nil
	}
	return m.idleTimer.C
}

func (m *Machine) stopTimersLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

// enterIdle submits the next background clip. A lone idle clip loops
// inside the engine so the screen never blanks between repeats.
func (m *Machine) enterIdle() {
	m.stopTimersLocked()

	entry, err := m.store.NextIdle()
	if err != nil {
		m.logger.Error().Msgf("no idle media: %v", err)
		_ = m.sup.StopPlayback()
		m.transition(StateStopped, media.Entry{})
		return
	}

	loops := 1
	if m.store.Count(media.CategoryIdle) == 1 {
		loops = engine.LoopInfinite
	}
	m.submit(entry, loops)
	m.transition(StateIdle, entry)

	if m.cfg.IdleToRandom > 0 && m.store.Count(media.CategoryRandom) > 0 {
		m.idleTimer = time.NewTimer(m.cfg.IdleToRandom)
	}
}

// enterRandomWindow opens the random window and plays its first clip.
func (m *Machine) enterRandomWindow() {
	if m.state != StateIdle {
		return
	}
	if m.cfg.RandomWindow > 0 {
		m.randomUntil = time.Now().Add(m.cfg.RandomWindow)
	} else {
		m.randomUntil = time.Time{}
	}
	m.playRandom()
}

func (m *Machine) playRandom() {
	entry, err := m.store.PickRandom()
	if err != nil {
		m.logger.Warn().Msgf("no random media: %v", err)
		m.enterIdle()
		return
	}
	m.stopTimersLocked()
	m.submit(entry, 1)
	m.transition(StatePlayingRandom, entry)
}

func (m *Machine) handleTrigger(ev trigger.Event) {
	if m.state == StateStopped {
		m.logger.Debug().Msgf("trigger from %s discarded while stopped", ev.Source)
		return
	}

	switch ev.Category {
	case media.CategoryRandom:
		m.randomUntil = time.Time{}
		m.playRandom()

	default:
		entry, err := m.resolveEvent(ev)
		if err != nil {
			m.logger.Warn().Msgf("trigger from %s unresolvable: %v", ev.Source, err)
			return
		}
		// Re-triggering the clip that is already playing restarts
		// nothing; the engine keeps rendering it.
		if m.state == StatePlayingEvent && m.current.Path == entry.Path {
			m.logger.Debug().Msgf("duplicate trigger for %s ignored", entry.Name())
			return
		}
		m.stopTimersLocked()
		m.submit(entry, 1)
		m.transition(StatePlayingEvent, entry)
	}
}

func (m *Machine) resolveEvent(ev trigger.Event) (media.Entry, error) {
	if ev.Cue != "" {
		return m.store.Cue(ev.Cue)
	}
	return m.store.PickEvent()
}

func (m *Machine) handleNotice(n engine.Notice) {
	switch n.Type {
	case engine.NoticeEOF:
		if n.Gen != m.gen {
			// Completion of a clip we already replaced.
			m.logger.Debug().Msgf("stale eof discarded: gen=%d current=%d", n.Gen, m.gen)
			return
		}
		m.handleEOF()

	case engine.NoticeFault:
		m.logger.Warn().Msgf("engine fault: %v", n.Err)
		m.broadcast()

	case engine.NoticeRecovered:
		m.logger.Info().Msg("engine recovered")
		m.broadcast()

	case engine.NoticeFatal:
		m.logger.Error().Msgf("engine unrecoverable, stopping show: %v", n.Err)
		m.stopTimersLocked()
		m.transition(StateStopped, media.Entry{})
	}
}

func (m *Machine) handleEOF() {
	switch m.state {
	case StatePlayingEvent:
		m.enterIdle()

	case StatePlayingRandom:
		if !m.randomUntil.IsZero() && time.Now().Before(m.randomUntil) {
			m.playRandom()
			return
		}
		m.enterIdle()

	case StateIdle:
		// Sequential idle playback advances clip by clip.
		m.enterIdle()
	}
}

func (m *Machine) submit(entry media.Entry, loops int) {
	gen, err := m.sup.Submit(engine.Intent{Path: entry.Path, Loops: loops})
	if err != nil {
		// The supervisor restarts the engine and re-issues the intent;
		// the generation is still ours to track.
		m.logger.Warn().Msgf("submit %s: %v", entry.Name(), err)
	}
	m.gen = gen
}

func (m *Machine) transition(state State, entry media.Entry) {
	if m.state != state || m.current.Path != entry.Path {
		m.logger.Info().Msgf("state: %s -> %s clip=%s", m.state, state, entry.Name())
	}
	m.state = state
	m.current = entry
	m.since = time.Now()

	snap := Snapshot{State: state, Clip: entry.Path, Since: m.since}
	if state == StatePlayingEvent {
		snap.Cue = entry.CueName()
	}
	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()

	m.broadcast()
}

func (m *Machine) broadcast() {
	if m.status == nil {
		return
	}
	snap := m.Snapshot()
	m.status.Broadcast(notify.Status{
		State:   snap.State.String(),
		Clip:    snap.Clip,
		Cue:     snap.Cue,
		Since:   snap.Since,
		Sources: m.triggers.Health(),
	})
}
