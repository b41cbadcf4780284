package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/NicholasTracy/CueBeam/internal/domain/media"
)

// ErrSourceUnavailable marks a non-fatal source failure (hardware access or
// port bind). The source stays disabled and is retried on a backoff
// schedule; other sources are unaffected.
var ErrSourceUnavailable = errors.New("trigger source unavailable")

const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 2 * time.Minute
)

// Source is a single input modality. Run blocks until the context is done
// or the source fails; armed is invoked once the source is actually
// listening.
type Source interface {
	Type() SourceType
	Detail() string
	Dropped() uint64
	Run(ctx context.Context, armed func()) error
}

// SourceConfig selects and parameterizes one source instance.
type SourceConfig struct {
	Type     string
	Enabled  bool
	Settings map[string]any
}

// runner tracks one supervised source and its health.
type runner struct {
	src   Source
	armed bool
	err   error
}

// Manager owns the trigger sources. Each source runs in its own goroutine
// as an independent failure domain; they communicate exclusively by
// emitting onto the manager's single ordered event channel.
type Manager struct {
	mu      sync.RWMutex
	runners []*runner

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewManager builds a manager with sources created from configuration.
// Unknown source types are a configuration error, not a silent skip.
func NewManager(cfgs []SourceConfig) (*Manager, error) {
	m := &Manager{
		events: make(chan Event, 16),
		logger: zlog.With().Str("component", "trigger").Logger(),
	}

	for i, cfg := range cfgs {
		if !cfg.Enabled {
			m.logger.Info().Msgf("source disabled by config: type=%s", cfg.Type)
			continue
		}

		var (
			src Source
			err error
		)
		switch cfg.Type {
		case string(SourceGPIO):
			src, err = NewGPIOSource(cfg.Settings, m.Emit)
		case string(SourceArtNet):
			src, err = NewArtNetSource(cfg.Settings, m.Emit)
		case string(SourceSACN):
			src, err = NewSACNSource(cfg.Settings, m.Emit)
		default:
			return nil, errors.Newf("unsupported trigger source type: %s (source index %d)", cfg.Type, i)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create source (index %d, type %s)", i, cfg.Type)
		}

		m.runners = append(m.runners, &runner{src: src})
		m.logger.Info().Msgf("registered source: type=%s detail=%s", src.Type(), src.Detail())
	}

	return m, nil
}

// Events returns the single ordered event channel.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start launches all sources. Each is supervised independently: a failed
// Run is retried with exponential backoff while the source is reported as
// disarmed in health snapshots.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	for _, r := range m.runners {
		m.wg.Add(1)
		go func(r *runner) {
			defer m.wg.Done()
			m.supervise(r)
		}(r)
	}
}

// Close stops all sources and waits for them to exit.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Fire synthesizes a manual pulse for the given category and optional cue
// name, bypassing debounce. It is the entry point for the excluded web/API
// collaborator.
func (m *Manager) Fire(cat media.Category, cue string) {
	m.Emit(Event{
		Source:   SourceManual,
		Kind:     KindPulse,
		Category: cat,
		Cue:      cue,
		At:       time.Now(),
	})
}

// Emit posts an event onto the shared channel. Sends never block shutdown.
func (m *Manager) Emit(ev Event) {
	if m.ctx == nil {
		// Not started; deliver best-effort so manual fire works in tests.
		select {
		case m.events <- ev:
		default:
		}
		return
	}
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

// Health returns a snapshot of every registered source's status.
func (m *Manager) Health() []Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Health, 0, len(m.runners))
	for _, r := range m.runners {
		h := Health{
			Source:  r.src.Type(),
			Armed:   r.armed,
			Detail:  r.src.Detail(),
			Dropped: r.src.Dropped(),
		}
		if r.err != nil {
			h.LastErr = r.err.Error()
		}
		out = append(out, h)
	}
	return out
}

// supervise runs one source until shutdown, retrying failures on an
// exponential backoff. Source failures never cross the event channel; they
// become health-status updates.
func (m *Manager) supervise(r *runner) {
	delay := retryBaseDelay
	for {
		err := r.src.Run(m.ctx, func() {
			m.setHealth(r, true, nil)
			delay = retryBaseDelay
		})
		m.setHealth(r, false, err)

		if m.ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		m.logger.Warn().Msgf("source %s failed, retrying in %v: %v", r.src.Type(), delay, err)
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

func (m *Manager) setHealth(r *runner, armed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.armed = armed
	r.err = err
}
