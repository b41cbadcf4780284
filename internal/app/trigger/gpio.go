package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/warthog618/go-gpiocdev"

	"github.com/NicholasTracy/CueBeam/internal/domain/media"
)

// GPIOSource watches a single input line for edge transitions matching the
// configured polarity and emits a debounced pulse per qualifying edge.
// Failure to access the line is non-fatal; the manager retries on backoff
// while the rest of the system keeps running.
type GPIOSource struct {
	cfg      GPIOSettings
	emit     func(Event)
	debounce *Debouncer
	logger   zerolog.Logger
}

// NewGPIOSource builds a GPIO source from a raw settings map.
func NewGPIOSource(settings map[string]any, emit func(Event)) (*GPIOSource, error) {
	var cfg GPIOSettings
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "gpio settings")
	}
	return &GPIOSource{
		cfg:      cfg,
		emit:     emit,
		debounce: NewDebouncer(time.Duration(cfg.DebounceMs) * time.Millisecond),
		logger:   zlog.With().Str("component", "gpio").Logger(),
	}, nil
}

// Type returns the source type.
func (s *GPIOSource) Type() SourceType { return SourceGPIO }

// Detail returns a human-readable description of what the source watches.
func (s *GPIOSource) Detail() string {
	return fmt.Sprintf("%s pin=%d pull=%s edge=%s", s.cfg.Chip, s.cfg.Pin, s.cfg.Pull, s.cfg.Edge)
}

// Dropped returns zero; the GPIO source has no packet parsing to fail.
func (s *GPIOSource) Dropped() uint64 { return 0 }

// Run requests the line with the configured bias and edge detection, then
// blocks until the context is done. Edges are delivered by the kernel to
// the event handler.
func (s *GPIOSource) Run(ctx context.Context, armed func()) error {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithEventHandler(s.handleEdge),
	}

	switch s.cfg.Pull {
	case "up":
		opts = append(opts, gpiocdev.WithPullUp)
	case "down":
		opts = append(opts, gpiocdev.WithPullDown)
	default:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}

	switch s.cfg.Edge {
	case "rising":
		opts = append(opts, gpiocdev.WithRisingEdge)
	case "both":
		opts = append(opts, gpiocdev.WithBothEdges)
	default:
		opts = append(opts, gpiocdev.WithFallingEdge)
	}

	line, err := gpiocdev.RequestLine(s.cfg.Chip, s.cfg.Pin, opts...)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "gpio %s pin %d: %v", s.cfg.Chip, s.cfg.Pin, err)
	}
	defer line.Close()

	armed()
	s.logger.Info().Msgf("watching %s (debounce=%dms)", s.Detail(), s.cfg.DebounceMs)

	<-ctx.Done()
	return nil
}

// handleEdge converts a kernel line event into a pulse. Raw edges inside
// the debounce window of a clean edge are discarded, not delayed.
func (s *GPIOSource) handleEdge(gpiocdev.LineEvent) {
	now := time.Now()
	if !s.debounce.Allow(now) {
		return
	}
	s.emit(Event{
		Source:   SourceGPIO,
		Kind:     KindPulse,
		Category: media.CategoryEvent,
		At:       now,
	})
}
