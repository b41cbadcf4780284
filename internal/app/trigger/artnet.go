package trigger

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/NicholasTracy/CueBeam/internal/domain/media"
)

const (
	artnetHeaderLen = 18
	opDMX           = 0x5000
)

var artnetID = []byte("Art-Net\x00")

// ArtNetSource listens for ArtDMX packets and emits a level-cross event on
// each rising threshold crossing of the configured universe/channel.
type ArtNetSource struct {
	cfg     ArtNetSettings
	emit    func(Event)
	hyst    *Hysteresis
	dropped atomic.Uint64
	logger  zerolog.Logger
}

// NewArtNetSource builds an Art-Net source from a raw settings map.
func NewArtNetSource(settings map[string]any, emit func(Event)) (*ArtNetSource, error) {
	var cfg ArtNetSettings
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "artnet settings")
	}
	return &ArtNetSource{
		cfg:    cfg,
		emit:   emit,
		hyst:   NewHysteresis(cfg.Threshold),
		logger: zlog.With().Str("component", "artnet").Logger(),
	}, nil
}

// Type returns the source type.
func (s *ArtNetSource) Type() SourceType { return SourceArtNet }

// Detail returns a human-readable description of what the source watches.
func (s *ArtNetSource) Detail() string {
	return fmt.Sprintf("%s:%d u%d/ch%d>=%d", s.cfg.ListenHost, s.cfg.Port, s.cfg.Universe, s.cfg.Channel, s.cfg.Threshold)
}

// Dropped returns the count of malformed or irrelevant packets discarded.
func (s *ArtNetSource) Dropped() uint64 { return s.dropped.Load() }

// Run binds the UDP socket and reads packets until the context is done.
// A bind failure is returned for the manager to retry on backoff.
func (s *ArtNetSource) Run(ctx context.Context, armed func()) error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.ListenHost), Port: s.cfg.Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "artnet bind %s: %v", addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	armed()
	s.logger.Info().Msgf("listening on %s (universe=%d channel=%d threshold=%d)",
		addr, s.cfg.Universe, s.cfg.Channel, s.cfg.Threshold)

	buf := make([]byte, 1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(ErrSourceUnavailable, err.Error())
		}
		s.handlePacket(buf[:n])
	}
}

// handlePacket validates one inbound datagram and feeds the hysteresis
// latch. Malformed or irrelevant packets are dropped silently, counted for
// diagnostics.
func (s *ArtNetSource) handlePacket(pkt []byte) {
	universe, data, ok := parseArtDMX(pkt)
	if !ok {
		s.dropped.Add(1)
		return
	}
	if universe != s.cfg.Universe {
		return
	}
	if s.cfg.Channel > len(data) {
		s.dropped.Add(1)
		return
	}

	value := int(data[s.cfg.Channel-1])
	if s.hyst.Observe(value) {
		s.logger.Debug().Msgf("threshold crossed: universe=%d channel=%d value=%d", universe, s.cfg.Channel, value)
		s.emit(Event{
			Source:   SourceArtNet,
			Kind:     KindLevelCross,
			Category: media.CategoryEvent,
			Value:    value,
			At:       time.Now(),
		})
	}
}

// parseArtDMX decodes an ArtDMX packet: 8-byte "Art-Net\0" signature,
// little-endian opcode, protocol version, sequence and physical port
// (informational only), SubUni/Net universe, big-endian data length, then
// 2-512 bytes of channel data.
func parseArtDMX(pkt []byte) (universe int, data []byte, ok bool) {
	if len(pkt) < artnetHeaderLen+2 {
		return 0, nil, false
	}
	if string(pkt[0:8]) != string(artnetID) {
		return 0, nil, false
	}
	if binary.LittleEndian.Uint16(pkt[8:10]) != opDMX {
		return 0, nil, false
	}
	if int(pkt[10])<<8|int(pkt[11]) < 14 {
		return 0, nil, false
	}

	universe = int(pkt[14]) | int(pkt[15])<<8
	length := int(pkt[16])<<8 | int(pkt[17])
	if length < 2 || length > 512 || len(pkt) < artnetHeaderLen+length {
		return 0, nil, false
	}
	return universe, pkt[artnetHeaderLen : artnetHeaderLen+length], true
}
