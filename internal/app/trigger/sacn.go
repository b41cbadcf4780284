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
	"golang.org/x/net/ipv4"

	"github.com/NicholasTracy/CueBeam/internal/domain/media"
)

// E1.31 layer offsets. The DMX start code sits at the head of the DMP
// property values; channel 1 follows it.
const (
	sacnRootVector    = 0x00000004
	sacnFramingVector = 0x00000002
	sacnDMPVector     = 0x02
	sacnUniverseOff   = 113
	sacnOptionsOff    = 112
	sacnDMPVectorOff  = 117
	sacnCountOff      = 123
	sacnStartCodeOff  = 125
	sacnMinLen        = 126

	sacnOptPreview    = 0x80
	sacnOptTerminated = 0x40
)

var sacnACNID = []byte("ASC-E1.17\x00\x00\x00")

// SACNSource listens for sACN (E1.31) data packets, unicast or multicast,
// and applies the same rising-threshold rule as the Art-Net source.
type SACNSource struct {
	cfg     SACNSettings
	emit    func(Event)
	hyst    *Hysteresis
	dropped atomic.Uint64
	logger  zerolog.Logger
}

// NewSACNSource builds an sACN source from a raw settings map.
func NewSACNSource(settings map[string]any, emit func(Event)) (*SACNSource, error) {
	var cfg SACNSettings
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "sacn settings")
	}
	return &SACNSource{
		cfg:    cfg,
		emit:   emit,
		hyst:   NewHysteresis(cfg.Threshold),
		logger: zlog.With().Str("component", "sacn").Logger(),
	}, nil
}

// Type returns the source type.
func (s *SACNSource) Type() SourceType { return SourceSACN }

// Detail returns a human-readable description of what the source watches.
func (s *SACNSource) Detail() string {
	mode := "unicast"
	if s.cfg.Multicast {
		mode = "multicast"
	}
	return fmt.Sprintf("%s:%d %s u%d/ch%d>=%d", s.cfg.ListenHost, s.cfg.Port, mode, s.cfg.Universe, s.cfg.Channel, s.cfg.Threshold)
}

// Dropped returns the count of malformed or irrelevant packets discarded.
func (s *SACNSource) Dropped() uint64 { return s.dropped.Load() }

// Run binds the socket, joins the universe multicast group when configured,
// and reads packets until the context is done.
func (s *SACNSource) Run(ctx context.Context, armed func()) error {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf("%s:%d", s.cfg.ListenHost, s.cfg.Port))
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "sacn bind :%d: %v", s.cfg.Port, err)
	}
	defer conn.Close()

	if s.cfg.Multicast {
		if err := s.joinGroup(conn); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	armed()
	s.logger.Info().Msgf("listening on %s (universe=%d channel=%d threshold=%d)",
		s.Detail(), s.cfg.Universe, s.cfg.Channel, s.cfg.Threshold)

	buf := make([]byte, 1024)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(ErrSourceUnavailable, err.Error())
		}
		s.handlePacket(buf[:n])
	}
}

// joinGroup joins the E1.31 multicast group for the configured universe:
// 239.255.<universe_hi>.<universe_lo>.
func (s *SACNSource) joinGroup(conn net.PacketConn) error {
	var ifi *net.Interface
	if s.cfg.Interface != "" {
		found, err := net.InterfaceByName(s.cfg.Interface)
		if err != nil {
			return errors.Wrapf(ErrSourceUnavailable, "sacn interface %s: %v", s.cfg.Interface, err)
		}
		ifi = found
	}

	group := net.IPv4(239, 255, byte(s.cfg.Universe>>8), byte(s.cfg.Universe&0xff))
	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "sacn join %s: %v", group, err)
	}
	s.logger.Debug().Msgf("joined multicast group %s", group)
	return nil
}

// handlePacket validates the root, framing and DMP layers and feeds the
// hysteresis latch. Sequence numbers are informational only; the latest
// observed channel value wins.
func (s *SACNSource) handlePacket(pkt []byte) {
	universe, data, options, ok := parseE131(pkt)
	if !ok {
		s.dropped.Add(1)
		return
	}
	if universe != s.cfg.Universe || options&(sacnOptPreview|sacnOptTerminated) != 0 {
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
			Source:   SourceSACN,
			Kind:     KindLevelCross,
			Category: media.CategoryEvent,
			Value:    value,
			At:       time.Now(),
		})
	}
}

// parseE131 decodes an E1.31 data packet: root layer (preamble, ACN packet
// identifier, root vector), framing layer (vector, universe, options) and
// DMP layer (vector, property value count, DMX start code, slot values).
func parseE131(pkt []byte) (universe int, data []byte, options byte, ok bool) {
	if len(pkt) < sacnMinLen {
		return 0, nil, 0, false
	}
	if binary.BigEndian.Uint16(pkt[0:2]) != 0x0010 || binary.BigEndian.Uint16(pkt[2:4]) != 0x0000 {
		return 0, nil, 0, false
	}
	if string(pkt[4:16]) != string(sacnACNID) {
		return 0, nil, 0, false
	}
	if binary.BigEndian.Uint32(pkt[18:22]) != sacnRootVector {
		return 0, nil, 0, false
	}
	if binary.BigEndian.Uint32(pkt[40:44]) != sacnFramingVector {
		return 0, nil, 0, false
	}
	if pkt[sacnDMPVectorOff] != sacnDMPVector {
		return 0, nil, 0, false
	}

	// Property value count includes the DMX start code slot.
	count := int(binary.BigEndian.Uint16(pkt[sacnCountOff : sacnCountOff+2]))
	if count < 1 || count > 513 || len(pkt) < sacnStartCodeOff+count {
		return 0, nil, 0, false
	}
	if pkt[sacnStartCodeOff] != 0x00 {
		// Not a dimmer data start code.
		return 0, nil, 0, false
	}

	universe = int(binary.BigEndian.Uint16(pkt[sacnUniverseOff : sacnUniverseOff+2]))
	options = pkt[sacnOptionsOff]
	return universe, pkt[sacnStartCodeOff+1 : sacnStartCodeOff+count], options, true
}
