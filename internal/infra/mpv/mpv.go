// Package mpv drives an mpv subprocess over its JSON IPC socket.
package mpv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dexterlb/mpvipc"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/NicholasTracy/CueBeam/internal/app/engine"
)

const (
	connectAttempts = 50
	connectInterval = 100 * time.Millisecond
	quitGrace       = 2 * time.Second
)

// Config represents mpv engine configuration.
type Config struct {
	Binary      string   // mpv executable, defaults to "mpv" on PATH
	Socket      string   // IPC socket path
	Flags       []string // extra command line flags
	AudioDevice string   // mpv audio-device name, empty keeps the default sink
}

// Player is an engine.Engine backed by a persistent mpv process. The
// process stays alive across clips so a loadfile swaps content without a
// window teardown in between.
type Player struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	conn   *mpvipc.Connection
	events chan engine.Event
	exited chan struct{} // closed once the subprocess has been reaped
	closed bool
	wg     sync.WaitGroup

	// Generations of issued loads, oldest first. mpv emits exactly one
	// end-file event per loaded file (eof, error, or stop when replaced),
	// in load order, so the head of the queue always identifies the clip
	// an end-file belongs to.
	pending []uint64
}

// New creates an unstarted player.
func New(cfg Config) *Player {
	if cfg.Binary == "" {
		cfg.Binary = "mpv"
	}
	if cfg.Socket == "" {
		cfg.Socket = "/tmp/cuebeam-mpv.sock"
	}
	return &Player{
		cfg:    cfg,
		events: make(chan engine.Event, 8),
		exited: make(chan struct{}),
		logger: zlog.With().Str("component", "mpv").Logger(),
	}
}

// Start spawns mpv idle and connects to its IPC socket. The socket only
// appears once mpv is up, so the dial is retried briefly.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return errors.New("mpv already started")
	}

	// A stale socket from a previous run blocks the bind.
	_ = os.Remove(p.cfg.Socket)

	args := []string{
		"--input-ipc-server=" + p.cfg.Socket,
		"--idle=yes",
		"--no-terminal",
	}
	if p.cfg.AudioDevice != "" {
		args = append(args, "--audio-device="+p.cfg.AudioDevice)
	}
	args = append(args, p.cfg.Flags...)

	cmd := exec.Command(p.cfg.Binary, args...)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to spawn %s", p.cfg.Binary)
	}
	p.logger.Info().Msgf("mpv started: pid=%d socket=%s", cmd.Process.Pid, p.cfg.Socket)

	conn, err := p.connect()
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}

	p.cmd = cmd
	p.conn = conn

	evs, stop := conn.NewEventListener()
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.pumpEvents(evs, stop)
	}()
	go func() {
		defer p.wg.Done()
		p.waitExit(cmd)
	}()
	return nil
}

func (p *Player) connect() (*mpvipc.Connection, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		conn := mpvipc.NewConnection(p.cfg.Socket)
		if lastErr = conn.Open(); lastErr == nil {
			return conn, nil
		}
		time.Sleep(connectInterval)
	}
	return nil, errors.Wrap(lastErr, "failed to connect to mpv ipc socket")
}

// Load replaces the playing file. Loop count and start offset ride along
// as file-local options so the swap is a single command.
func (p *Player) Load(path string, loops int, offset time.Duration, gen uint64) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.New("mpv not connected")
	}

	args := loadfileArgs(path, loops, offset)
	if _, err := conn.Call(args...); err != nil {
		return errors.Wrapf(err, "failed to load %s", path)
	}
	p.mu.Lock()
	p.pending = append(p.pending, gen)
	p.mu.Unlock()
	p.logger.Debug().Msgf("loadfile: path=%s gen=%d", path, gen)
	return nil
}

// loadfileArgs builds the loadfile command. The explicit "-1" insertion
// index is required since mpv 0.38, where it became the third positional
// parameter ahead of the options string.
func loadfileArgs(path string, loops int, offset time.Duration) []interface{} {
	opts := loopOption(loops)
	if offset > 0 {
		opts += fmt.Sprintf(",start=%.3f", offset.Seconds())
	}
	return []interface{}{"loadfile", path, "replace", "-1", opts}
}

func loopOption(loops int) string {
	switch {
	case loops == engine.LoopInfinite:
		return "loop-file=inf"
	case loops > 1:
		// mpv counts additional plays, not total plays.
		return fmt.Sprintf("loop-file=%d", loops-1)
	default:
		return "loop-file=no"
	}
}

// Stop unloads the current file, leaving mpv idle on screen.
func (p *Player) Stop() error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	if _, err := conn.Call("stop"); err != nil {
		return errors.Wrap(err, "failed to stop playback")
	}
	return nil
}

// Events streams EOF, error and exit events until Close.
func (p *Player) Events() <-chan engine.Event {
	return p.events
}

// Close asks mpv to quit, then kills it if it lingers.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	cmd := p.cmd
	p.mu.Unlock()

	if conn != nil {
		_, _ = conn.Call("quit")
		_ = conn.Close()
	}
	if cmd != nil && cmd.Process != nil {
		select {
		case <-p.exited:
		case <-time.After(quitGrace):
			p.logger.Warn().Msg("mpv did not quit in time, killing")
			_ = cmd.Process.Kill()
			<-p.exited
		}
	}
	p.wg.Wait()
	close(p.events)
	_ = os.Remove(p.cfg.Socket)
	return nil
}

// pumpEvents translates mpv end-file events. A loadfile replace fires
// end-file with reason "stop" for the outgoing clip, which is not a
// completion and must not surface; it still consumes that clip's
// generation from the pending queue.
func (p *Player) pumpEvents(evs chan *mpvipc.Event, stop chan struct{}) {
	defer close(stop)
	for ev := range evs {
		if ev.Name != "end-file" {
			continue
		}
		gen := p.popGen()
		switch ev.Reason {
		case "eof":
			p.emit(engine.Event{Type: engine.EventEOF, Gen: gen})
		case "error":
			p.emit(engine.Event{Type: engine.EventErrored, Gen: gen, Err: errors.Newf("mpv failed to play file (gen=%d)", gen)})
		default:
			// "stop", "redirect" and "quit" are side effects of our
			// own commands.
		}
	}
}

// popGen consumes the oldest outstanding load generation.
func (p *Player) popGen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0
	}
	gen := p.pending[0]
	p.pending = p.pending[1:]
	return gen
}

func (p *Player) waitExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	close(p.exited)

	p.mu.Lock()
	deliberate := p.closed
	p.mu.Unlock()
	if deliberate {
		return
	}

	if err == nil {
		err = errors.New("mpv exited")
	}
	p.logger.Error().Msgf("mpv exited unexpectedly: %v", err)
	p.emit(engine.Event{Type: engine.EventExited, Err: err})
}

func (p *Player) emit(ev engine.Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn().Msg("engine event dropped, consumer too slow")
	}
}
