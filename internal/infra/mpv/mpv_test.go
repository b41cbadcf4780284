package mpv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NicholasTracy/CueBeam/internal/app/engine"
)

func TestLoopOption(t *testing.T) {
	tests := []struct {
		name  string
		loops int
		want  string
	}{
		{"infinite", engine.LoopInfinite, "loop-file=inf"},
		{"single play", 1, "loop-file=no"},
		{"zero treated as single", 0, "loop-file=no"},
		{"three plays means two repeats", 3, "loop-file=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loopOption(tt.loops))
		})
	}
}

func TestLoadfileArgs(t *testing.T) {
	assert.Equal(t,
		[]interface{}{"loadfile", "/media/idle/loop.mp4", "replace", "-1", "loop-file=inf"},
		loadfileArgs("/media/idle/loop.mp4", engine.LoopInfinite, 0))

	// The "-1" insertion index must stay ahead of the options string;
	// mpv 0.38 made it the third positional parameter.
	assert.Equal(t,
		[]interface{}{"loadfile", "/media/events/chime.mp4", "replace", "-1", "loop-file=no,start=1.500"},
		loadfileArgs("/media/events/chime.mp4", 1, 1500*time.Millisecond))
}

func TestPopGen_ConsumesOldestFirst(t *testing.T) {
	p := New(Config{})
	p.pending = []uint64{3, 4}

	assert.Equal(t, uint64(3), p.popGen())
	assert.Equal(t, uint64(4), p.popGen())
	assert.Equal(t, uint64(0), p.popGen(), "no outstanding load")
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, "mpv", p.cfg.Binary)
	assert.NotEmpty(t, p.cfg.Socket)
}
