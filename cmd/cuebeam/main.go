// Package main provides the cuebeam controller entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/NicholasTracy/CueBeam/internal/app/engine"
	"github.com/NicholasTracy/CueBeam/internal/app/notify"
	"github.com/NicholasTracy/CueBeam/internal/app/show"
	"github.com/NicholasTracy/CueBeam/internal/app/trigger"
	"github.com/NicholasTracy/CueBeam/internal/domain/media"
	"github.com/NicholasTracy/CueBeam/internal/domain/playlist"
	"github.com/NicholasTracy/CueBeam/internal/infra/bluetooth"
	"github.com/NicholasTracy/CueBeam/internal/infra/config"
	"github.com/NicholasTracy/CueBeam/internal/infra/logger"
	"github.com/NicholasTracy/CueBeam/internal/infra/mpv"
)

var (
	app        = kingpin.New("cuebeam", "CueBeam trigger-to-playback controller")
	configPath = app.Flag("config", "Path to config file").Default("config/cuebeam.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
	listMediaCmd   = app.Command("list-media", "List media found under the library root and exit")
)

func init() {
	app.Command("start", "Start the controller (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Bootstrap logging from flags alone so config load failures are
	// visible; the config's log section takes effect right after.
	if err := logger.Init(logSettings(nil, *verbose, *logfile)); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := logger.Init(logSettings(cfg, *verbose, *logfile)); err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}

	switch command {
	case checkConfigCmd.FullCommand():
		fmt.Println("config OK")
		return
	case listMediaCmd.FullCommand():
		if err := printMedia(cfg); err != nil {
			zlog.Fatal().Msgf("Failed to list media: %v", err)
		}
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Controller error: %v", err)
		os.Exit(1)
	}
}

// run executes the controller. A separate function ensures defers fire on
// error returns.
func run(cfg *config.Config) error {
	ctx := context.Background()

	order, err := playlist.ParseIdleOrder(cfg.Media.IdleOrder)
	if err != nil {
		return err
	}
	store, err := playlist.NewStore(cfg.Media.Root, order)
	if err != nil {
		return fmt.Errorf("failed to scan media library: %w", err)
	}
	// The appliance is a video sign first. No background loop means
	// nothing on screen, which is always a deployment mistake.
	if store.Count(media.CategoryIdle) == 0 {
		return fmt.Errorf("no idle media under %s, refusing to start with a blank screen", cfg.Media.Root)
	}
	zlog.Info().Msgf("Media library: idle=%d events=%d random=%d",
		store.Count(media.CategoryIdle), store.Count(media.CategoryEvent), store.Count(media.CategoryRandom))

	audioDevice := cfg.Engine.AudioDevice
	if cfg.Bluetooth.PreferredMAC != "" {
		bt := bluetooth.New(cfg.Bluetooth.ScanSec)
		if err := bt.EnsureConnected(ctx, cfg.Bluetooth.PreferredMAC); err != nil {
			// Fall back to the default sink rather than refusing to show video.
			zlog.Warn().Msgf("Bluetooth sink unavailable, using default audio: %v", err)
		} else {
			audioDevice = bluetooth.SinkName(cfg.Bluetooth.PreferredMAC)
		}
	}

	sup := engine.NewSupervisor(func() engine.Engine {
		return mpv.New(mpv.Config{
			Binary:      cfg.Engine.Binary,
			Socket:      cfg.Engine.Socket,
			Flags:       cfg.Engine.Flags,
			AudioDevice: audioDevice,
		})
	}, cfg.Engine.RestartMax)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start media engine: %w", err)
	}
	defer sup.Close()

	triggers, err := trigger.NewManager(triggerConfigs(cfg))
	if err != nil {
		return fmt.Errorf("failed to create trigger sources: %w", err)
	}
	triggers.Start(ctx)
	defer triggers.Close()

	status := notify.NewManager()
	defer status.Close()

	machine := show.NewMachine(show.Config{
		IdleToRandom:  time.Duration(cfg.Playback.IdleToRandomSec) * time.Second,
		RandomWindow:  time.Duration(cfg.Playback.RandomWindowSec) * time.Second,
		Heartbeat:     time.Duration(cfg.Playback.HeartbeatSec) * time.Second,
		DailyShutdown: cfg.Playback.DailyShutdownTime,
	}, store, sup, triggers, status)
	if err := machine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start state machine: %w", err)
	}
	defer machine.Close()

	zlog.Info().Msg("CueBeam running")

	// SIGHUP rescans the media tree so new uploads appear without a restart.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			if err := machine.RefreshLibrary(); err != nil {
				zlog.Warn().Msgf("Media rescan request failed: %v", err)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zlog.Info().Msgf("Received %s, shutting down...", sig)
	case <-machine.ShutdownRequested():
		zlog.Info().Msg("Daily shutdown reached, shutting down...")
	}

	zlog.Info().Msg("Controller stopped")
	return nil
}

// logSettings merges the config's log section with the command line flags.
// Flags win: --verbose forces debug, --logfile forces file output.
func logSettings(cfg *config.Config, verbose bool, logfile string) logger.Config {
	out := logger.Config{Output: "stdout", Level: "info"}
	if cfg != nil {
		out = logger.Config{
			Output: cfg.Log.Output,
			Level:  cfg.Log.Level,
			File:   cfg.Log.File,
		}
	}
	if verbose {
		out.Level = "debug"
	}
	if logfile != "" {
		out.Output = "file"
		out.File = logfile
	}
	return out
}

func triggerConfigs(cfg *config.Config) []trigger.SourceConfig {
	out := make([]trigger.SourceConfig, 0, len(cfg.Triggers))
	for _, t := range cfg.Triggers {
		out = append(out, trigger.SourceConfig{
			Type:     t.Type,
			Enabled:  t.Enabled,
			Settings: t.Settings,
		})
	}
	return out
}

// printMedia lists the scanned library, one clip per line.
func printMedia(cfg *config.Config) error {
	order, err := playlist.ParseIdleOrder(cfg.Media.IdleOrder)
	if err != nil {
		return err
	}
	store, err := playlist.NewStore(cfg.Media.Root, order)
	if err != nil {
		return err
	}
	for _, cat := range []media.Category{media.CategoryIdle, media.CategoryEvent, media.CategoryRandom} {
		fmt.Printf("%s (%d):\n", cat, store.Count(cat))
		for _, e := range store.Entries(cat) {
			fmt.Printf("  %-30s %s\n", e.CueName(), e.Path)
		}
	}
	return nil
}
