// Package bluetooth manages the preferred audio sink via bluetoothctl.
package bluetooth

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const connectAttempts = 3

// Device is a paired or discovered Bluetooth device.
type Device struct {
	MAC  string
	Name string
}

// Client shells out to bluetoothctl. The appliance targets stock Raspberry
// Pi OS where bluetoothctl is always present, so there is no daemon IPC
// dependency to carry.
type Client struct {
	scanWindow time.Duration
	logger     zerolog.Logger
}

// New creates a bluetoothctl client. scanSec bounds the discovery window
// used when the preferred sink is not yet paired.
func New(scanSec int) *Client {
	if scanSec <= 0 {
		scanSec = 10
	}
	return &Client{
		scanWindow: time.Duration(scanSec) * time.Second,
		logger:     zlog.With().Str("component", "bluetooth").Logger(),
	}
}

// Devices lists known devices.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	out, err := c.run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(out), nil
}

// IsConnected reports whether the device with the given MAC is connected.
func (c *Client) IsConnected(ctx context.Context, mac string) (bool, error) {
	out, err := c.run(ctx, "info", mac)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "Connected: yes" {
			return true, nil
		}
	}
	return false, nil
}

// EnsureConnected connects the preferred sink, scanning first if the
// controller has never seen it. Returns nil if already connected.
func (c *Client) EnsureConnected(ctx context.Context, mac string) error {
	if ok, err := c.IsConnected(ctx, mac); err == nil && ok {
		return nil
	}

	if _, err := c.run(ctx, "power", "on"); err != nil {
		return errors.Wrap(err, "failed to power on controller")
	}

	known, err := c.Devices(ctx)
	if err != nil {
		return err
	}
	if !containsMAC(known, mac) {
		c.logger.Info().Msgf("sink %s not paired, scanning for %s", mac, c.scanWindow)
		scanCtx, cancel := context.WithTimeout(ctx, c.scanWindow)
		_, _ = c.run(scanCtx, "--timeout", strconv.Itoa(int(c.scanWindow.Seconds())), "scan", "on")
		cancel()
	}

	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		if _, lastErr = c.run(ctx, "connect", mac); lastErr == nil {
			c.logger.Info().Msgf("connected to sink %s", mac)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return errors.Wrapf(lastErr, "failed to connect to sink %s", mac)
}

// SinkName returns the mpv audio-device name for a connected A2DP sink.
func SinkName(mac string) string {
	return "pulse/bluez_sink." + strings.ReplaceAll(strings.ToUpper(mac), ":", "_") + ".a2dp_sink"
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "bluetoothctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "bluetoothctl %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// parseDevices reads "Device <MAC> <Name>" lines.
func parseDevices(out string) []Device {
	var devices []Device
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.SplitN(strings.TrimSpace(sc.Text()), " ", 3)
		if len(fields) < 2 || fields[0] != "Device" {
			continue
		}
		d := Device{MAC: fields[1]}
		if len(fields) == 3 {
			d.Name = fields[2]
		}
		devices = append(devices, d)
	}
	return devices
}

func containsMAC(devices []Device, mac string) bool {
	for _, d := range devices {
		if strings.EqualFold(d.MAC, mac) {
			return true
		}
	}
	return false
}
