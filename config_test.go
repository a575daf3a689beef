package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tagpulse.cfg")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
reader:
  type: fm503
  device: /dev/ttyUSB0
solenoids:
  driver: none
  channels:
    - name: solenoid_1
      pin: 17
    - name: solenoid_2
      pin: 18
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 500*time.Millisecond, cfg.PulseDuration())
	require.Equal(t, 100*time.Millisecond, cfg.PollInterval())
	require.Equal(t, 2*time.Second, cfg.Cooldown())
	require.Equal(t, "tagpulse", cfg.ClientID)
	require.Equal(t, time.Second, cfg.Reader.ReadTimeout())
}

func TestLoadConfigExplicitValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
reader:
  type: wiegand
  device: /dev/serial0
  baud: 9600
  read_timeout_ms: 250
solenoids:
  driver: gpiocdev
  chip: gpiochip0
  channels:
    - name: latch
      pin: 22
client_id: dock-3
pulse_secs: 1.5
poll_secs: 0.25
cooldown_secs: 5
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 1500*time.Millisecond, cfg.PulseDuration())
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	require.Equal(t, 5*time.Second, cfg.Cooldown())
	require.Equal(t, "dock-3", cfg.ClientID)
}

// TestLoadConfigZeroCooldown distinguishes an explicit zero (dedup off)
// from an absent field (default window).
func TestLoadConfigZeroCooldown(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
solenoids:
  channels:
    - name: solenoid_1
      pin: 17
cooldown_secs: 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), cfg.Cooldown())
}

func TestLoadConfigNoChannels(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
reader:
  device: /dev/ttyUSB0
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigTxPowerRange(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
reader:
  device: /dev/ttyUSB0
  tx_power: 30
solenoids:
  channels:
    - name: solenoid_1
      pin: 17
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.cfg"))
	require.Error(t, err)
}
