// Package solenoid owns the output channel set. All channel state changes
// go through the Controller; nothing else touches the pins.
package solenoid

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownChannel is returned when a pulse names a channel outside the
// configured set.
var ErrUnknownChannel = errors.New("unknown channel")

// ChannelConfig maps a named channel to a physical output pin.
type ChannelConfig struct {
	Name string `yaml:"name"`
	Pin  int    `yaml:"pin"`
}

// Handlers holds callback functions for controller events.
type Handlers struct {
	// OnFault is called when a pin write fails outside a Pulse call (the
	// auto-release timer path), after a best-effort deactivate-all. The
	// physical state is unknown at that point; callers should shut down.
	// Called without the controller lock held; may be nil.
	OnFault func(error)
}

// Config holds the solenoid bank configuration.
type Config struct {
	Driver   string          `yaml:"driver"` // "govattu", "gpiocdev", "rpio", "none"
	Chip     string          `yaml:"chip"`   // gpiocdev chip name, default "gpiochip0"
	Channels []ChannelConfig `yaml:"channels"`
}

type channel struct {
	pin    int
	active bool
	timer  *time.Timer
}

// Controller drives a fixed set of solenoid channels with bounded-duration
// pulses. Channel state is serialized behind a single mutex; the auto
// release timers go through the same lock.
type Controller struct {
	mu       sync.Mutex
	drv      PinDriver
	channels map[string]*channel
	names    []string
	onFault  func(error)
	log      *zap.SugaredLogger
}

// NewController configures every channel pin as an output and drives it
// low. On a mid-configuration failure, already-configured pins are driven
// low again before the error is returned.
func NewController(drv PinDriver, cfgs []ChannelConfig, handlers Handlers, log *zap.SugaredLogger) (*Controller, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("no channels configured")
	}

	c := &Controller{
		drv:      drv,
		channels: make(map[string]*channel, len(cfgs)),
		onFault:  handlers.OnFault,
		log:      log,
	}

	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, errors.New("channel with empty name")
		}
		if _, dup := c.channels[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate channel %q", cfg.Name)
		}

		if err := drv.ConfigureOutput(cfg.Pin); err != nil {
			c.deactivateAllLocked()
			return nil, fmt.Errorf("configure %s (pin %d): %w", cfg.Name, cfg.Pin, err)
		}
		if err := drv.Set(cfg.Pin, false); err != nil {
			c.deactivateAllLocked()
			return nil, fmt.Errorf("clear %s (pin %d): %w", cfg.Name, cfg.Pin, err)
		}

		c.channels[cfg.Name] = &channel{pin: cfg.Pin}
		c.names = append(c.names, cfg.Name)
		log.Infow("channel configured", "channel", cfg.Name, "pin", cfg.Pin)
	}

	return c, nil
}

// Names returns the configured channel names in configuration order.
func (c *Controller) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Active reports whether the named channel is currently asserted.
func (c *Controller) Active(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	return ok && ch.active
}

// Pulse asserts the named channel and schedules its release after d.
// Pulsing an already-active channel restarts the pending release timer;
// timers never stack. A pin write failure forces a best-effort
// deactivate-all, since the physical state is no longer trustworthy.
func (c *Controller) Pulse(name string, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}

	if err := c.drv.Set(ch.pin, true); err != nil {
		c.deactivateAllLocked()
		return fmt.Errorf("assert %s (pin %d): %w", name, ch.pin, err)
	}
	ch.active = true

	if ch.timer != nil {
		ch.timer.Stop()
	}
	ch.timer = time.AfterFunc(d, func() { c.release(name) })

	c.log.Debugw("pulse", "channel", name, "pin", ch.pin, "duration", d)
	return nil
}

// PulseAll pulses every configured channel for d.
func (c *Controller) PulseAll(d time.Duration) error {
	for _, name := range c.names {
		if err := c.Pulse(name, d); err != nil {
			return err
		}
	}
	return nil
}

// release is the timer callback returning a channel to its inactive state.
// A failed write here means the channel may still be physically energized:
// everything is driven low best-effort and the fault is surfaced through
// OnFault so the process can take the shutdown path.
func (c *Controller) release(name string) {
	c.mu.Lock()

	ch := c.channels[name]
	ch.timer = nil
	if !ch.active {
		c.mu.Unlock()
		return
	}

	err := c.drv.Set(ch.pin, false)
	if err != nil {
		c.log.Errorw("release failed", "channel", name, "pin", ch.pin, "error", err)
		c.deactivateAllLocked()
	} else {
		ch.active = false
	}
	c.mu.Unlock()

	if err != nil && c.onFault != nil {
		c.onFault(fmt.Errorf("release %s (pin %d): %w", name, ch.pin, err))
	}
}

// DeactivateAll drives every channel low and cancels pending release
// timers. Idempotent and safe to call at any time, including after a
// fault; it is the shutdown path's last word on physical state.
func (c *Controller) DeactivateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deactivateAllLocked()
}

func (c *Controller) deactivateAllLocked() error {
	var lastErr error
	for _, name := range c.names {
		ch := c.channels[name]
		if ch.timer != nil {
			ch.timer.Stop()
			ch.timer = nil
		}
		if err := c.drv.Set(ch.pin, false); err != nil {
			c.log.Errorw("deactivate failed", "channel", name, "pin", ch.pin, "error", err)
			lastErr = err
			continue
		}
		ch.active = false
	}
	return lastErr
}

// Release deactivates everything and releases the pin driver.
func (c *Controller) Release() error {
	if err := c.DeactivateAll(); err != nil {
		c.log.Errorw("deactivate during release", "error", err)
	}
	return c.drv.Release()
}
