// Package reader provides tag reader adapters. Each adapter performs one
// bounded poll attempt per Read call; the caller owns the poll cadence.
package reader

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sighting is a single tag read event.
type Sighting struct {
	// ID identifies the tag: the uppercase hex rendering of the payload.
	ID string

	// Payload is the raw data returned by the reader (e.g. the TID bank).
	Payload []byte

	// At is when the read completed.
	At time.Time
}

// NewSighting builds a Sighting from a raw payload, stamping it with now.
func NewSighting(payload []byte, now time.Time) *Sighting {
	return &Sighting{
		ID:      strings.ToUpper(hex.EncodeToString(payload)),
		Payload: payload,
		At:      now,
	}
}

// TagReader is the interface for all tag reader implementations.
type TagReader interface {
	// Read performs one poll attempt. It returns (nil, nil) when no tag is
	// in the field, and an error for transient I/O failures. It must return
	// within the configured read timeout.
	Read(ctx context.Context) (*Sighting, error)

	// Close releases the underlying device.
	Close() error
}

// Config holds common configuration for reader implementations.
type Config struct {
	Type          string `yaml:"type"`            // "fm503", "wiegand", "keyboard", "none"
	Device        string `yaml:"device"`          // e.g. "/dev/ttyUSB0", "/dev/input/event0"
	Baud          int    `yaml:"baud"`            // serial baud rate, default 38400
	TxPower       *int   `yaml:"tx_power"`        // transmit power in dB, -2..25 (nil = leave as-is)
	ReadTimeoutMS int    `yaml:"read_timeout_ms"` // per-poll read timeout, default 1000
	Format        string `yaml:"format"`          // keyboard digit format, e.g. "10h", "8d"
}

// ReadTimeout returns the configured per-poll timeout.
func (c Config) ReadTimeout() time.Duration {
	if c.ReadTimeoutMS <= 0 {
		return time.Second
	}
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// New creates a TagReader based on the provided configuration.
func New(cfg Config, log *zap.SugaredLogger) (TagReader, error) {
	switch cfg.Type {
	case "wiegand":
		return NewWiegand(cfg)
	case "keyboard":
		return NewKeyboard(cfg, log)
	case "none":
		return &Noop{}, nil
	default:
		// FM-503 is the reader this was built around.
		return NewFM503(cfg, log)
	}
}
