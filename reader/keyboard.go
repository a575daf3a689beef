package reader

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kenshaw/evdev"
	"go.uber.org/zap"
)

// Keyboard implements TagReader for USB keyboard-wedge readers that type
// the tag identifier as digits followed by Enter.
type Keyboard struct {
	device    *evdev.Evdev
	log       *zap.SugaredLogger
	timeout   time.Duration
	numDigits int  // expected digit count (0 = any)
	isHex     bool // hex vs decimal digits
	strbuf    string
}

// NewKeyboard opens the input device. Format is e.g. "10h" (10 hex digits)
// or "8d" (8 decimal digits); empty defaults to "10h".
func NewKeyboard(cfg Config, log *zap.SugaredLogger) (*Keyboard, error) {
	dev, err := evdev.OpenFile(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", cfg.Device, err)
	}

	log.Infow("opened keyboard device",
		"name", dev.Name(),
		"vendor", fmt.Sprintf("0x%04x", dev.ID().Vendor),
		"product", fmt.Sprintf("0x%04x", dev.ID().Product))

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "10h"
	}

	numDigits := 0
	isHex := true
	switch {
	case strings.HasSuffix(format, "h"):
		numDigits, _ = strconv.Atoi(strings.TrimSuffix(format, "h"))
	case strings.HasSuffix(format, "d"):
		isHex = false
		numDigits, _ = strconv.Atoi(strings.TrimSuffix(format, "d"))
	default:
		numDigits, _ = strconv.Atoi(format)
	}

	return &Keyboard{
		device:    dev,
		log:       log,
		timeout:   cfg.ReadTimeout(),
		numDigits: numDigits,
		isHex:     isHex,
	}, nil
}

// Read implements TagReader.Read. Key events accumulate across calls;
// a call returns a sighting only when Enter completes a valid identifier
// within the read timeout.
func (k *Keyboard) Read(ctx context.Context) (*Sighting, error) {
	ch := k.device.Poll(ctx)
	deadline := time.NewTimer(k.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case event := <-ch:
			if event == nil {
				return nil, fmt.Errorf("keyboard device closed")
			}

			if _, ok := event.Type.(evdev.KeyType); !ok {
				continue
			}
			if event.Value != 1 {
				continue
			}

			if event.Type != evdev.KeyEnter {
				k.strbuf += evdev.KeyType(event.Code).String()
				continue
			}

			line := k.strbuf
			k.strbuf = ""
			if line == "" {
				continue
			}

			payload, err := k.decode(line)
			if err != nil {
				k.log.Warnw("unparseable badge input", "input", line, "error", err)
				continue
			}
			return NewSighting(payload, time.Now()), nil
		}
	}
}

// decode converts the typed digits into payload bytes.
func (k *Keyboard) decode(line string) ([]byte, error) {
	if k.numDigits > 0 && len(line) != k.numDigits {
		return nil, fmt.Errorf("expected %d digits, got %d", k.numDigits, len(line))
	}

	if k.isHex {
		if len(line)%2 != 0 {
			line = "0" + line
		}
		payload, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("decode hex: %w", err)
		}
		return payload, nil
	}

	n, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse decimal: %w", err)
	}
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, n)
	return payload, nil
}

// Close implements TagReader.Close.
func (k *Keyboard) Close() error {
	if k.device == nil {
		return nil
	}
	return k.device.Close()
}
