// Package selector maps a tag sighting to the set of channels to pulse.
// Selection is a pure function of the payload and the configured channel
// set, so identical sightings always pick identical channels.
package selector

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"tagpulse/reader"
)

// ErrMalformedPayload is returned when a payload is too short for the
// configured strategy. The caller skips actuation and keeps polling.
var ErrMalformedPayload = errors.New("malformed tag payload")

// Func selects zero or more channel names for a sighting. channels is the
// configured set in configuration order.
type Func func(s *reader.Sighting, channels []string) ([]string, error)

// Config holds the channel-selection strategy configuration.
type Config struct {
	Type string `yaml:"type"` // "byte_modulo", "all", "fixed", "serial_range", "manufacturer"

	// byte_modulo: which payload byte picks the channel.
	ByteIndex int `yaml:"byte_index"`

	// fixed / serial_range: the channel to pulse.
	Channel string `yaml:"channel"`

	// serial_range: inclusive bounds on the tag serial number.
	SerialMin uint64 `yaml:"serial_min"`
	SerialMax uint64 `yaml:"serial_max"`

	// manufacturer: hex prefix (first two payload bytes) to channel name.
	Manufacturers map[string]string `yaml:"manufacturers"`
}

// New builds the selection function and validates that every channel name
// the configuration mentions exists, so a typo fails at startup rather
// than producing runtime no-ops.
func New(cfg Config, channels []string) (Func, error) {
	known := make(map[string]bool, len(channels))
	for _, name := range channels {
		known[name] = true
	}

	switch cfg.Type {
	case "", "byte_modulo":
		if cfg.ByteIndex < 0 {
			return nil, fmt.Errorf("byte_index %d is negative", cfg.ByteIndex)
		}
		return ByteModulo(cfg.ByteIndex), nil

	case "all":
		return AllChannels(), nil

	case "fixed":
		if !known[cfg.Channel] {
			return nil, fmt.Errorf("fixed selector: unknown channel %q", cfg.Channel)
		}
		return FixedChannel(cfg.Channel), nil

	case "serial_range":
		if !known[cfg.Channel] {
			return nil, fmt.Errorf("serial_range selector: unknown channel %q", cfg.Channel)
		}
		if cfg.SerialMax < cfg.SerialMin {
			return nil, fmt.Errorf("serial_range: max %d < min %d", cfg.SerialMax, cfg.SerialMin)
		}
		return SerialNumberRange(cfg.SerialMin, cfg.SerialMax, cfg.Channel), nil

	case "manufacturer":
		table := make(map[string]string, len(cfg.Manufacturers))
		for prefix, name := range cfg.Manufacturers {
			if !known[name] {
				return nil, fmt.Errorf("manufacturer selector: unknown channel %q for prefix %q", name, prefix)
			}
			table[strings.ToUpper(prefix)] = name
		}
		return ManufacturerLookup(table), nil

	default:
		return nil, fmt.Errorf("unknown selector type %q", cfg.Type)
	}
}

// ByteModulo selects one channel by reducing the payload byte at index
// modulo the channel count.
func ByteModulo(index int) Func {
	return func(s *reader.Sighting, channels []string) ([]string, error) {
		if index >= len(s.Payload) {
			return nil, fmt.Errorf("%w: need byte %d, have %d bytes", ErrMalformedPayload, index, len(s.Payload))
		}
		i := int(s.Payload[index]) % len(channels)
		return []string{channels[i]}, nil
	}
}

// AllChannels selects every configured channel.
func AllChannels() Func {
	return func(s *reader.Sighting, channels []string) ([]string, error) {
		out := make([]string, len(channels))
		copy(out, channels)
		return out, nil
	}
}

// FixedChannel always selects the named channel.
func FixedChannel(name string) Func {
	return func(s *reader.Sighting, channels []string) ([]string, error) {
		return []string{name}, nil
	}
}

// SerialNumberRange selects the named channel when the tag serial (the
// last four payload bytes, big-endian) falls within [min, max], and
// nothing otherwise.
func SerialNumberRange(min, max uint64, name string) Func {
	return func(s *reader.Sighting, channels []string) ([]string, error) {
		if len(s.Payload) < 4 {
			return nil, fmt.Errorf("%w: need 4 bytes for serial, have %d", ErrMalformedPayload, len(s.Payload))
		}
		serial := uint64(binary.BigEndian.Uint32(s.Payload[len(s.Payload)-4:]))
		if serial < min || serial > max {
			return nil, nil
		}
		return []string{name}, nil
	}
}

// ManufacturerLookup selects a channel by the tag's two-byte manufacturer
// prefix. Unlisted manufacturers select nothing.
func ManufacturerLookup(table map[string]string) Func {
	return func(s *reader.Sighting, channels []string) ([]string, error) {
		if len(s.Payload) < 2 {
			return nil, fmt.Errorf("%w: need 2 bytes for manufacturer prefix, have %d", ErrMalformedPayload, len(s.Payload))
		}
		prefix := strings.ToUpper(hex.EncodeToString(s.Payload[:2]))
		name, ok := table[prefix]
		if !ok {
			return nil, nil
		}
		return []string{name}, nil
	}
}
