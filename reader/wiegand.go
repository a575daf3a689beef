package reader

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	stx = 0x02
	etx = 0x03
)

// Wiegand implements TagReader for serial readers that emit STX/ETX-framed
// ASCII hex identifiers.
type Wiegand struct {
	port    serial.Port
	timeout time.Duration
}

// NewWiegand opens the serial port and drains any partial frame left in
// the input buffer.
func NewWiegand(cfg Config) (*Wiegand, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}

	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}

	_ = p.SetReadTimeout(cfg.ReadTimeout())

	w := &Wiegand{port: p, timeout: cfg.ReadTimeout()}
	w.flush()
	return w, nil
}

// Read implements TagReader.Read. One frame attempt per call.
func (w *Wiegand) Read(ctx context.Context) (*Sighting, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	payload, err := w.readFrame()
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	return NewSighting(payload, time.Now()), nil
}

// readFrame reads a single STX...ETX frame and decodes the hex body.
// Returns (nil, nil) on timeout or a frame not worth keeping.
func (w *Wiegand) readFrame() ([]byte, error) {
	first := make([]byte, 1)
	n, err := w.port.Read(first)
	if err != nil {
		return nil, fmt.Errorf("read STX: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	if first[0] != stx {
		w.flush()
		return nil, nil
	}

	var body []byte
	buf := make([]byte, 1)
	for {
		n, err := w.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if n == 0 {
			// Timeout mid-frame: incomplete, discard.
			w.flush()
			return nil, nil
		}
		if buf[0] == etx {
			break
		}
		body = append(body, buf[0])
	}

	return decodeWiegandBody(body)
}

// decodeWiegandBody left-pads the ASCII hex body to ten digits and decodes
// it into the five payload bytes.
func decodeWiegandBody(body []byte) ([]byte, error) {
	for len(body) < 10 {
		body = append([]byte{'0'}, body...)
	}

	payload := make([]byte, len(body)/2)
	if _, err := hex.Decode(payload, body); err != nil {
		return nil, fmt.Errorf("decode frame body %q: %w", body, err)
	}
	return payload, nil
}

// Close implements TagReader.Close.
func (w *Wiegand) Close() error {
	if w.port == nil {
		return nil
	}
	return w.port.Close()
}

// flush drains the input buffer to discard partial frames.
func (w *Wiegand) flush() {
	_ = w.port.SetReadTimeout(10 * time.Millisecond)
	defer func() {
		_ = w.port.SetReadTimeout(w.timeout)
	}()

	tmp := make([]byte, 64)
	for {
		n, err := w.port.Read(tmp)
		if err != nil || n == 0 {
			return
		}
	}
}
