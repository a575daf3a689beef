package reader

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// FM-503 command framing: <LF>command<CR>, responses are a single line
// terminated by <CR><LF>. A successful read echoes the command letter
// followed by the data as ASCII hex.
const (
	fm503DefaultBaud = 38400
	fm503MinPower    = -2
	fm503MaxPower    = 25

	// Read six words from the TID bank starting at word 0.
	fm503CmdReadTID = "R2,0,6"
)

// FM503 implements TagReader for the FM-503 UHF RFID reader module.
type FM503 struct {
	port   *serial.Port
	device string
	log    *zap.SugaredLogger
	buf    []byte
}

// NewFM503 opens the serial port and applies the configured transmit power.
// A power-setting failure is logged but not fatal; the reader still reads
// at its previous power level.
func NewFM503(cfg Config, log *zap.SugaredLogger) (*FM503, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = fm503DefaultBaud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: cfg.ReadTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}

	r := &FM503{
		port:   port,
		device: cfg.Device,
		log:    log,
		buf:    make([]byte, 64),
	}

	if cfg.TxPower != nil {
		if err := r.setTxPower(*cfg.TxPower); err != nil {
			log.Warnw("set tx power failed", "device", cfg.Device, "error", err)
		}
		// Give the reader a moment to retune.
		time.Sleep(500 * time.Millisecond)
	}

	return r, nil
}

// setTxPower sends the power command and checks that the reader echoes it.
func (r *FM503) setTxPower(db int) error {
	if db < fm503MinPower || db > fm503MaxPower {
		return fmt.Errorf("tx power %d out of range %d..%d", db, fm503MinPower, fm503MaxPower)
	}

	cmd := fmt.Sprintf("N1,%02X", byte(db))
	line, err := r.exchange(cmd)
	if err != nil {
		return err
	}
	if len(line) == 0 || line[0] != 'N' {
		return fmt.Errorf("unexpected power response %q", line)
	}
	return nil
}

// Read implements TagReader.Read. Each call polls the TID bank once.
func (r *FM503) Read(ctx context.Context) (*Sighting, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	line, err := r.exchange(fm503CmdReadTID)
	if err != nil {
		return nil, err
	}

	payload, err := parseFM503Frame(line)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	return NewSighting(payload, time.Now()), nil
}

// exchange writes one command and reads the response line. An empty line
// means the read timed out with no data, which is not an error.
func (r *FM503) exchange(cmd string) ([]byte, error) {
	if _, err := r.port.Write([]byte("\n" + cmd + "\r")); err != nil {
		return nil, fmt.Errorf("write %q: %w", cmd, err)
	}

	var line []byte
	for {
		n, err := r.port.Read(r.buf)
		if err != nil || n == 0 {
			// Timeout. Return whatever arrived; the frame parser decides.
			return line, nil
		}
		line = append(line, r.buf[:n]...)
		if bytes.ContainsAny(line, "\r") {
			break
		}
	}
	return bytes.Trim(line, "\r\n"), nil
}

// parseFM503Frame extracts the tag payload from a response line. A nil
// payload with nil error means no tag was in the field this poll.
func parseFM503Frame(line []byte) ([]byte, error) {
	line = bytes.Trim(line, "\r\n")
	if len(line) == 0 {
		return nil, nil
	}

	// Error/status lines start with a digit (e.g. "3" for no tag).
	if line[0] != 'R' {
		return nil, nil
	}

	data := line[1:]
	if len(data) == 0 || len(data)%2 != 0 {
		return nil, fmt.Errorf("odd-length tag frame %q", line)
	}

	payload := make([]byte, len(data)/2)
	if _, err := hex.Decode(payload, data); err != nil {
		return nil, fmt.Errorf("decode tag frame %q: %w", line, err)
	}
	return payload, nil
}

// Close implements TagReader.Close.
func (r *FM503) Close() error {
	if r.port == nil {
		return nil
	}
	return r.port.Close()
}
