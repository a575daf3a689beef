package solenoid

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver implements PinDriver using the character-device GPIO
// interface, for kernels where /dev/mem access is unavailable.
type CdevDriver struct {
	chip  string
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver creates a driver for the named chip ("gpiochip0" if empty).
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

// ConfigureOutput implements PinDriver.ConfigureOutput.
func (d *CdevDriver) ConfigureOutput(pin int) error {
	line, err := gpiocdev.RequestLine(d.chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return fmt.Errorf("request line %d on %s: %w", pin, d.chip, err)
	}
	d.lines[pin] = line
	return nil
}

// Set implements PinDriver.Set.
func (d *CdevDriver) Set(pin int, high bool) error {
	line, ok := d.lines[pin]
	if !ok {
		return fmt.Errorf("line %d not requested", pin)
	}
	v := 0
	if high {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set line %d: %w", pin, err)
	}
	return nil
}

// Release implements PinDriver.Release.
func (d *CdevDriver) Release() error {
	var lastErr error
	for pin, line := range d.lines {
		if err := line.SetValue(0); err != nil {
			lastErr = fmt.Errorf("clear line %d: %w", pin, err)
		}
		if err := line.Close(); err != nil {
			lastErr = fmt.Errorf("close line %d: %w", pin, err)
		}
	}
	d.lines = make(map[int]*gpiocdev.Line)
	return lastErr
}
