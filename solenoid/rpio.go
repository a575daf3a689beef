package solenoid

import (
	"fmt"

	"github.com/warthog618/gpio"
)

// RpioDriver implements PinDriver using the warthog618/gpio memory map.
// Kept for boards already deployed with it; new installs should prefer
// the gpiocdev driver.
type RpioDriver struct {
	pins map[int]*gpio.Pin
}

// NewRpioDriver maps the GPIO registers.
func NewRpioDriver() (*RpioDriver, error) {
	if err := gpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio mem: %w", err)
	}
	return &RpioDriver{pins: make(map[int]*gpio.Pin)}, nil
}

// ConfigureOutput implements PinDriver.ConfigureOutput.
func (d *RpioDriver) ConfigureOutput(pin int) error {
	p := gpio.NewPin(pin)
	p.Output()
	p.Low()
	d.pins[pin] = p
	return nil
}

// Set implements PinDriver.Set.
func (d *RpioDriver) Set(pin int, high bool) error {
	p, ok := d.pins[pin]
	if !ok {
		return fmt.Errorf("pin %d not configured", pin)
	}
	if high {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

// Release implements PinDriver.Release.
func (d *RpioDriver) Release() error {
	for _, p := range d.pins {
		p.Low()
	}
	d.pins = make(map[int]*gpio.Pin)
	return gpio.Close()
}
