package solenoid

import (
	"fmt"

	"github.com/hjkoskel/govattu"
)

// GovattuDriver implements PinDriver using memory-mapped Pi GPIO.
type GovattuDriver struct {
	hw   govattu.Vattu
	pins []uint8
}

// NewGovattuDriver opens the memory-mapped GPIO device.
func NewGovattuDriver() (*GovattuDriver, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	return &GovattuDriver{hw: hw}, nil
}

// ConfigureOutput implements PinDriver.ConfigureOutput.
func (g *GovattuDriver) ConfigureOutput(pin int) error {
	g.hw.PinMode(uint8(pin), govattu.ALToutput)
	g.pins = append(g.pins, uint8(pin))
	return nil
}

// Set implements PinDriver.Set.
func (g *GovattuDriver) Set(pin int, high bool) error {
	if high {
		g.hw.PinSet(uint8(pin))
	} else {
		g.hw.PinClear(uint8(pin))
	}
	return nil
}

// Release implements PinDriver.Release.
func (g *GovattuDriver) Release() error {
	for _, pin := range g.pins {
		g.hw.PinClear(pin)
	}
	return g.hw.Close()
}
