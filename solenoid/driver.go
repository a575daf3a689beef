package solenoid

// PinDriver abstracts the GPIO backend driving the solenoid pins.
type PinDriver interface {
	// ConfigureOutput claims the pin and configures it as an output.
	ConfigureOutput(pin int) error

	// Set drives the pin high or low.
	Set(pin int, high bool) error

	// Release drives all claimed pins low and frees them.
	Release() error
}

// NewDriver creates a PinDriver based on the configured backend.
func NewDriver(cfg Config) (PinDriver, error) {
	switch cfg.Driver {
	case "gpiocdev":
		return NewCdevDriver(cfg.Chip)
	case "rpio":
		return NewRpioDriver()
	case "none":
		return &NoopDriver{}, nil
	default:
		// Memory-mapped access is the default on the Pi.
		return NewGovattuDriver()
	}
}

// NoopDriver implements PinDriver but touches no hardware.
// Used for dry runs and in tests.
type NoopDriver struct{}

// ConfigureOutput implements PinDriver.ConfigureOutput.
func (n *NoopDriver) ConfigureOutput(pin int) error { return nil }

// Set implements PinDriver.Set.
func (n *NoopDriver) Set(pin int, high bool) error { return nil }

// Release implements PinDriver.Release.
func (n *NoopDriver) Release() error { return nil }
