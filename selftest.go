package main

import (
	"time"

	"go.uber.org/zap"

	"tagpulse/solenoid"
)

// runSelfTest exercises the solenoid wiring without a reader: each channel
// is pulsed in turn with a pause between, then all channels together.
func runSelfTest(solenoids *solenoid.Controller, pulse time.Duration, log *zap.SugaredLogger) error {
	log.Info("selftest: pulsing channels individually")
	for _, name := range solenoids.Names() {
		log.Infow("selftest pulse", "channel", name, "duration", pulse)
		if err := solenoids.Pulse(name, pulse); err != nil {
			return err
		}
		time.Sleep(pulse + 500*time.Millisecond)
	}

	log.Info("selftest: pulsing all channels together")
	if err := solenoids.PulseAll(pulse); err != nil {
		return err
	}
	time.Sleep(pulse + 500*time.Millisecond)

	log.Info("selftest complete")
	return nil
}
