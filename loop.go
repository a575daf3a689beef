package main

import (
	"context"
	"errors"
	"time"

	"tagpulse/reader"
	"tagpulse/selector"
	"tagpulse/solenoid"
)

// pruneEvery bounds the dedup cache memory; see dedup.Cache.Prune.
const pruneEvery = time.Minute

// pollLoop runs the read → admit → select → pulse cycle until the context
// is cancelled or an actuator fault makes the physical state untrustworthy.
// Transient reader errors are logged and absorbed here.
func (app *App) pollLoop() error {
	interval := app.cfg.PollInterval()
	lastPrune := time.Now()

	for {
		select {
		case <-app.ctx.Done():
			return nil
		default:
		}

		s, err := app.reader.Read(app.ctx)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			app.log.Warnw("tag read failed", "error", err)
		case s != nil:
			if err := app.handleSighting(s); err != nil {
				return err
			}
		}

		if time.Since(lastPrune) >= pruneEvery {
			app.cache.Prune(time.Now())
			lastPrune = time.Now()
		}

		select {
		case <-app.ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// handleSighting runs one sighting through the dedup cache and, if
// admitted, pulses the selected channels. Malformed payloads and
// selections of unconfigured channels are logged and skipped; a returned
// error means an actuator fault and aborts the loop.
func (app *App) handleSighting(s *reader.Sighting) error {
	admitted := app.cache.Admit(s.ID, s.At)
	app.publishSighting(s, admitted)
	if !admitted {
		app.log.Debugw("repeat sighting suppressed", "tag", s.ID)
		return nil
	}

	app.log.Infow("tag detected", "tag", s.ID)

	names, err := app.selectFn(s, app.channels)
	if err != nil {
		if errors.Is(err, selector.ErrMalformedPayload) {
			app.log.Warnw("sighting skipped", "tag", s.ID, "error", err)
			return nil
		}
		return err
	}

	d := app.cfg.PulseDuration()
	for _, name := range names {
		if err := app.solenoids.Pulse(name, d); err != nil {
			if errors.Is(err, solenoid.ErrUnknownChannel) {
				app.log.Errorw("selector chose unconfigured channel", "channel", name)
				continue
			}
			// Pulse already drove everything low on the way out.
			return err
		}
		app.publishPulse(name, d)
	}
	return nil
}
