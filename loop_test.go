package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tagpulse/dedup"
	"tagpulse/mqtt"
	"tagpulse/reader"
	"tagpulse/selector"
	"tagpulse/solenoid"
)

type readEvent struct {
	s   *reader.Sighting
	err error
}

// scriptedReader pops one event per Read call and reports no tag once the
// script is exhausted.
type scriptedReader struct {
	mu     sync.Mutex
	events []readEvent
}

func (r *scriptedReader) Read(ctx context.Context) (*reader.Sighting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil, ctx.Err()
	}
	e := r.events[0]
	r.events = r.events[1:]
	return e.s, e.err
}

func (r *scriptedReader) Close() error { return nil }

// failingDriver accepts configuration but refuses to assert any pin.
type failingDriver struct{}

func (f *failingDriver) ConfigureOutput(pin int) error { return nil }
func (f *failingDriver) Set(pin int, high bool) error {
	if high {
		return errors.New("pin write failed")
	}
	return nil
}
func (f *failingDriver) Release() error { return nil }

func newTestApp(t *testing.T, drv solenoid.PinDriver, rdr reader.TagReader, selCfg selector.Config) *App {
	t.Helper()

	cooldown := 2.0
	cfg := &Config{
		Solenoids: solenoid.Config{
			Driver: "none",
			Channels: []solenoid.ChannelConfig{
				{Name: "solenoid_1", Pin: 17},
				{Name: "solenoid_2", Pin: 18},
			},
		},
		Selector:     selCfg,
		ClientID:     "test",
		PulseSecs:    0.05,
		PollSecs:     0.005,
		CooldownSecs: &cooldown,
	}

	log := zap.NewNop().Sugar()

	fatalCh := make(chan error, 1)
	solenoids, err := solenoid.NewController(drv, cfg.Solenoids.Channels, solenoid.Handlers{
		OnFault: func(err error) {
			select {
			case fatalCh <- err:
			default:
			}
		},
	}, log)
	require.NoError(t, err)

	selectFn, err := selector.New(cfg.Selector, solenoids.Names())
	require.NoError(t, err)

	m, err := mqtt.New(mqtt.Config{}, cfg.ClientID, mqtt.Handlers{}, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = solenoids.DeactivateAll() })

	return &App{
		cfg:       cfg,
		log:       log,
		reader:    rdr,
		solenoids: solenoids,
		cache:     dedup.New(cfg.Cooldown()),
		selectFn:  selectFn,
		channels:  solenoids.Names(),
		mqtt:      m,
		ctx:       ctx,
		cancel:    cancel,
		fatalCh:   fatalCh,
	}
}

// TestHandleSightingScenario walks a tag through the admit/suppress cycle
// using synthetic timestamps: admitted on first sight, suppressed while it
// stays within the cooldown window, admitted again after a full gap.
func TestHandleSightingScenario(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &solenoid.NoopDriver{}, &scriptedReader{}, selector.Config{})
	t0 := time.Now()

	// First byte 4, two channels: 4 % 2 = 0 -> solenoid_1.
	require.NoError(t, app.handleSighting(reader.NewSighting([]byte{4, 0xaa}, t0)))
	require.True(t, app.solenoids.Active("solenoid_1"))
	require.False(t, app.solenoids.Active("solenoid_2"))

	require.NoError(t, app.solenoids.DeactivateAll())

	// Same tag one second later: inside the window, no pulse.
	require.NoError(t, app.handleSighting(reader.NewSighting([]byte{4, 0xaa}, t0.Add(time.Second))))
	require.False(t, app.solenoids.Active("solenoid_1"))

	// The suppressed sighting refreshed the window, so only a gap of a
	// full cooldown after it re-admits.
	require.NoError(t, app.handleSighting(reader.NewSighting([]byte{4, 0xaa}, t0.Add(3500*time.Millisecond))))
	require.True(t, app.solenoids.Active("solenoid_1"))
}

func TestHandleSightingMalformedPayload(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &solenoid.NoopDriver{}, &scriptedReader{}, selector.Config{ByteIndex: 3})

	// Payload too short for the selector: skipped, not fatal.
	require.NoError(t, app.handleSighting(reader.NewSighting([]byte{4}, time.Now())))
	require.False(t, app.solenoids.Active("solenoid_1"))
	require.False(t, app.solenoids.Active("solenoid_2"))
}

func TestHandleSightingAllChannels(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &solenoid.NoopDriver{}, &scriptedReader{}, selector.Config{Type: "all"})

	require.NoError(t, app.handleSighting(reader.NewSighting([]byte{1, 2}, time.Now())))
	require.True(t, app.solenoids.Active("solenoid_1"))
	require.True(t, app.solenoids.Active("solenoid_2"))
}

// TestPollLoopAbsorbsReadErrors verifies a transient read failure does not
// stop the loop: the sighting scripted after the error still pulses.
func TestPollLoopAbsorbsReadErrors(t *testing.T) {
	t.Parallel()

	rdr := &scriptedReader{events: []readEvent{
		{err: errors.New("serial glitch")},
		{s: reader.NewSighting([]byte{4, 0xaa}, time.Now())},
	}}
	app := newTestApp(t, &solenoid.NoopDriver{}, rdr, selector.Config{})

	done := make(chan error, 1)
	go func() { done <- app.pollLoop() }()

	require.Eventually(t, func() bool {
		return app.solenoids.Active("solenoid_1")
	}, time.Second, 2*time.Millisecond)

	app.cancel()
	require.NoError(t, <-done)
}

// TestPollLoopFatalOnActuatorFault verifies a pin write failure aborts the
// loop and leaves nothing asserted.
func TestPollLoopFatalOnActuatorFault(t *testing.T) {
	t.Parallel()

	rdr := &scriptedReader{events: []readEvent{
		{s: reader.NewSighting([]byte{4, 0xaa}, time.Now())},
	}}
	app := newTestApp(t, &failingDriver{}, rdr, selector.Config{})

	err := app.pollLoop()
	require.Error(t, err)
	require.NotErrorIs(t, err, solenoid.ErrUnknownChannel)
	require.False(t, app.solenoids.Active("solenoid_1"))
	require.False(t, app.solenoids.Active("solenoid_2"))
}

// TestPollLoopStopsOnCancel verifies cancellation is observed within a few
// poll intervals.
func TestPollLoopStopsOnCancel(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &solenoid.NoopDriver{}, &scriptedReader{}, selector.Config{})

	done := make(chan error, 1)
	go func() { done <- app.pollLoop() }()

	time.Sleep(20 * time.Millisecond)
	app.cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll loop did not stop after cancellation")
	}
}

func TestRemotePulseRequest(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &solenoid.NoopDriver{}, &scriptedReader{}, selector.Config{})

	app.handlePulseRequest([]byte(`{"channel":"solenoid_2","secs":0.05}`))
	require.False(t, app.solenoids.Active("solenoid_1"))
	require.True(t, app.solenoids.Active("solenoid_2"))

	// Unknown channels are logged, not fatal.
	app.handlePulseRequest([]byte(`{"channel":"nope"}`))
	select {
	case err := <-app.fatalCh:
		t.Fatalf("unknown channel escalated to fault: %v", err)
	default:
	}

	// Empty channel pulses everything.
	app.handlePulseRequest([]byte(`{"secs":0.05}`))
	require.True(t, app.solenoids.Active("solenoid_1"))
}

// TestStatusPayloads round-trips the outbound telemetry through a JSON
// decoder so a field change can't quietly break the wire format.
func TestStatusPayloads(t *testing.T) {
	t.Parallel()

	var sighting sightingStatus
	b := sightingPayload(reader.NewSighting([]byte{0xe2, 0x80}, time.Now()), true)
	require.NoError(t, json.Unmarshal(b, &sighting))
	require.Equal(t, sightingStatus{Tag: "E280", Admitted: true}, sighting)

	var pulse pulseStatus
	b = pulsePayload("solenoid_1", 500*time.Millisecond)
	require.NoError(t, json.Unmarshal(b, &pulse))
	require.Equal(t, pulseStatus{Channel: "solenoid_1", Secs: 0.5}, pulse)
}

func TestSelfTest(t *testing.T) {
	t.Parallel()

	log := zap.NewNop().Sugar()
	solenoids, err := solenoid.NewController(&solenoid.NoopDriver{}, []solenoid.ChannelConfig{
		{Name: "solenoid_1", Pin: 17},
		{Name: "solenoid_2", Pin: 18},
	}, solenoid.Handlers{}, log)
	require.NoError(t, err)

	require.NoError(t, runSelfTest(solenoids, time.Millisecond, log))
	require.NoError(t, solenoids.Release())
}
