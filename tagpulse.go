package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tagpulse/dedup"
	"tagpulse/mqtt"
	"tagpulse/reader"
	"tagpulse/selector"
	"tagpulse/solenoid"
)

var myBuild string

// App holds the application state and dependencies.
type App struct {
	cfg       *Config
	log       *zap.SugaredLogger
	reader    reader.TagReader
	solenoids *solenoid.Controller
	cache     *dedup.Cache
	selectFn  selector.Func
	channels  []string
	mqtt      *mqtt.Client
	ctx       context.Context
	cancel    context.CancelFunc
	fatalCh   chan error
}

// PulseRequest is a remote pulse command received over MQTT.
// An empty channel means every channel.
type PulseRequest struct {
	Channel string  `json:"channel"`
	Secs    float64 `json:"secs"`
}

func main() {
	fmt.Printf("tagpulse build %s\n", myBuild)

	selftest := flag.Bool("selftest", false, "Cycle each solenoid once and exit")
	cfgfile := flag.String("cfg", "tagpulse.cfg", "Config file")
	flag.Parse()

	os.Exit(run(*cfgfile, *selftest))
}

func run(cfgfile string, selftest bool) int {
	cfg, err := LoadConfig(cfgfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	drv, err := solenoid.NewDriver(cfg.Solenoids)
	if err != nil {
		log.Errorw("init pin driver", "error", err)
		return 1
	}

	fatalCh := make(chan error, 1)
	reportFault := func(err error) {
		select {
		case fatalCh <- err:
		default:
		}
	}

	solenoids, err := solenoid.NewController(drv, cfg.Solenoids.Channels, solenoid.Handlers{
		OnFault: reportFault,
	}, log)
	if err != nil {
		log.Errorw("init solenoids", "error", err)
		// The controller deactivates its own partial state; the driver
		// still holds the pin claims.
		if rerr := drv.Release(); rerr != nil {
			log.Errorw("release pin driver", "error", rerr)
		}
		return 1
	}

	if selftest {
		err := runSelfTest(solenoids, cfg.PulseDuration(), log)
		if rerr := solenoids.Release(); rerr != nil {
			log.Errorw("release solenoids", "error", rerr)
		}
		if err != nil {
			log.Errorw("selftest failed", "error", err)
			return 1
		}
		return 0
	}

	rdr, err := reader.New(cfg.Reader, log)
	if err != nil {
		log.Errorw("init reader", "error", err)
		releaseQuietly(solenoids, log)
		return 1
	}

	selectFn, err := selector.New(cfg.Selector, solenoids.Names())
	if err != nil {
		log.Errorw("init selector", "error", err)
		rdr.Close()
		releaseQuietly(solenoids, log)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &App{
		cfg:       cfg,
		log:       log,
		reader:    rdr,
		solenoids: solenoids,
		cache:     dedup.New(cfg.Cooldown()),
		selectFn:  selectFn,
		channels:  solenoids.Names(),
		ctx:       ctx,
		cancel:    cancel,
		fatalCh:   fatalCh,
	}

	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{
		OnConnect: app.onMQTTConnect,
		OnMessage: app.onMQTTMessage,
	}, log)
	if err != nil {
		log.Errorw("init mqtt", "error", err)
		rdr.Close()
		releaseQuietly(solenoids, log)
		return 1
	}

	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.Warnw("mqtt connect", "error", err)
		}
	}()
	go app.pingSender()

	log.Infow("starting poll loop",
		"poll", cfg.PollInterval(),
		"pulse", cfg.PulseDuration(),
		"cooldown", cfg.Cooldown(),
		"channels", app.channels)

	loopErr := make(chan error, 1)
	go func() { loopErr <- app.pollLoop() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	code := 0
	select {
	case <-sigCh:
		log.Info("shutdown signal received")
		cancel()
		<-loopErr
	case err := <-app.fatalCh:
		log.Errorw("fatal fault", "error", err)
		cancel()
		<-loopErr
		code = 1
	case err := <-loopErr:
		cancel()
		if err != nil {
			log.Errorw("poll loop failed", "error", err)
			code = 1
		}
	}

	app.shutdown()
	return code
}

// shutdown forces every channel inactive and releases all resources.
// Deactivation runs first and unconditionally.
func (app *App) shutdown() {
	if err := app.solenoids.DeactivateAll(); err != nil {
		app.log.Errorw("deactivate all", "error", err)
	}
	if err := app.reader.Close(); err != nil {
		app.log.Errorw("close reader", "error", err)
	}
	if err := app.solenoids.Release(); err != nil {
		app.log.Errorw("release solenoids", "error", err)
	}
	app.mqtt.Disconnect()
	app.log.Info("shutdown complete")
}

func releaseQuietly(solenoids *solenoid.Controller, log *zap.SugaredLogger) {
	if err := solenoids.Release(); err != nil {
		log.Errorw("release solenoids", "error", err)
	}
}

func newLogger(level string) *zap.SugaredLogger {
	lvl := zapcore.InfoLevel
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}

	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), lvl)
	return zap.New(core).Sugar()
}

// MQTT topics

func (app *App) statusTopic(suffix string) string {
	return fmt.Sprintf("tagpulse/status/node/%s/%s", app.cfg.ClientID, suffix)
}

func (app *App) pulseControlTopic() string {
	return fmt.Sprintf("tagpulse/control/node/%s/pulse", app.cfg.ClientID)
}

const broadcastDeactivateTopic = "tagpulse/control/broadcast/deactivate"

func (app *App) onMQTTConnect() {
	if err := app.mqtt.Subscribe(app.pulseControlTopic()); err != nil {
		app.log.Errorw("subscribe", "error", err)
	}
	if err := app.mqtt.Subscribe(broadcastDeactivateTopic); err != nil {
		app.log.Errorw("subscribe", "error", err)
	}
}

func (app *App) onMQTTMessage(topic string, payload []byte) {
	switch topic {
	case broadcastDeactivateTopic:
		app.log.Info("remote deactivate received")
		if err := app.solenoids.DeactivateAll(); err != nil {
			app.fault(err)
		}
	case app.pulseControlTopic():
		app.handlePulseRequest(payload)
	}
}

func (app *App) handlePulseRequest(payload []byte) {
	var req PulseRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		app.log.Warnw("decode pulse request", "error", err)
		return
	}

	d := app.cfg.PulseDuration()
	if req.Secs > 0 {
		d = secs(req.Secs)
	}

	app.log.Infow("remote pulse request", "channel", req.Channel, "duration", d)

	var err error
	if req.Channel == "" {
		err = app.solenoids.PulseAll(d)
	} else {
		err = app.solenoids.Pulse(req.Channel, d)
	}

	if err != nil {
		if errors.Is(err, solenoid.ErrUnknownChannel) {
			app.log.Warnw("remote pulse for unknown channel", "channel", req.Channel)
			return
		}
		app.fault(err)
	}
}

// fault records an unsafe actuator condition and initiates shutdown.
func (app *App) fault(err error) {
	select {
	case app.fatalCh <- err:
	default:
	}
}

// Outbound status payloads.

type sightingStatus struct {
	Tag      string `json:"tag"`
	Admitted bool   `json:"admitted"`
}

type pulseStatus struct {
	Channel string  `json:"channel"`
	Secs    float64 `json:"secs"`
}

func sightingPayload(s *reader.Sighting, admitted bool) []byte {
	b, _ := json.Marshal(sightingStatus{Tag: s.ID, Admitted: admitted})
	return b
}

func pulsePayload(channel string, d time.Duration) []byte {
	b, _ := json.Marshal(pulseStatus{Channel: channel, Secs: d.Seconds()})
	return b
}

func (app *App) publishSighting(s *reader.Sighting, admitted bool) {
	app.mqtt.Publish(app.statusTopic("sighting"), string(sightingPayload(s, admitted)))
}

func (app *App) publishPulse(channel string, d time.Duration) {
	app.mqtt.Publish(app.statusTopic("pulse"), string(pulsePayload(channel, d)))
}

func (app *App) pingSender() {
	ticker := time.NewTicker(120 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			app.mqtt.Publish(app.statusTopic("ping"), `{"status":"ok"}`)
		}
	}
}
