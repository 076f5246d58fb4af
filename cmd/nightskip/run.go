package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sweeney/nightskip/internal/config"
	"github.com/sweeney/nightskip/internal/control"
	"github.com/sweeney/nightskip/internal/gpio"
	"github.com/sweeney/nightskip/internal/logging"
	"github.com/sweeney/nightskip/internal/logic"
	"github.com/sweeney/nightskip/internal/mqtt"
	"github.com/sweeney/nightskip/internal/notify"
	"github.com/sweeney/nightskip/internal/sensor"
	"github.com/sweeney/nightskip/internal/status"
	"github.com/sweeney/nightskip/internal/web"
)

const controlQueueSize = 8

var (
	flagTick      time.Duration
	flagHeartbeat time.Duration
	flagConsole   bool
	flagRedis     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the night skip daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		if f.Changed("tick") {
			if flagTick <= 0 {
				return fmt.Errorf("--tick must be positive, got %v", flagTick)
			}
			settings.Tick = flagTick
		}
		if f.Changed("heartbeat") {
			settings.Heartbeat = flagHeartbeat
		}
		if f.Changed("console") {
			settings.Console = flagConsole
		}
		if f.Changed("redis") {
			settings.RedisURL = flagRedis
		}
		return run(cmd.Context(), settings)
	},
}

func init() {
	f := runCmd.Flags()
	f.DurationVar(&flagTick, "tick", time.Second, "Evaluation interval")
	f.DurationVar(&flagHeartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	f.BoolVar(&flagConsole, "console", false, "Echo chat messages to the terminal")
	f.StringVar(&flagRedis, "redis", "", "Redis URL for the chat feed (empty to disable)")
}

func run(ctx context.Context, s config.Settings) error {
	logger := logging.FromContext(ctx)

	store := config.NewStore(s.ConfigPath, logger)
	cfg, wrote := store.Load()
	if wrote {
		logger.Info("settings file written", "path", store.Path())
	}

	sensors := []sensor.Sensor{sensor.Mount{}, sensor.Somnolence{}}
	if len(s.BedLines) > 0 {
		lines, err := sensor.ParseBedLines(s.BedLines)
		if err != nil {
			return fmt.Errorf("bed lines: %w", err)
		}
		reader, err := gpio.NewRealReader(s.GPIOChip, sensor.Offsets(lines), s.BedActiveLow)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		sensors = append(sensors, sensor.NewBed(reader, lines))
	}
	chain := sensor.NewChain(logger, sensors...)

	queue := control.NewQueue(controlQueueSize)

	host, err := mqtt.NewRealClient(mqtt.Options{
		Broker:    s.Broker,
		ClientID:  s.ClientID,
		Topics:    mqtt.NewTopics(s.TopicPrefix, s.World),
		Logger:    logger,
		OnControl: queue.Handle,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer host.Close()

	sinks := []logic.Notifier{host}
	if s.Console {
		sinks = append(sinks, notify.NewConsole(os.Stdout, playerNames(host)))
	}
	if s.RedisURL != "" {
		feed, err := notify.NewRedis(ctx, s.RedisURL, redisPrefix(s.World), logger)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer feed.Close()
		sinks = append(sinks, feed)
	}
	notifier := notify.NewMulti(sinks...)

	startTime := time.Now()
	controller := logic.NewController(cfg.Settings(), host, notifier, logger, startTime)

	names := make([]string, 0, len(sensors))
	for _, sn := range sensors {
		names = append(names, sn.Name())
	}
	tracker := status.NewTracker(startTime, status.Config{
		TickMs:      s.Tick.Milliseconds(),
		HeartbeatMs: s.Heartbeat.Milliseconds(),
		Broker:      s.Broker,
		World:       s.World,
		HTTPPort:    s.HTTPAddr,
		ConfigPath:  store.Path(),
		Sensors:     names,
	})
	tracker.SetRules(status.RulesFrom(controller.Settings()))
	tracker.SetMQTTConnected(host.IsConnected())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := host.PublishSystem(startup); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	}

	if s.HTTPAddr != "" {
		srv := web.New(s.HTTPAddr, tracker, queue)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", s.HTTPAddr)
	}

	logger.Info("started",
		"version", version,
		"world", s.World,
		"percent", cfg.RequiredPercent,
		"delay", cfg.DelaySeconds,
		"night_start", cfg.NightStart.String(),
		"night_end", cfg.NightEnd.String(),
		"sensors", names,
		"sinks", notifier.Len(),
	)

	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		host:       host,
		conn:       host,
		controller: controller,
		predicate:  chain,
		engine:     &engine{store: store, cfg: cfg, controller: controller, tracker: tracker, logger: logger},
		requests:   queue.Requests(),
		tracker:    tracker,
		logger:     logger,
		heartbeat:  s.Heartbeat,
		now:        time.Now,
	}
	return l.run(ctx, ticker.C, sigCh)
}

// playerNames resolves ids against the latest state report for console output.
func playerNames(host mqtt.Host) func(uuid.UUID) string {
	return func(id uuid.UUID) string {
		players, err := host.Participants(time.Now())
		if err != nil {
			return ""
		}
		for _, p := range players {
			if p.ID == id {
				return p.Name
			}
		}
		return ""
	}
}

// loop owns the controller. Ticks, control commands and shutdown are all
// handled on the goroutine that calls run.
type loop struct {
	host       mqtt.Host
	conn       mqtt.ConnectionStatus
	controller *logic.Controller
	predicate  logic.SleepPredicate
	engine     control.Handler
	requests   <-chan control.Request
	tracker    *status.Tracker
	logger     *slog.Logger
	heartbeat  time.Duration
	now        func() time.Time

	prev     logic.Snapshot
	lastSkip time.Time
	hostDown bool
}

func (l *loop) run(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			l.shutdown(s)
			return nil

		case req := <-l.requests:
			rep := control.Execute(ctx, l.engine, req.Command, req.Args)
			if rep.Err != nil {
				l.logger.Warn("control command failed", "command", req.Command, "args", req.Args, "error", rep.Err)
			} else {
				l.logger.Info("control command", "command", req.Command, "args", req.Args)
			}
			req.Respond(rep)

		case <-tick:
			l.step(ctx, l.now())
		}
	}
}

func (l *loop) step(ctx context.Context, t time.Time) {
	l.tracker.SetMQTTConnected(l.conn.IsConnected())

	players, err := l.host.Participants(t)
	if err != nil {
		if !l.hostDown {
			l.logger.Warn("no usable host state, skipping ticks", "error", err)
			l.hostDown = true
		}
		l.tracker.Update(status.Reading{LastSkip: l.lastSkip}, l.controller.EventCountsSnapshot())
		l.checkHeartbeat(t)
		return
	}
	if l.hostDown {
		l.logger.Info("host state available again")
		l.hostDown = false
	}

	active := l.controller.Settings()
	reading := status.Reading{HostOK: true, Night: true, LastSkip: l.lastSkip}
	if clock, err := l.host.CurrentTime(t); err != nil {
		l.logger.Debug("world clock unavailable, assuming night", "error", err)
	} else {
		reading.WorldTime = clock
		reading.ClockOK = true
		reading.Night = logic.IsNight(clock, active.NightStart, active.NightEnd)
	}

	snap, ok := logic.Sample(players, l.predicate)
	if ok {
		l.logTransitions(snap, players)
		l.prev = snap

		events := l.controller.Tick(ctx, logic.Input{Snapshot: snap, Night: reading.Night, Time: t})
		for _, e := range events {
			l.logEvent(e)
			if e.Type == logic.EventNightSkipped {
				l.lastSkip = e.Timestamp
				reading.LastSkip = e.Timestamp
			}
		}
	}

	reading.Sleeping = snap.Sleeping
	reading.Total = snap.Total
	reading.ArmedSince = l.controller.State().ThresholdReachedAt
	reading.Players = make([]status.Player, 0, len(players))
	for _, p := range players {
		reading.Players = append(reading.Players, status.Player{
			ID:     p.ID.String(),
			Name:   p.Name,
			Asleep: snap.IsAsleep(p.ID),
		})
	}
	l.tracker.Update(reading, l.controller.EventCountsSnapshot())

	l.checkHeartbeat(t)
}

func (l *loop) logTransitions(snap logic.Snapshot, players []logic.Participant) {
	fell, woke := snap.Diff(l.prev)
	if len(fell) == 0 && len(woke) == 0 {
		return
	}
	name := func(id uuid.UUID) string {
		for _, p := range players {
			if p.ID == id {
				return p.Name
			}
		}
		return id.String()
	}
	for _, id := range fell {
		l.logger.Debug("player asleep", "player", name(id))
	}
	for _, id := range woke {
		l.logger.Debug("player awake", "player", name(id))
	}
}

func (l *loop) logEvent(e logic.Event) {
	attrs := []any{"sleeping", e.Sleeping, "total", e.Total}
	switch e.Type {
	case logic.EventSkipFailed:
		l.logger.Error("night skip failed", append(attrs, "error", e.Err)...)
	case logic.EventSleepNotAllowed:
		l.logger.Info("event", append(attrs, "type", e.Type, "player", e.Participant)...)
	case logic.EventSleepStatus:
		l.logger.Debug("event", append(attrs, "type", e.Type)...)
	default:
		l.logger.Info("event", append(attrs, "type", e.Type)...)
	}
}

func (l *loop) checkHeartbeat(t time.Time) {
	hb := l.controller.CheckHeartbeat(t, l.heartbeat)
	if hb == nil {
		return
	}
	c := hb.Counts
	l.logger.Info("heartbeat",
		"uptime", hb.Uptime.Round(time.Second),
		"skipped", c.NightSkipped,
		"failed", c.SkipFailed,
		"reached", c.ThresholdReached,
		"lost", c.ThresholdLost,
	)

	if net := readNetworkInfo(); net != nil {
		l.tracker.SetNetwork(net)
	}
	snap := l.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  hb.Timestamp,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := l.host.PublishSystem(event); err != nil {
		l.logger.Warn("heartbeat publish error", "error", err)
	}
}

func (l *loop) shutdown(s os.Signal) {
	l.logger.Info("shutting down", "signal", s)
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}

	l.tracker.SetMQTTConnected(l.conn.IsConnected())
	snap := l.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
	}
	if err := l.host.PublishSystem(event); err != nil {
		l.logger.Warn("failed to publish shutdown event", "error", err)
	} else {
		l.logger.Info("published shutdown event")
	}
}

// readNetworkInfo returns nil when pi-helper has not written its env file.
func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)
