package logic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/render"
)

// GraceWindow is how long after a skip daytime sleepers are left alone.
// Players are still lying in bed for a tick or two after the sun comes up.
const GraceWindow = 2 * time.Second

// Input is everything the controller needs for one tick.
type Input struct {
	Snapshot Snapshot
	Night    bool
	Time     time.Time
}

// State is the transient part of the controller. It is exported for
// status reporting only; the controller owns the live copy.
type State struct {
	// ThresholdReachedAt is zero while the quorum is not armed.
	ThresholdReachedAt time.Time
	LastSleeping       int
	LastTotal          int
	LastWasSleeping    bool
	// IgnoreDaySleepUntil is the end of the post-skip grace window.
	IgnoreDaySleepUntil time.Time
	NotifiedDaySleepers map[uuid.UUID]struct{}
}

// Armed reports whether the quorum timer is running.
func (s State) Armed() bool {
	return !s.ThresholdReachedAt.IsZero()
}

// Controller decides when enough players have been asleep long enough to
// skip the night. It is not safe for concurrent use; the caller runs all
// ticks and reconfigurations from a single goroutine.
type Controller struct {
	settings      Settings
	host          Host
	notifier      Notifier
	logger        *slog.Logger
	state         State
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewController creates a controller with fresh state. The startTime is
// used for calculating uptime in heartbeat events.
func NewController(settings Settings, host Host, notifier Notifier, logger *slog.Logger, startTime time.Time) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		settings:      settings,
		host:          host,
		notifier:      notifier,
		logger:        logger,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
	c.state.NotifiedDaySleepers = make(map[uuid.UUID]struct{})
	c.resetTransient()
	return c
}

func (c *Controller) resetTransient() {
	c.state.LastWasSleeping = false
	c.state.LastSleeping = -1
	c.state.LastTotal = -1
	c.state.ThresholdReachedAt = time.Time{}
}

// Reset installs new settings and clears the transient counters so the next
// tick re-announces the sleep status. The day-sleeper notices and grace
// window are kept so a reload does not re-notify players already told.
func (c *Controller) Reset(settings Settings) {
	c.settings = settings
	c.resetTransient()
}

// Configure installs new settings without touching state.
func (c *Controller) Configure(settings Settings) {
	c.settings = settings
}

// Settings returns the active settings.
func (c *Controller) Settings() Settings {
	return c.settings
}

// State returns a copy of the transient state.
func (c *Controller) State() State {
	s := c.state
	s.NotifiedDaySleepers = make(map[uuid.UUID]struct{}, len(c.state.NotifiedDaySleepers))
	for id := range c.state.NotifiedDaySleepers {
		s.NotifiedDaySleepers[id] = struct{}{}
	}
	return s
}

// EventCountsSnapshot returns a copy of the event counters.
func (c *Controller) EventCountsSnapshot() EventCounts {
	return c.eventCounts
}

// Tick runs one evaluation and returns what the controller did.
func (c *Controller) Tick(ctx context.Context, in Input) []Event {
	snap := in.Snapshot
	if snap.Total == 0 {
		return nil
	}

	t := &tick{ctx: ctx, in: in}
	c.step(t)
	for _, e := range t.events {
		c.eventCounts.add(e.Type)
	}
	return t.events
}

type tick struct {
	ctx    context.Context
	in     Input
	events []Event
}

func (t *tick) emit(e Event) {
	e.Timestamp = t.in.Time
	e.Sleeping = t.in.Snapshot.Sleeping
	e.Total = t.in.Snapshot.Total
	t.events = append(t.events, e)
}

func (c *Controller) step(t *tick) {
	snap, now, night := t.in.Snapshot, t.in.Time, t.in.Night
	st := &c.state

	if snap.Sleeping > 0 {
		if !st.LastWasSleeping {
			c.logger.Debug("sleep detected",
				"sleeping", snap.Sleeping, "total", snap.Total,
				"percent", fmt.Sprintf("%.1f", snap.Fraction()*100), "night", night)
		}
		st.LastWasSleeping = true
	} else {
		st.LastWasSleeping = false
	}

	// Players who got up become eligible for another notice later.
	if snap.Sleeping == 0 {
		clear(st.NotifiedDaySleepers)
	} else {
		for id := range st.NotifiedDaySleepers {
			if !snap.IsAsleep(id) {
				delete(st.NotifiedDaySleepers, id)
			}
		}
	}

	if night && (snap.Sleeping != st.LastSleeping || snap.Total != st.LastTotal) {
		c.broadcast(t, c.settings.Templates.SleepStatus, EventSleepStatus)
		st.LastSleeping = snap.Sleeping
		st.LastTotal = snap.Total
	}

	if !night && snap.Sleeping > 0 {
		st.LastSleeping = snap.Sleeping
		st.LastTotal = snap.Total
		st.ThresholdReachedAt = time.Time{}
		if now.Before(st.IgnoreDaySleepUntil) {
			return
		}
		for _, id := range snap.Asleep {
			if _, done := st.NotifiedDaySleepers[id]; done {
				continue
			}
			c.send(t, id)
			st.NotifiedDaySleepers[id] = struct{}{}
		}
		return
	}

	if !night {
		st.ThresholdReachedAt = time.Time{}
		return
	}

	met := snap.Sleeping > 0 && snap.Fraction() >= c.settings.RequiredFraction
	switch {
	case met && !st.Armed():
		st.ThresholdReachedAt = now
		c.logger.Info("threshold reached", "sleeping", snap.Sleeping, "total", snap.Total, "delay", c.settings.Delay)
		c.broadcast(t, c.settings.Templates.ThresholdReached, EventThresholdReached)
	case !met && st.Armed():
		st.ThresholdReachedAt = time.Time{}
		c.logger.Info("threshold lost", "sleeping", snap.Sleeping, "total", snap.Total)
		c.broadcast(t, c.settings.Templates.ThresholdLost, EventThresholdLost)
	}

	if !st.Armed() || now.Sub(st.ThresholdReachedAt) < c.settings.Delay {
		return
	}

	if err := c.host.AdvanceToDay(t.ctx); err != nil {
		// Stay armed: the next tick retries with the original start time.
		c.logger.Warn("failed to skip night", "error", err)
		t.emit(Event{Type: EventSkipFailed, Err: err})
		return
	}
	c.broadcast(t, c.settings.Templates.NightSkipped, EventNightSkipped)
	c.logger.Info("night skipped", "sleeping", snap.Sleeping, "total", snap.Total)
	st.LastWasSleeping = false
	st.IgnoreDaySleepUntil = now.Add(GraceWindow)
	st.ThresholdReachedAt = time.Time{}
}

// Vars builds the template variables for a snapshot.
func (c *Controller) Vars(snap Snapshot) render.Vars {
	return render.Vars{
		"sleeping": fmt.Sprint(snap.Sleeping),
		"total":    fmt.Sprint(snap.Total),
		"percent":  fmt.Sprintf("%.1f", snap.Fraction()*100),
		"required": fmt.Sprintf("%.1f", c.settings.RequiredFraction*100),
		"delay":    fmt.Sprint(int64(c.settings.Delay / time.Second)),
	}
}

func (c *Controller) broadcast(t *tick, tmpl string, typ EventType) {
	t.emit(Event{Type: typ})
	msg := render.Render(tmpl, c.Vars(t.in.Snapshot))
	if msg.Empty() {
		return
	}
	if err := c.notifier.Broadcast(t.ctx, msg); err != nil {
		c.logger.Warn("broadcast failed", "event", typ, "error", err)
	}
}

func (c *Controller) send(t *tick, id uuid.UUID) {
	t.emit(Event{Type: EventSleepNotAllowed, Participant: id})
	msg := render.Render(c.settings.Templates.SleepNotAllowed, c.Vars(t.in.Snapshot))
	if msg.Empty() {
		return
	}
	if err := c.notifier.Send(t.ctx, id, msg); err != nil {
		c.logger.Warn("notice failed", "participant", id, "error", err)
	}
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since
// the last heartbeat (or startup). Returns nil if interval is <= 0.
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}
	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.startTime),
		Counts:    c.eventCounts,
	}
}
