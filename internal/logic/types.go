// Package logic contains the sleep quorum controller and its pure helpers.
// Nothing here talks to MQTT, GPIO or the filesystem; collaborators are
// injected as interfaces and time always arrives as a parameter.
package logic

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/render"
)

// Participant is one player reported by the host for the current tick.
// MountID and SleepState are raw readings consumed by sleep sensors.
type Participant struct {
	ID         uuid.UUID
	Name       string
	MountID    int
	SleepState string
}

// EventType names something the controller did during a tick.
type EventType string

const (
	EventSleepStatus      EventType = "SLEEP_STATUS"
	EventThresholdReached EventType = "THRESHOLD_REACHED"
	EventThresholdLost    EventType = "THRESHOLD_LOST"
	EventNightSkipped     EventType = "NIGHT_SKIPPED"
	EventSkipFailed       EventType = "SKIP_FAILED"
	EventSleepNotAllowed  EventType = "SLEEP_NOT_ALLOWED"
)

// Event records one controller action.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Sleeping  int
	Total     int
	// Participant is set for per-player notices.
	Participant uuid.UUID
	Err         error
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	SleepStatus      int
	ThresholdReached int
	ThresholdLost    int
	NightSkipped     int
	SkipFailed       int
	SleepNotAllowed  int
}

func (c *EventCounts) add(t EventType) {
	switch t {
	case EventSleepStatus:
		c.SleepStatus++
	case EventThresholdReached:
		c.ThresholdReached++
	case EventThresholdLost:
		c.ThresholdLost++
	case EventNightSkipped:
		c.NightSkipped++
	case EventSkipFailed:
		c.SkipFailed++
	case EventSleepNotAllowed:
		c.SleepNotAllowed++
	}
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

// Templates holds the five configurable message templates.
type Templates struct {
	SleepStatus      string
	ThresholdReached string
	ThresholdLost    string
	NightSkipped     string
	SleepNotAllowed  string
}

// Settings is the controller configuration. It is replaced wholesale on
// reload and never mutated by the controller itself.
type Settings struct {
	RequiredFraction float64
	Delay            time.Duration
	NightStart       TimeOfDay
	NightEnd         TimeOfDay
	Templates        Templates
}

// Host performs the one mutating action the controller issues.
type Host interface {
	AdvanceToDay(ctx context.Context) error
}

// Notifier delivers rendered messages to everyone or to one participant.
type Notifier interface {
	Broadcast(ctx context.Context, msg render.Message) error
	Send(ctx context.Context, id uuid.UUID, msg render.Message) error
}
