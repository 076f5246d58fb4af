// Package status provides a thread-safe status tracker for the nightskip daemon.
// It is written by the run loop and read by HTTP handlers and heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/nightskip/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	World       string
	HTTPPort    string
	ConfigPath  string
	Sensors     []string
}

// Rules are the active quorum settings.
type Rules struct {
	RequiredPercent float64
	DelaySeconds    int
	NightStart      logic.TimeOfDay
	NightEnd        logic.TimeOfDay
}

// RulesFrom converts controller settings for display.
func RulesFrom(s logic.Settings) Rules {
	return Rules{
		RequiredPercent: s.RequiredFraction * 100,
		DelaySeconds:    int(s.Delay / time.Second),
		NightStart:      s.NightStart,
		NightEnd:        s.NightEnd,
	}
}

// Player is one participant as last seen.
type Player struct {
	ID     string
	Name   string
	Asleep bool
}

// Reading is what the run loop learned on one tick.
type Reading struct {
	// HostOK is false while no fresh state report is available.
	HostOK    bool
	WorldTime logic.TimeOfDay
	ClockOK   bool
	Night     bool
	Sleeping  int
	Total     int
	Players   []Player
	// ArmedSince is zero while the quorum timer is not running.
	ArmedSince time.Time
	LastSkip   time.Time
}

// Percent returns the sleeping share as a percentage.
func (r Reading) Percent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Sleeping) * 100 / float64(r.Total)
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Reading
	Rules         Rules
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records a tick's reading and the event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(r Reading, counts logic.EventCounts) {
	players := make([]Player, len(r.Players))
	copy(players, r.Players)
	r.Players = players

	t.mu.Lock()
	t.snap.Reading = r
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetRules records the active quorum settings.
func (t *Tracker) SetRules(r Rules) {
	t.mu.Lock()
	t.snap.Rules = r
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Players = append([]Player(nil), t.snap.Players...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
