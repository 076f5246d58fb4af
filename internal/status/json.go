package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Quorum        QuorumJSON   `json:"quorum"`
	World         WorldJSON    `json:"world"`
	Players       []PlayerJSON `json:"players"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// QuorumJSON describes the sleep census and the threshold.
type QuorumJSON struct {
	Sleeping        int     `json:"sleeping"`
	Total           int     `json:"total"`
	Percent         float64 `json:"percent"`
	RequiredPercent float64 `json:"required_percent"`
	DelaySeconds    int     `json:"delay_seconds"`
	Armed           bool    `json:"armed"`
	ArmedSince      string  `json:"armed_since,omitempty"`
	LastSkip        string  `json:"last_skip,omitempty"`
}

// WorldJSON describes the host's clock.
type WorldJSON struct {
	Connected  bool   `json:"connected"`
	Time       string `json:"time,omitempty"`
	Night      bool   `json:"night"`
	NightStart string `json:"night_start"`
	NightEnd   string `json:"night_end"`
}

// PlayerJSON is one participant.
type PlayerJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Asleep bool   `json:"asleep"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	SleepStatus      int `json:"sleep_status"`
	ThresholdReached int `json:"threshold_reached"`
	ThresholdLost    int `json:"threshold_lost"`
	NightSkipped     int `json:"night_skipped"`
	SkipFailed       int `json:"skip_failed"`
	SleepNotAllowed  int `json:"sleep_not_allowed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64    `json:"tick_ms"`
	HeartbeatMs int64    `json:"heartbeat_ms"`
	Broker      string   `json:"broker"`
	World       string   `json:"world"`
	HTTPPort    string   `json:"http_port"`
	ConfigPath  string   `json:"config_path"`
	Sensors     []string `json:"sensors"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Quorum: QuorumJSON{
			Sleeping:        snap.Sleeping,
			Total:           snap.Total,
			Percent:         round1(snap.Percent()),
			RequiredPercent: round1(snap.Rules.RequiredPercent),
			DelaySeconds:    snap.Rules.DelaySeconds,
			Armed:           !snap.ArmedSince.IsZero(),
			ArmedSince:      stamp(snap.ArmedSince),
			LastSkip:        stamp(snap.LastSkip),
		},
		World: WorldJSON{
			Connected:  snap.HostOK,
			Night:      snap.Night,
			NightStart: snap.Rules.NightStart.String(),
			NightEnd:   snap.Rules.NightEnd.String(),
		},
		Players:       make([]PlayerJSON, 0, len(snap.Players)),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     stamp(snap.StartTime),
		Timestamp:     stamp(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			SleepStatus:      snap.Counts.SleepStatus,
			ThresholdReached: snap.Counts.ThresholdReached,
			ThresholdLost:    snap.Counts.ThresholdLost,
			NightSkipped:     snap.Counts.NightSkipped,
			SkipFailed:       snap.Counts.SkipFailed,
			SleepNotAllowed:  snap.Counts.SleepNotAllowed,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			World:       snap.Config.World,
			HTTPPort:    snap.Config.HTTPPort,
			ConfigPath:  snap.Config.ConfigPath,
			Sensors:     snap.Config.Sensors,
		},
	}
	if snap.ClockOK {
		inner.World.Time = snap.WorldTime.String()
	}
	for _, p := range snap.Players {
		inner.Players = append(inner.Players, PlayerJSON{ID: p.ID, Name: p.Name, Asleep: p.Asleep})
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
