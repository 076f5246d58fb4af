// Package mqtt connects the controller to a game host over MQTT. The host
// publishes its player list and clock, and accepts commands and chat.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/logic"
	"github.com/sweeney/nightskip/internal/render"
)

// StaleAfter is how old a state report may get before it is ignored.
const StaleAfter = 10 * time.Second

// AdvanceCommand is the console command that ends the night.
const AdvanceCommand = "time set day"

var (
	// ErrNoState is returned before the first state report arrives.
	ErrNoState = errors.New("no state received from host")
	// ErrStaleState is returned when the last report is older than StaleAfter.
	ErrStaleState = errors.New("host state is stale")
)

// Topics holds the topic names for one world.
type Topics struct {
	Base         string
	State        string
	Command      string
	ChatAll      string
	Control      string
	ControlReply string
	System       string
}

// NewTopics builds the topic set under prefix/world.
func NewTopics(prefix, world string) Topics {
	base := strings.TrimSuffix(prefix, "/") + "/" + world
	return Topics{
		Base:         base,
		State:        base + "/state",
		Command:      base + "/command",
		ChatAll:      base + "/chat/all",
		Control:      base + "/control",
		ControlReply: base + "/control/reply",
		System:       base + "/system",
	}
}

// ChatPlayer returns the private chat topic for one participant.
func (t Topics) ChatPlayer(id uuid.UUID) string {
	return t.Base + "/chat/player/" + id.String()
}

// Host is the controller's view of the game server.
type Host interface {
	logic.Host
	logic.Notifier

	// Participants returns the players from the latest state report.
	Participants(now time.Time) ([]logic.Participant, error)

	// CurrentTime returns the world clock from the latest state report.
	CurrentTime(now time.Time) (logic.TimeOfDay, error)

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// ControlHandler answers a control command received over MQTT.
type ControlHandler func(ctx context.Context, command string, args []string) render.Message

// Report is a decoded state message.
type Report struct {
	Time         logic.TimeOfDay
	Participants []logic.Participant
	// TimeErr is set when the report carried no usable clock. The players
	// are still valid.
	TimeErr error
	// Dropped counts players skipped for an unparsable id.
	Dropped int
}

// StatePayload is the wire form of a state report.
type StatePayload struct {
	Time    string          `json:"time"`
	Players []PlayerPayload `json:"players"`
}

// PlayerPayload is one player in a state report.
type PlayerPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MountID    int    `json:"mount_id"`
	SleepState string `json:"sleep_state"`
}

// ParseState decodes a state report. Only malformed JSON fails the whole
// report: a bad clock is recorded in TimeErr and a player with a bad id is
// left out.
func ParseState(data []byte) (Report, error) {
	var p StatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Report{}, fmt.Errorf("decode state: %w", err)
	}
	r := Report{Participants: make([]logic.Participant, 0, len(p.Players))}
	if t, err := logic.ParseTimeOfDay(p.Time); err != nil {
		r.TimeErr = fmt.Errorf("state time: %w", err)
	} else {
		r.Time = t
	}
	for _, pl := range p.Players {
		id, err := uuid.Parse(pl.ID)
		if err != nil {
			r.Dropped++
			continue
		}
		r.Participants = append(r.Participants, logic.Participant{
			ID:         id,
			Name:       pl.Name,
			MountID:    pl.MountID,
			SleepState: pl.SleepState,
		})
	}
	return r, nil
}

// CommandPayload is sent to the host to run a console command.
type CommandPayload struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
}

// FormatCommand creates the payload for a host command.
func FormatCommand(now time.Time, command string) ([]byte, error) {
	return json.Marshal(CommandPayload{
		Command:   command,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// ChatPayload wraps a rendered chat message.
type ChatPayload struct {
	Message ChatMessage `json:"message"`
}

// ChatMessage carries both plain text and styled runs so hosts without
// colour support can still show it.
type ChatMessage struct {
	Timestamp string       `json:"timestamp"`
	Target    string       `json:"target"`
	Plain     string       `json:"plain"`
	Runs      []render.Run `json:"runs"`
}

// TargetAll addresses a chat message to every player.
const TargetAll = "all"

// FormatChat creates the payload for a chat message. target is TargetAll
// or a player id.
func FormatChat(now time.Time, target string, msg render.Message) ([]byte, error) {
	runs := msg.Runs
	if runs == nil {
		runs = []render.Run{}
	}
	return json.Marshal(ChatPayload{Message: ChatMessage{
		Timestamp: now.UTC().Format(time.RFC3339),
		Target:    target,
		Plain:     msg.Plain(),
		Runs:      runs,
	}})
}

// ControlPayload is a control command received on the control topic.
type ControlPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// ParseControl decodes a control command.
func ParseControl(data []byte) (ControlPayload, error) {
	var p ControlPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ControlPayload{}, fmt.Errorf("decode control: %w", err)
	}
	p.Command = strings.TrimSpace(p.Command)
	if p.Command == "" {
		return ControlPayload{}, errors.New("decode control: empty command")
	}
	return p, nil
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload is the payload for simple system events (LWT, RECONNECTED)
// that don't carry a status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// stateCache holds the latest state report and answers staleness queries.
type stateCache struct {
	report     Report
	receivedAt time.Time
}

func (c *stateCache) set(r Report, at time.Time) {
	c.report = r
	c.receivedAt = at
}

func (c *stateCache) check(now time.Time) error {
	if c.receivedAt.IsZero() {
		return ErrNoState
	}
	if now.Sub(c.receivedAt) > StaleAfter {
		return fmt.Errorf("%w: last report %s ago", ErrStaleState, now.Sub(c.receivedAt).Round(time.Second))
	}
	return nil
}

func (c *stateCache) participants(now time.Time) ([]logic.Participant, error) {
	if err := c.check(now); err != nil {
		return nil, err
	}
	out := make([]logic.Participant, len(c.report.Participants))
	copy(out, c.report.Participants)
	return out, nil
}

func (c *stateCache) clock(now time.Time) (logic.TimeOfDay, error) {
	if err := c.check(now); err != nil {
		return 0, err
	}
	if c.report.TimeErr != nil {
		return 0, c.report.TimeErr
	}
	return c.report.Time, nil
}
