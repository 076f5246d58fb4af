package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/logic"
	"github.com/sweeney/nightskip/internal/render"
)

// SentMessage is a private chat message recorded by FakeHost.
type SentMessage struct {
	ID      uuid.UUID
	Message render.Message
}

// FakeHost records host traffic for test assertions. State is fed with
// SetState and goes stale exactly like the real client.
type FakeHost struct {
	mu    sync.Mutex
	state stateCache

	// ClockError, if set, will be returned by CurrentTime while the player
	// list stays available.
	ClockError error

	// AdvanceCalls counts AdvanceToDay invocations, including failures.
	AdvanceCalls int

	// AdvanceError, if set, will be returned by AdvanceToDay.
	AdvanceError error

	// Broadcasts contains every message sent to all players.
	Broadcasts []render.Message

	// Sent contains every private message.
	Sent []SentMessage

	// NotifyError, if set, will be returned by Broadcast and Send.
	NotifyError error

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeHost creates a FakeHost for testing.
func NewFakeHost() *FakeHost {
	return &FakeHost{Connected: true}
}

// SetState records a state report as received at at.
func (f *FakeHost) SetState(clock logic.TimeOfDay, players []logic.Participant, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.set(Report{Time: clock, Participants: players}, at)
}

// SetReport records a decoded report, including any clock error, as
// received at at.
func (f *FakeHost) SetReport(r Report, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.set(r, at)
}

// Participants returns the players from the latest report.
func (f *FakeHost) Participants(now time.Time) ([]logic.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.participants(now)
}

// CurrentTime returns the clock from the latest report.
func (f *FakeHost) CurrentTime(now time.Time) (logic.TimeOfDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ClockError != nil {
		if err := f.state.check(now); err != nil {
			return 0, err
		}
		return 0, f.ClockError
	}
	return f.state.clock(now)
}

// AdvanceToDay records the skip.
func (f *FakeHost) AdvanceToDay(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AdvanceCalls++
	return f.AdvanceError
}

// Broadcast records msg.
func (f *FakeHost) Broadcast(_ context.Context, msg render.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NotifyError != nil {
		return f.NotifyError
	}
	f.Broadcasts = append(f.Broadcasts, msg)
	return nil
}

// Send records a private message.
func (f *FakeHost) Send(_ context.Context, id uuid.UUID, msg render.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NotifyError != nil {
		return f.NotifyError
	}
	f.Sent = append(f.Sent, SentMessage{ID: id, Message: msg})
	return nil
}

// PublishSystem records the system event.
func (f *FakeHost) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the host as closed.
func (f *FakeHost) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake host is "connected".
func (f *FakeHost) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded traffic and state.
func (f *FakeHost) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = stateCache{}
	f.ClockError = nil
	f.AdvanceCalls = 0
	f.AdvanceError = nil
	f.Broadcasts = nil
	f.Sent = nil
	f.NotifyError = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.PublishSystemError = nil
	f.Closed = false
}

var _ Host = (*FakeHost)(nil)
