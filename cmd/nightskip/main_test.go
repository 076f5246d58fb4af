package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/config"
	"github.com/sweeney/nightskip/internal/control"
	"github.com/sweeney/nightskip/internal/gpio"
	"github.com/sweeney/nightskip/internal/logic"
	"github.com/sweeney/nightskip/internal/mqtt"
	"github.com/sweeney/nightskip/internal/notify"
	"github.com/sweeney/nightskip/internal/render"
	"github.com/sweeney/nightskip/internal/sensor"
	"github.com/sweeney/nightskip/internal/status"
	"github.com/sweeney/nightskip/internal/web"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.IP != "" {
		t.Errorf("IP: got %q, want empty", info.IP)
	}
}

// --- loop tests ---

var (
	aliceID = uuid.MustParse("6f1c3a34-7d0e-4a8b-9a55-0f2a1f3f6c11")
	bobID   = uuid.MustParse("0b4e2d7a-2f7e-4b8e-8a0c-3d9b2c1e5f22")
)

var nightStart = time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from the loop goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// aliceInBed has alice mounted on a bed and bob awake.
func aliceInBed() []logic.Participant {
	return []logic.Participant{
		{ID: aliceID, Name: "alice", MountID: 3},
		{ID: bobID, Name: "bob"},
	}
}

const testSettings = `{
  "requiredSleepPercent": 50,
  "skipDelaySeconds": 2,
  "nightStartHour": 18,
  "nightEndHour": 6,
  "nightStartTime": "18:00",
  "nightEndTime": "06:00",
  "messageSleepStatus": "status {sleeping}/{total}",
  "messageThresholdReached": "reached",
  "messageThresholdLost": "lost",
  "messageNightSkipped": "skipped",
  "messageSleepNotAllowed": "day"
}
`

type harness struct {
	t       *testing.T
	host    *mqtt.FakeHost
	ctrl    *logic.Controller
	tracker *status.Tracker
	queue   *control.Queue
	store   *config.Store
	tick    chan time.Time
	sig     chan os.Signal
	errCh   chan error
}

type harnessOpts struct {
	heartbeat time.Duration
	predicate logic.SleepPredicate
}

// startLoop runs a loop over a FakeHost whose clock starts at start and
// advances by step on every call.
func startLoop(t *testing.T, start time.Time, step time.Duration, opts harnessOpts) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "nightskip.json")
	if err := os.WriteFile(path, []byte(testSettings), 0o644); err != nil {
		t.Fatal(err)
	}
	store := config.NewStore(path, logger)
	cfg, _ := store.Load()

	pred := opts.predicate
	if pred == nil {
		pred = sensor.NewChain(logger, sensor.Mount{}, sensor.Somnolence{})
	}

	h := &harness{
		t:       t,
		host:    mqtt.NewFakeHost(),
		tracker: status.NewTracker(start, status.Config{}),
		queue:   control.NewQueue(1),
		store:   store,
		tick:    make(chan time.Time),
		sig:     make(chan os.Signal, 1),
		errCh:   make(chan error, 1),
	}
	h.ctrl = logic.NewController(cfg.Settings(), h.host, h.host, logger, start)
	h.tracker.SetRules(status.RulesFrom(h.ctrl.Settings()))

	l := &loop{
		host:       h.host,
		conn:       h.host,
		controller: h.ctrl,
		predicate:  pred,
		engine:     &engine{store: store, cfg: cfg, controller: h.ctrl, tracker: h.tracker, logger: logger},
		requests:   h.queue.Requests(),
		tracker:    h.tracker,
		logger:     logger,
		heartbeat:  opts.heartbeat,
		now:        fakeClock(start, step),
	}
	go func() {
		h.errCh <- l.run(context.Background(), h.tick, h.sig)
	}()
	return h
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.tick <- time.Time{}
	}
}

// submit runs a control command. Because the loop handles one thing at a
// time, the reply also means every earlier tick has finished.
func (h *harness) submit(command string, args ...string) control.Reply {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := h.queue.Submit(ctx, command, args...)
	if err != nil {
		h.t.Fatalf("submit %s: %v", command, err)
	}
	return rep
}

func (h *harness) stop(sig os.Signal) {
	h.t.Helper()
	h.sig <- sig
	if err := <-h.errCh; err != nil {
		h.t.Fatalf("loop returned error: %v", err)
	}
}

func plains(h *mqtt.FakeHost) []string {
	out := make([]string, 0, len(h.Broadcasts))
	for _, m := range h.Broadcasts {
		out = append(out, m.Plain())
	}
	return out
}

func assertBroadcasts(t *testing.T, h *mqtt.FakeHost, want ...string) {
	t.Helper()
	got := plains(h)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("broadcasts:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestLoopSkipsNightAfterDelay(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart)

	h.ticks(3) // t=0 arms, t=2s skips
	h.stop(syscall.SIGTERM)

	if h.host.AdvanceCalls != 1 {
		t.Errorf("AdvanceCalls: got %d, want 1", h.host.AdvanceCalls)
	}
	assertBroadcasts(t, h.host, "status 1/2", "reached", "skipped")

	snap := h.tracker.Snapshot()
	if !snap.LastSkip.Equal(nightStart.Add(2 * time.Second)) {
		t.Errorf("LastSkip: got %v", snap.LastSkip)
	}
	if snap.Counts.NightSkipped != 1 || snap.Counts.ThresholdReached != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if !snap.ArmedSince.IsZero() {
		t.Errorf("should be disarmed after skip, armed since %v", snap.ArmedSince)
	}

	if len(h.host.SystemEvents) != 1 || h.host.SystemEvents[0].Event != "SHUTDOWN" {
		t.Fatalf("expected only SHUTDOWN, got %+v", h.host.SystemEvents)
	}
}

func TestLoopClockUnavailableAssumesNight(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(0, aliceInBed(), nightStart)
	h.host.ClockError = errors.New("state time: missing")

	h.ticks(3)
	h.stop(syscall.SIGTERM)

	if h.host.AdvanceCalls != 1 {
		t.Errorf("AdvanceCalls: got %d, want 1", h.host.AdvanceCalls)
	}
	assertBroadcasts(t, h.host, "status 1/2", "reached", "skipped")

	snap := h.tracker.Snapshot()
	if snap.ClockOK {
		t.Error("ClockOK should be false without a clock")
	}
	if !snap.Night || !snap.HostOK {
		t.Errorf("Night=%v HostOK=%v, want both true", snap.Night, snap.HostOK)
	}
}

func TestLoopTracksPlayers(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart)

	h.ticks(1)
	h.submit("help")

	snap := h.tracker.Snapshot()
	h.stop(syscall.SIGTERM)

	if !snap.HostOK || !snap.ClockOK || !snap.Night {
		t.Errorf("flags: host=%v clock=%v night=%v", snap.HostOK, snap.ClockOK, snap.Night)
	}
	if snap.WorldTime != logic.Clock(23, 0, 0) {
		t.Errorf("WorldTime: got %v", snap.WorldTime)
	}
	if snap.Sleeping != 1 || snap.Total != 2 || snap.Percent() != 50 {
		t.Errorf("census: %d/%d (%.1f%%)", snap.Sleeping, snap.Total, snap.Percent())
	}
	if !snap.ArmedSince.Equal(nightStart) {
		t.Errorf("ArmedSince: got %v, want %v", snap.ArmedSince, nightStart)
	}
	want := []status.Player{
		{ID: aliceID.String(), Name: "alice", Asleep: true},
		{ID: bobID.String(), Name: "bob", Asleep: false},
	}
	if len(snap.Players) != len(want) {
		t.Fatalf("players: got %+v", snap.Players)
	}
	for i := range want {
		if snap.Players[i] != want[i] {
			t.Errorf("player %d: got %+v, want %+v", i, snap.Players[i], want[i])
		}
	}
}

func TestLoopNoHostState(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})

	h.ticks(3)
	h.stop(syscall.SIGTERM)

	if len(h.host.Broadcasts) != 0 || h.host.AdvanceCalls != 0 {
		t.Errorf("expected no traffic, got broadcasts=%d advances=%d", len(h.host.Broadcasts), h.host.AdvanceCalls)
	}
	if h.tracker.Snapshot().HostOK {
		t.Error("HostOK should be false without state")
	}
}

func TestLoopStaleStateSkipsTicks(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart.Add(-mqtt.StaleAfter-time.Second))

	h.ticks(4)
	h.stop(syscall.SIGTERM)

	if len(h.host.Broadcasts) != 0 || h.host.AdvanceCalls != 0 {
		t.Errorf("stale state must not drive the controller: %q", plains(h.host))
	}
}

func TestLoopEmptyWorldDoesNothing(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), nil, nightStart)

	h.ticks(3)
	h.stop(syscall.SIGTERM)

	if len(h.host.Broadcasts) != 0 {
		t.Errorf("expected no broadcasts, got %q", plains(h.host))
	}
	snap := h.tracker.Snapshot()
	if !snap.HostOK || snap.Total != 0 {
		t.Errorf("HostOK=%v Total=%d", snap.HostOK, snap.Total)
	}
}

func TestLoopHostRecovers(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})

	h.ticks(2)
	h.submit("help")
	// The third clock reading is nightStart+2s.
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart.Add(2*time.Second))
	h.ticks(1)
	h.stop(syscall.SIGTERM)

	assertBroadcasts(t, h.host, "status 1/2", "reached")
}

func TestLoopDaySleeperNotifiedOnce(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(12, 0, 0), aliceInBed(), nightStart)

	h.ticks(3)
	h.stop(syscall.SIGTERM)

	if len(h.host.Broadcasts) != 0 {
		t.Errorf("no broadcasts expected during the day, got %q", plains(h.host))
	}
	if len(h.host.Sent) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(h.host.Sent))
	}
	if h.host.Sent[0].ID != aliceID || h.host.Sent[0].Message.Plain() != "day" {
		t.Errorf("notice: got %+v", h.host.Sent[0])
	}
	if h.tracker.Snapshot().Night {
		t.Error("Night should be false at noon")
	}
}

func TestLoopSkipFailureRetries(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart)
	h.host.AdvanceError = errors.New("host refused")

	h.ticks(4) // attempts at t=2s and t=3s
	h.stop(syscall.SIGTERM)

	if h.host.AdvanceCalls != 2 {
		t.Errorf("AdvanceCalls: got %d, want 2", h.host.AdvanceCalls)
	}
	assertBroadcasts(t, h.host, "status 1/2", "reached")

	snap := h.tracker.Snapshot()
	if snap.Counts.SkipFailed != 2 || snap.Counts.NightSkipped != 0 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if !snap.ArmedSince.Equal(nightStart) {
		t.Errorf("should stay armed from the first crossing, got %v", snap.ArmedSince)
	}
}

func TestLoopThresholdLost(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart)

	h.ticks(1)
	h.submit("help")
	h.host.SetState(logic.Clock(23, 0, 1), []logic.Participant{
		{ID: aliceID, Name: "alice"},
		{ID: bobID, Name: "bob"},
	}, nightStart)
	h.ticks(2)
	h.stop(syscall.SIGTERM)

	assertBroadcasts(t, h.host, "status 1/2", "reached", "status 0/2", "lost")
	if h.host.AdvanceCalls != 0 {
		t.Errorf("AdvanceCalls: got %d, want 0", h.host.AdvanceCalls)
	}
}

func TestLoopSetPercentViaQueue(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart)

	rep := h.submit("setpercent", "100")
	if rep.Err != nil {
		t.Fatalf("unexpected error: %v", rep.Err)
	}
	if !strings.Contains(rep.Plain(), "Sleep percent set to 100.0%.") {
		t.Errorf("reply: got %q", rep.Plain())
	}

	h.ticks(3)
	h.stop(syscall.SIGTERM)

	assertBroadcasts(t, h.host, "status 1/2")
	if h.host.AdvanceCalls != 0 {
		t.Errorf("AdvanceCalls: got %d, want 0", h.host.AdvanceCalls)
	}
	if got := h.tracker.Snapshot().Rules.RequiredPercent; got != 100 {
		t.Errorf("tracked percent: got %v", got)
	}

	saved, wrote := h.store.Load()
	if wrote {
		t.Error("saved file should not need repair")
	}
	if saved.RequiredPercent != 100 || saved.DelaySeconds != 2 {
		t.Errorf("saved: percent=%v delay=%d", saved.RequiredPercent, saved.DelaySeconds)
	}
	if saved.Templates.NightSkipped != "skipped" {
		t.Errorf("templates lost on save: %+v", saved.Templates)
	}
}

func TestLoopSetDelayKeepsArmedTimer(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart)

	h.ticks(1) // armed at t=0
	if rep := h.submit("setdelay", "5"); rep.Err != nil {
		t.Fatalf("unexpected error: %v", rep.Err)
	}
	h.ticks(5) // t=1s..5s, skip at t=5s
	h.stop(syscall.SIGTERM)

	if h.host.AdvanceCalls != 1 {
		t.Errorf("AdvanceCalls: got %d, want 1", h.host.AdvanceCalls)
	}
	assertBroadcasts(t, h.host, "status 1/2", "reached", "skipped")
	if got := h.tracker.Snapshot().LastSkip; !got.Equal(nightStart.Add(5 * time.Second)) {
		t.Errorf("LastSkip: got %v", got)
	}
}

func TestLoopReloadReannouncesStatus(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart)

	h.ticks(1)
	rep := h.submit("reload")
	if rep.Err != nil {
		t.Fatalf("unexpected error: %v", rep.Err)
	}
	if !strings.Contains(rep.Plain(), "Configuración recargada.") {
		t.Errorf("reply: got %q", rep.Plain())
	}
	h.ticks(1)
	h.stop(syscall.SIGTERM)

	assertBroadcasts(t, h.host, "status 1/2", "reached", "status 1/2", "reached")
	if got := h.tracker.Snapshot().ArmedSince; !got.Equal(nightStart.Add(time.Second)) {
		t.Errorf("reload should restart the timer, armed since %v", got)
	}
}

func TestLoopReloadPicksUpFileChanges(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.SetState(logic.Clock(23, 0, 0), aliceInBed(), nightStart)

	edited := strings.Replace(testSettings, `"requiredSleepPercent": 50`, `"requiredSleepPercent": 75`, 1)
	if err := os.WriteFile(h.store.Path(), []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}
	h.submit("reload")
	h.ticks(3)
	h.stop(syscall.SIGTERM)

	assertBroadcasts(t, h.host, "status 1/2")
	if got := h.tracker.Snapshot().Rules.RequiredPercent; got != 75 {
		t.Errorf("tracked percent: got %v, want 75", got)
	}
}

func TestLoopUnknownCommand(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	rep := h.submit("sleep")
	h.stop(syscall.SIGTERM)

	if !errors.Is(rep.Err, control.ErrUnknownCommand) {
		t.Errorf("got %v, want ErrUnknownCommand", rep.Err)
	}
	if len(rep.Lines) != len(control.Help().Lines) {
		t.Errorf("unknown command should show help, got %q", rep.Plain())
	}
}

func TestLoopBedSensor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader := gpio.NewFakeReader(map[int]bool{17: true})
	pred := sensor.NewChain(logger, sensor.NewBed(reader, map[uuid.UUID]int{bobID: 17}))

	h := startLoop(t, nightStart, time.Second, harnessOpts{predicate: pred})
	h.host.SetState(logic.Clock(23, 0, 0), []logic.Participant{
		{ID: aliceID, Name: "alice"},
		{ID: bobID, Name: "bob"},
	}, nightStart)

	h.ticks(1)
	h.submit("help")
	snap := h.tracker.Snapshot()
	h.stop(syscall.SIGTERM)

	if snap.Sleeping != 1 || !snap.Players[1].Asleep {
		t.Errorf("bob should be asleep on the mat: %+v", snap.Players)
	}
}

func TestLoopHeartbeat(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{heartbeat: time.Second})
	h.host.SetState(logic.Clock(12, 0, 0), nil, nightStart)

	h.ticks(3) // t=0 is startup, heartbeats at t=1s and t=2s
	h.stop(syscall.SIGTERM)

	var beats []mqtt.SystemEvent
	for _, e := range h.host.SystemEvents {
		if e.Event == "HEARTBEAT" {
			beats = append(beats, e)
		}
	}
	if len(beats) != 2 {
		t.Fatalf("expected 2 heartbeats, got %d", len(beats))
	}
	if !beats[0].Timestamp.Equal(nightStart.Add(time.Second)) {
		t.Errorf("first heartbeat at %v", beats[0].Timestamp)
	}
	if beats[0].Retained {
		t.Error("heartbeats should not be retained")
	}

	var parsed status.StatusJSON
	if err := json.Unmarshal(beats[0].RawPayload, &parsed); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("event: got %q", parsed.Status.Event)
	}
	if parsed.Status.Quorum.RequiredPercent != 50 {
		t.Errorf("required_percent: got %v", parsed.Status.Quorum.RequiredPercent)
	}
}

func TestLoopHeartbeatWithoutHostState(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{heartbeat: time.Second})
	h.ticks(2)
	h.stop(syscall.SIGTERM)

	if len(h.host.SystemEvents) != 2 || h.host.SystemEvents[0].Event != "HEARTBEAT" {
		t.Errorf("heartbeat should not depend on host state: %+v", h.host.SystemEvents)
	}
}

func TestLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.0.0.5")

	h := startLoop(t, nightStart, time.Second, harnessOpts{heartbeat: time.Second})
	h.ticks(2)
	h.stop(syscall.SIGTERM)

	var parsed status.StatusJSON
	if err := json.Unmarshal(h.host.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if parsed.Status.Network == nil || parsed.Status.Network.IP != "10.0.0.5" {
		t.Errorf("network: got %+v", parsed.Status.Network)
	}
}

func TestLoopShutdownSignals(t *testing.T) {
	for name, sig := range map[string]os.Signal{"SIGINT": syscall.SIGINT, "SIGTERM": syscall.SIGTERM} {
		t.Run(name, func(t *testing.T) {
			h := startLoop(t, nightStart, time.Second, harnessOpts{})
			h.stop(sig)

			if len(h.host.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(h.host.SystemEvents))
			}
			ev := h.host.SystemEvents[0]
			if ev.Event != "SHUTDOWN" || ev.Reason != name || !ev.Retained {
				t.Errorf("got %+v", ev)
			}
			var parsed status.StatusJSON
			if err := json.Unmarshal(ev.RawPayload, &parsed); err != nil {
				t.Fatalf("invalid payload: %v", err)
			}
			if parsed.Status.Reason != name {
				t.Errorf("reason: got %q", parsed.Status.Reason)
			}
		})
	}
}

func TestLoopShutdownPublishError(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.PublishSystemError = errors.New("broker gone")
	h.stop(syscall.SIGTERM) // must still return nil
}

func TestLoopTracksMQTTConnection(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	h.host.Connected = false
	h.ticks(1)
	h.submit("help")
	connected := h.tracker.Snapshot().MQTTConnected
	h.stop(syscall.SIGTERM)

	if connected {
		t.Error("MQTTConnected should follow the host")
	}
}

// --- ctl tests ---

func TestControlURL(t *testing.T) {
	tests := []struct {
		addr, command, want string
	}{
		{":8080", "reload", "http://localhost:8080/control/reload"},
		{"pi.local:80", "setpercent", "http://pi.local:80/control/setpercent"},
		{"http://10.0.0.2:8080/", "help", "http://10.0.0.2:8080/control/help"},
		{"https://example.com", "set delay", "https://example.com/control/set%20delay"},
	}
	for _, tt := range tests {
		if got := controlURL(tt.addr, tt.command); got != tt.want {
			t.Errorf("controlURL(%q, %q): got %s, want %s", tt.addr, tt.command, got, tt.want)
		}
	}
}

func TestSendControlAgainstDaemon(t *testing.T) {
	h := startLoop(t, nightStart, time.Second, harnessOpts{})
	srv := httptest.NewServer(web.New("", h.tracker, h.queue).Handler())
	defer srv.Close()

	resp, err := sendControl(context.Background(), srv.Client(), srv.URL, "setdelay", []string{"7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK || !strings.Contains(resp.Plain, "Delay set to 7s.") {
		t.Errorf("got %+v", resp)
	}

	resp, err = sendControl(context.Background(), srv.Client(), srv.URL, "setdelay", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OK || resp.Error == "" {
		t.Errorf("usage error should not be OK: %+v", resp)
	}

	h.stop(syscall.SIGTERM)
	if got := h.tracker.Snapshot().Rules.DelaySeconds; got != 7 {
		t.Errorf("DelaySeconds: got %d, want 7", got)
	}
}

func TestSendControlDaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	if _, err := sendControl(context.Background(), http.DefaultClient, addr, "help", nil); err == nil {
		t.Error("expected error when the daemon is unreachable")
	}
}

func TestSendControlNonJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := sendControl(context.Background(), srv.Client(), srv.URL, "help", nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("got %v, want error naming the status", err)
	}
}

// --- config check ---

func TestSummarize(t *testing.T) {
	cfg := config.Default().WithDelay(3)
	s := summarize("x.json", cfg, true)

	if s.Path != "x.json" || !s.Rewritten {
		t.Errorf("got %+v", s)
	}
	if s.Delay != "3s" {
		t.Errorf("Delay: got %q", s.Delay)
	}
	if s.NightStart != config.DefaultNightStartTime {
		t.Errorf("NightStart: got %q", s.NightStart)
	}
	if len(s.Templates) != 5 || s.Templates["night_skipped"] != config.DefaultMessageNightSkipped {
		t.Errorf("templates: got %v", s.Templates)
	}
}

// --- history ---

func TestPrintHistoryOldestFirst(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	feed, err := notify.NewRedis(ctx, "redis://"+mr.Addr(), redisPrefix("test"), nil)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer feed.Close()

	_ = feed.Broadcast(ctx, render.Text("first", "#22C55E", true))
	_ = feed.Send(ctx, aliceID, render.Text("second", "", false))
	_ = feed.Broadcast(ctx, render.Text("third", "", false))

	var buf bytes.Buffer
	if err := printHistory(ctx, &buf, lipgloss.NewRenderer(&buf), feed, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "@"+aliceID.String()) || !strings.HasSuffix(lines[0], "second") {
		t.Errorf("line 0: got %q", lines[0])
	}
	if !strings.Contains(lines[1], " all ") || !strings.HasSuffix(lines[1], "third") {
		t.Errorf("line 1: got %q", lines[1])
	}
}

type brokenHistory struct{}

func (brokenHistory) History(context.Context, int64) ([]string, error) {
	return nil, errors.New("redis gone")
}

func TestPrintHistoryError(t *testing.T) {
	var buf bytes.Buffer
	if err := printHistory(context.Background(), &buf, lipgloss.NewRenderer(&buf), brokenHistory{}, 5); err == nil {
		t.Error("expected error")
	}
}

func TestPrintHistoryKeepsUnreadableEntries(t *testing.T) {
	var buf bytes.Buffer
	src := fakeHistory{"not json"}
	if err := printHistory(context.Background(), &buf, lipgloss.NewRenderer(&buf), src, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "not json") {
		t.Errorf("got %q", buf.String())
	}
}

type fakeHistory []string

func (f fakeHistory) History(context.Context, int64) ([]string, error) {
	return f, nil
}
