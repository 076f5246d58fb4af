package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/logic"
	"github.com/sweeney/nightskip/internal/render"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	controlTimeout = 10 * time.Second

	// DefaultBufferSize is how many chat messages are kept while offline.
	DefaultBufferSize = 100
)

// ErrNotConnected is returned for commands issued while the broker is away.
var ErrNotConnected = errors.New("mqtt not connected")

// Options configure a RealClient.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	Logger     *slog.Logger
	BufferSize int
	// OnControl answers commands from the control topic. Nil disables the
	// subscription.
	OnControl ControlHandler
	// Now defaults to time.Now.
	Now func() time.Time
}

// RealClient talks to a game host through an actual MQTT broker.
type RealClient struct {
	client    paho.Client
	topics    Topics
	logger    *slog.Logger
	onControl ControlHandler
	now       func() time.Time

	mu     sync.Mutex
	state  stateCache
	buffer *ringBuffer
}

// NewRealClient connects to the broker and subscribes to the host topics.
func NewRealClient(opts Options) (*RealClient, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	c := &RealClient{
		topics:    opts.Topics,
		logger:    opts.Logger.With("component", "mqtt"),
		onControl: opts.OnControl,
		now:       opts.Now,
	}
	c.buffer = newRingBuffer(opts.BufferSize, c.logger)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: opts.Now(),
		Event:     "OFFLINE",
		Reason:    "CONNECTION_LOST",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWriteTimeout(publishTimeout).
		SetBinaryWill(opts.Topics.System, will, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("connection lost", "error", err)
		})

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// onConnect runs on every (re)connect: subscriptions are renewed and any
// chat held while offline is replayed.
func (c *RealClient) onConnect(client paho.Client) {
	c.logger.Info("connected", "base", c.topics.Base)

	subs := map[string]byte{c.topics.State: 0}
	if c.onControl != nil {
		subs[c.topics.Control] = 1
	}
	token := client.SubscribeMultiple(subs, c.route)
	if !token.WaitTimeout(publishTimeout) {
		c.logger.Warn("subscribe timeout")
	} else if err := token.Error(); err != nil {
		c.logger.Warn("subscribe failed", "error", err)
	}

	c.mu.Lock()
	pending := c.buffer.drainAll()
	c.mu.Unlock()
	if len(pending) > 0 {
		c.logger.Info("replaying buffered chat", "count", len(pending))
	}
	for _, m := range pending {
		t := client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !t.WaitTimeout(publishTimeout) || t.Error() != nil {
			c.logger.Warn("replay failed", "topic", m.topic, "error", t.Error())
		}
	}
}

func (c *RealClient) route(_ paho.Client, msg paho.Message) {
	switch msg.Topic() {
	case c.topics.State:
		c.handleState(msg.Payload())
	case c.topics.Control:
		c.handleControl(msg.Payload())
	}
}

func (c *RealClient) handleState(payload []byte) {
	r, err := ParseState(payload)
	if err != nil {
		c.logger.Warn("ignoring state report", "error", err)
		return
	}
	if r.TimeErr != nil {
		c.logger.Debug("state report without clock", "error", r.TimeErr)
	}
	if r.Dropped > 0 {
		c.logger.Warn("dropped players with bad ids", "count", r.Dropped)
	}
	c.mu.Lock()
	c.state.set(r, c.now())
	c.mu.Unlock()
}

func (c *RealClient) handleControl(payload []byte) {
	req, err := ParseControl(payload)
	if err != nil {
		c.logger.Warn("ignoring control message", "error", err)
		return
	}
	// The handler waits on the run loop; keep paho's router free meanwhile.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		reply := c.onControl(ctx, req.Command, req.Args)
		data, err := FormatChat(c.now(), "control", reply)
		if err != nil {
			c.logger.Warn("format control reply", "error", err)
			return
		}
		t := c.client.Publish(c.topics.ControlReply, 1, false, data)
		if err := wait(ctx, t); err != nil {
			c.logger.Warn("publish control reply", "error", err)
		}
	}()
}

// Participants returns the players from the latest state report.
func (c *RealClient) Participants(now time.Time) ([]logic.Participant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.participants(now)
}

// CurrentTime returns the world clock from the latest state report.
func (c *RealClient) CurrentTime(now time.Time) (logic.TimeOfDay, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clock(now)
}

// AdvanceToDay asks the host to set the time to day. The command is never
// buffered: a skip issued late could land in the middle of the next night.
func (c *RealClient) AdvanceToDay(ctx context.Context) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload, err := FormatCommand(c.now(), AdvanceCommand)
	if err != nil {
		return fmt.Errorf("format command: %w", err)
	}
	if err := wait(ctx, c.client.Publish(c.topics.Command, 1, false, payload)); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	return nil
}

// Broadcast sends msg to every player.
func (c *RealClient) Broadcast(ctx context.Context, msg render.Message) error {
	return c.publishChat(ctx, c.topics.ChatAll, TargetAll, msg)
}

// Send sends msg to one player.
func (c *RealClient) Send(ctx context.Context, id uuid.UUID, msg render.Message) error {
	return c.publishChat(ctx, c.topics.ChatPlayer(id), id.String(), msg)
}

// publishChat hands chat to paho and returns. Delivery is QoS 0, so the
// outcome is only logged; the loop never waits on a slow broker for chat.
func (c *RealClient) publishChat(_ context.Context, topic, target string, msg render.Message) error {
	payload, err := FormatChat(c.now(), target, msg)
	if err != nil {
		return fmt.Errorf("format chat: %w", err)
	}
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		c.buffer.push(bufferedMsg{topic: topic, payload: payload})
		c.mu.Unlock()
		return nil
	}
	go c.watch(topic, c.client.Publish(topic, 0, false, payload))
	return nil
}

func (c *RealClient) watch(topic string, t paho.Token) {
	if !t.WaitTimeout(publishTimeout) {
		c.logger.Warn("chat publish timeout", "topic", topic)
		return
	}
	if err := t.Error(); err != nil {
		c.logger.Warn("chat publish failed", "topic", topic, "error", err)
	}
}

// PublishSystem sends a system lifecycle event to the broker.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	token := c.client.Publish(c.topics.System, 1, event.Retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns the number of chat messages waiting for a reconnect.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.len()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}

func wait(ctx context.Context, t paho.Token) error {
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", publishTimeout)
	}
}

var _ Host = (*RealClient)(nil)
