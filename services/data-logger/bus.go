package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BusState is the connection state machine of the manager:
// DISCONNECTED -> CONNECTING -> SUBSCRIBED -> DISCONNECTED (error) -> CONNECTING ...
type BusState int32

const (
	StateDisconnected BusState = iota
	StateConnecting
	StateSubscribed
)

func (s BusState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	default:
		return "DISCONNECTED"
	}
}

// ClientFactory builds the paho client. Production code passes
// mqtt.NewClient, tests pass a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// MessageHandler receives messages from the delivery loop, one at a time.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// BusConfig is the part of Config the connection manager cares about.
type BusConfig struct {
	Broker    string
	ClientID  string
	KeepAlive time.Duration
	Topics    []string

	// InboxSize bounds the messages waiting for the delivery loop. When it
	// is full the paho callback blocks, which in turn stops reading from
	// the broker.
	InboxSize int
}

// busQoS is "at most once": messages lost while disconnected are gone.
const busQoS = 0

type inboundMessage struct {
	topic   string
	payload []byte
}

// BusManager owns the MQTT client and its subscriptions. There is exactly
// one instance per process, passed explicitly to whoever needs it.
type BusManager struct {
	cfg     BusConfig
	client  mqtt.Client
	inbox   chan inboundMessage
	state   atomic.Int32
	metrics *Metrics

	subscribeRetry time.Duration
	done           chan struct{}
	closeOnce      sync.Once

	mu     sync.RWMutex
	logger *slog.Logger
}

// NewBusManager prepares the client options and creates the client. Nothing
// is connected until Start.
func NewBusManager(cfg BusConfig, newClient ClientFactory, metrics *Metrics) *BusManager {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}

	b := &BusManager{
		cfg:     cfg,
		inbox:   make(chan inboundMessage, cfg.InboxSize),
		metrics: metrics,
		logger:  slog.Default(),

		subscribeRetry: 5 * time.Second,
		done:           make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	// A fresh session on every connect: no backlog of queued messages.
	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	// Retry the first connect and reconnect after a drop, forever.
	// A broker that is down must never take the process with it.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOrderMatters(true)
	opts.SetDefaultPublishHandler(b.onMessage)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	opts.SetReconnectingHandler(b.onReconnecting)

	b.client = newClient(opts)
	b.setState(StateDisconnected)
	return b
}

// Client exposes the underlying client, e.g. for the MQTT log writer.
func (b *BusManager) Client() mqtt.Client {
	return b.client
}

// SetLogger replaces the logger. Called once by main, before Start.
func (b *BusManager) SetLogger(logger *slog.Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

func (b *BusManager) log() *slog.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logger
}

// State returns the current connection state.
func (b *BusManager) State() BusState {
	return BusState(b.state.Load())
}

func (b *BusManager) setState(s BusState) {
	b.state.Store(int32(s))
	b.metrics.setBusState(s)
}

// Start begins connecting. It returns immediately: with ConnectRetry the
// connect token only completes once the broker accepted us, and the
// subscription happens in onConnect.
func (b *BusManager) Start() {
	b.setState(StateConnecting)
	b.log().Info("Connecting to MQTT broker", "broker", b.cfg.Broker, "client_id", b.cfg.ClientID)

	token := b.client.Connect()
	go func() {
		// Only for the log: an error here means Close was called before
		// the first successful connect.
		if token.Wait() && token.Error() != nil {
			b.log().Warn("MQTT connect aborted", "error", token.Error())
		}
	}()
}

// onConnect runs after every successful (re)connect. The session is
// clean, so the subscriptions are renewed every time.
func (b *BusManager) onConnect(c mqtt.Client) {
	filters := make(map[string]byte, len(b.cfg.Topics))
	for _, topic := range b.cfg.Topics {
		filters[topic] = busQoS
	}

	for {
		token := c.SubscribeMultiple(filters, b.onMessage)
		if token.Wait() && token.Error() == nil {
			break
		}
		b.log().Warn("Subscribe failed", "topics", b.cfg.Topics, "error", token.Error())

		// If the connection is gone, the next onConnect subscribes again.
		if !c.IsConnectionOpen() {
			return
		}
		select {
		case <-b.done:
			return
		case <-time.After(b.subscribeRetry):
		}
	}

	b.setState(StateSubscribed)
	b.log().Info("Connected to MQTT, listening", "broker", b.cfg.Broker, "topics", b.cfg.Topics)
}

func (b *BusManager) onConnectionLost(_ mqtt.Client, err error) {
	b.setState(StateDisconnected)
	b.metrics.connectionLost()
	b.log().Warn("MQTT connection lost", "error", err)
}

func (b *BusManager) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	b.setState(StateConnecting)
	b.log().Warn("Reconnecting to MQTT broker", "broker", b.cfg.Broker)
}

// onMessage is the paho callback. It copies the message into the inbox and
// returns; routing happens in Run.
func (b *BusManager) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	select {
	case b.inbox <- inboundMessage{topic: msg.Topic(), payload: payload}:
	case <-b.done:
		// Shutting down, the delivery loop is gone.
	}
}

// Run is the delivery loop: it hands every inbound message to handle,
// synchronously and in arrival order, until ctx is cancelled.
func (b *BusManager) Run(ctx context.Context, handle MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.inbox:
			b.deliver(ctx, handle, msg)
		}
	}
}

// deliver isolates one message: a panic in the handler costs this message,
// not the subscriber.
func (b *BusManager) deliver(ctx context.Context, handle MessageHandler, msg inboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.log().Error("Message handler panicked", "topic", msg.topic, "panic", fmt.Sprint(r))
		}
	}()
	handle(ctx, msg.topic, msg.payload)
}

// Close disconnects cleanly. This is the only designed exit of the manager.
func (b *BusManager) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.client.Disconnect(250)
	b.setState(StateDisconnected)
	b.log().Info("Disconnected from MQTT broker")
}
