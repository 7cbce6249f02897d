package live

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/model"
)

// Client follows the update topics of a growing set of forecast
// subscriptions. Topics are only ever added.
type Client struct {
	client mqtt.Client
	log    *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	topics   map[string]struct{}
	order    []string
	messages []model.UpdateMessage
	onUpdate func(model.UpdateMessage)
}

// Options configure a Client.
type Options struct {
	BrokerURL string
	ClientID  string
	// OnUpdate is called for every decoded message, outside the client lock.
	OnUpdate func(model.UpdateMessage)
	// ConnectTimeout bounds the initial connect, 10s when zero.
	ConnectTimeout time.Duration
	Log            *logger.Logger
}

// Connect dials the broker. Lost connections are retried by paho and every
// known topic is subscribed again after each (re)connect. Messages published
// while disconnected are not replayed.
func Connect(opts Options) (*Client, error) {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	c := &Client{
		log:      opts.Log,
		now:      func() time.Time { return time.Now().UTC() },
		topics:   make(map[string]struct{}),
		onUpdate: opts.OnUpdate,
	}

	mo := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetMaxReconnectInterval(5 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetOnConnectHandler(c.resubscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warning("live update connection lost", map[string]any{"error": err})
		})

	c.client = mqtt.NewClient(mo)
	tok := c.client.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: timeout", opts.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.BrokerURL, err)
	}
	return c, nil
}

// Watch subscribes to the topics of any ids not already watched. It returns
// the topics that were newly added.
func (c *Client) Watch(ids ...string) ([]string, error) {
	c.mu.Lock()
	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		topic := model.TopicFor(id)
		if _, ok := c.topics[topic]; ok {
			continue
		}
		c.topics[topic] = struct{}{}
		c.order = append(c.order, topic)
		added = append(added, topic)
	}
	c.mu.Unlock()

	if len(added) == 0 || !c.client.IsConnectionOpen() {
		// resubscribe picks them up on the next connect
		return added, nil
	}
	return added, c.subscribe(added)
}

// Topics returns the watched topics in the order they were added.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Messages returns every update received so far, oldest first.
func (c *Client) Messages() []model.UpdateMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.UpdateMessage(nil), c.messages...)
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) subscribe(topics []string) error {
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = 0
	}
	tok := c.client.SubscribeMultiple(filters, c.handle)
	if !tok.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe: timeout")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.log.Debug("subscribed to live update topics", map[string]any{"topics": topics})
	return nil
}

func (c *Client) resubscribe(_ mqtt.Client) {
	topics := c.Topics()
	if len(topics) == 0 {
		return
	}
	// Runs on paho's connect goroutine; waiting on the token here would block it.
	go func() {
		if err := c.subscribe(topics); err != nil {
			c.log.Error(err, map[string]any{"topics": len(topics)})
		}
	}()
}

func (c *Client) handle(_ mqtt.Client, m mqtt.Message) {
	var msg model.UpdateMessage
	if err := json.Unmarshal(m.Payload(), &msg); err != nil {
		c.log.Warning("discarding malformed update", map[string]any{"topic": m.Topic(), "error": err})
		return
	}
	received := c.now()
	msg.ReceivedAt = &received

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	cb := c.onUpdate
	c.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}
