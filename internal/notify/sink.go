package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/mqttbroker"
)

// Sink delivers tagged update messages to a transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg model.UpdateMessage) error
}

// BrokerSink publishes to the in-process MQTT broker.
type BrokerSink struct {
	broker *mqttbroker.Broker
}

func NewBrokerSink(b *mqttbroker.Broker) *BrokerSink {
	return &BrokerSink{broker: b}
}

func (s *BrokerSink) Name() string { return "mqtt-embedded" }

func (s *BrokerSink) Publish(ctx context.Context, msg model.UpdateMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize update: %w", err)
	}
	return s.broker.Publish(msg.Topic(), body)
}

// MQTTSink publishes through a paho client connected to an external broker.
type MQTTSink struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewMQTTSink(client mqtt.Client) *MQTTSink {
	return &MQTTSink{client: client, timeout: 5 * time.Second}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ctx context.Context, msg model.UpdateMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize update: %w", err)
	}

	tok := s.client.Publish(msg.Topic(), 0, false, body)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout):
		return fmt.Errorf("mqtt publish timeout")
	}
}
