package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/model"
)

// RoutingKey is the topic exchange routing key of a subscription's updates.
func RoutingKey(subscriptionID string) string {
	return "forecast.subscription." + subscriptionID
}

// amqpChannel is the part of *amqp.Channel the sink uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink mirrors update messages onto a RabbitMQ topic exchange.
type AMQPSink struct {
	conn      *amqp.Connection
	channel   amqpChannel
	exchange  string
	log       *logger.Logger
	healthy   atomic.Bool
	closeOnce sync.Once
}

// DialAMQP connects, declares the topic exchange and returns a ready sink.
func DialAMQP(url, exchange string, log *logger.Logger) (*AMQPSink, error) {
	if log == nil {
		log = logger.Nop()
	}

	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	s := &AMQPSink{conn: c, channel: ch, exchange: exchange, log: log}
	s.healthy.Store(true)

	closed := make(chan *amqp.Error, 1)
	c.NotifyClose(closed)
	go func() {
		if err, ok := <-closed; ok {
			s.healthy.Store(false)
			log.Warning("RabbitMQ connection closed", map[string]any{"error": err})
		}
	}()

	log.Info("connected to RabbitMQ", map[string]any{"exchange": exchange})
	return s, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Publish(ctx context.Context, msg model.UpdateMessage) error {
	if !s.healthy.Load() {
		return fmt.Errorf("broker connection is closed")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize update: %w", err)
	}

	return s.channel.PublishWithContext(
		ctx,
		s.exchange,
		RoutingKey(msg.ID),
		false,
		false,
		amqp.Publishing{
			Headers:      amqp.Table{"message_id": msg.MessageID},
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			MessageId:    msg.MessageID,
			Body:         body,
		},
	)
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.healthy.Store(false)
		if s.channel != nil {
			err = s.channel.Close()
		}
		if s.conn != nil {
			if cerr := s.conn.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
