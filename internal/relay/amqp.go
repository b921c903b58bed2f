package relay

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"doerline/internal/apperr"
	"doerline/internal/domain"
)

const DefaultExchange = "doerline.events"

// Publisher is the part of *amqp.Channel the sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes every event to a topic exchange, routed by event type.
type AMQPSink struct {
	pub      Publisher
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
}

// NewAMQPSink wraps an existing publisher.
func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPSink{pub: pub, exchange: exchange}
}

// DialAMQP connects to the broker and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, apperr.Unavailable("amqp dial", fmt.Errorf("connect to broker: %w", err))
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	s := NewAMQPSink(ch, exchange)
	s.conn, s.ch = conn, ch
	return s, nil
}

func (s *AMQPSink) Name() string { return "amqp:" + s.exchange }

func (s *AMQPSink) Accept(string) bool { return true }

func (s *AMQPSink) StartAtLatest() bool { return true }

func (s *AMQPSink) Deliver(ctx context.Context, evt domain.Event) error {
	body, err := eventBody(evt)
	if err != nil {
		return err
	}
	return s.pub.PublishWithContext(ctx, s.exchange, evt.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%d", evt.ID),
		Type:         evt.Type,
		Body:         body,
	})
}

// Close releases the connection opened by DialAMQP.
func (s *AMQPSink) Close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
