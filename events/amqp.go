package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPConfig names the exchange events are published to. Routing keys are
// RoutingPrefix + "." + event type.
type AMQPConfig struct {
	URL           string
	Exchange      string
	RoutingPrefix string
}

// DefaultAMQPConfig returns a durable topic exchange named "auctoritas.events".
func DefaultAMQPConfig() AMQPConfig {
	return AMQPConfig{
		Exchange:      "auctoritas.events",
		RoutingPrefix: "auctoritas",
	}
}

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events as persistent JSON messages to a topic
// exchange.
type AMQPPublisher struct {
	cfg     AMQPConfig
	conn    *amqp.Connection
	channel amqpChannel
	logger  *zap.Logger
	mu      sync.Mutex
}

// DialAMQP connects to cfg.URL, opens a channel and declares the exchange.
func DialAMQP(cfg AMQPConfig, logger *zap.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("events: empty amqp url")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	p, err := newAMQPPublisher(cfg, ch, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(cfg AMQPConfig, ch amqpChannel, logger *zap.Logger) (*AMQPPublisher, error) {
	defaults := DefaultAMQPConfig()
	if cfg.Exchange == "" {
		cfg.Exchange = defaults.Exchange
	}
	if cfg.RoutingPrefix == "" {
		cfg.RoutingPrefix = defaults.RoutingPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	return &AMQPPublisher{cfg: cfg, channel: ch, logger: logger}, nil
}

// Publish sends event with headers mirroring its routing attributes.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	routingKey := p.cfg.RoutingPrefix + "." + event.Type

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
			Headers: amqp.Table{
				"event_type": event.Type,
				"tenant_id":  event.TenantID,
			},
			Body: body,
		},
	)
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", routingKey, err)
	}
	p.logger.Debug("event published", zap.String("routing_key", routingKey), zap.Int("size", len(body)))
	return nil
}

// Close closes the channel and, when owned, the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
