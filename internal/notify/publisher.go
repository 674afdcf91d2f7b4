package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// Publisher emits claim events to a durable RabbitMQ queue with publisher
// confirms. Events tell the billing/UI layer about decisions and settlement
// outcomes; delivery failures are logged by callers and never affect the
// claim's recorded state.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
	queue    string
	logger   *logger.Logger
	mu       sync.Mutex
}

// NewPublisher connects to RabbitMQ, declares the durable claim-events
// queue, and enables publisher confirms.
func NewPublisher(amqpURL, queueName string, log *logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // autoDelete
		false,     // exclusive
		false,     // noWait
		nil,       // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &Publisher{
		conn:     conn,
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		queue:    queueName,
		logger:   log,
	}, nil
}

// PublishClaimEvent publishes one claim event with persistence and waits
// for the broker confirm.
func (p *Publisher) PublishClaimEvent(ctx context.Context, event *types.ClaimEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal claim event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish claim event: %w", err)
	}

	select {
	case confirmed := <-p.confirms:
		if !confirmed.Ack {
			return fmt.Errorf("claim event not confirmed by broker")
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.WithClaimID(event.ClaimID).WithField("status", event.Status).Debug("Published claim event")
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NopPublisher discards events. Used when notifications are disabled.
type NopPublisher struct{}

func (NopPublisher) PublishClaimEvent(ctx context.Context, event *types.ClaimEvent) error {
	return nil
}

func (NopPublisher) Close() error { return nil }
