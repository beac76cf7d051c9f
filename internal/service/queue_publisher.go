// Package service provides functions to publish domain events to RabbitMQ.
// Errors are logged and returned so callers can ignore failures without
// interrupting the main request flow.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/sms-service/internal/metrics"
	q "github.com/iliyamo/sms-service/internal/queue"
)

// Publisher hands accepted messages to whatever delivers them.
type Publisher interface {
	PublishMessageAccepted(ctx context.Context, event q.MessageAcceptedEvent) error
}

// NopPublisher drops every event.  It is used when the queue is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishMessageAccepted(context.Context, q.MessageAcceptedEvent) error { return nil }

// RabbitPublisher publishes each event to a durable queue.  A connection is
// opened per publish; the send path is low volume and this keeps the
// publisher free of reconnect state.
type RabbitPublisher struct {
	URL   string
	Queue string
	Log   zerolog.Logger
}

// PublishMessageAccepted publishes event to the configured queue.  The
// function never panics; any error is logged and returned.  Messages are
// marked as persistent.
func (p *RabbitPublisher) PublishMessageAccepted(ctx context.Context, event q.MessageAcceptedEvent) (err error) {
	defer func() { metrics.ObservePublish(err) }()

	conn, err := amqp.Dial(p.URL)
	if err != nil {
		p.Log.Error().Err(err).Msg("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Log.Error().Err(err).Msg("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err = ch.QueueDeclare(
		p.Queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		p.Log.Error().Err(err).Msg("rabbitmq: queue declare failed")
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.Log.Error().Err(err).Msg("rabbitmq: marshal event failed")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.MessageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.Queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.Log.Error().Err(err).Msg("rabbitmq: publish failed")
		return err
	}
	return nil
}
