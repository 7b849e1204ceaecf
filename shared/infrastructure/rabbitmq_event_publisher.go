package infrastructure

import (
	"context"
	"sync"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ events.Publisher = (*RabbitMQEventPublisher)(nil)

// AMQPChannel is the part of an amqp channel the publisher uses
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQEventPublisher publishes events to a durable topic exchange. The
// routing key is "<destination>.<event type>" so consumers bind per service.
type RabbitMQEventPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  AMQPChannel
	exchange string
}

// DialRabbitMQ connects and declares the exchange
func DialRabbitMQ(url, exchange string) (*RabbitMQEventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to RabbitMQ")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to open RabbitMQ channel")
	}

	publisher, err := NewRabbitMQEventPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn

	return publisher, nil
}

// NewRabbitMQEventPublisher declares the exchange on an open channel
func NewRabbitMQEventPublisher(ch AMQPChannel, exchange string) (*RabbitMQEventPublisher, error) {
	// ExchangeDeclare is idempotent
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Wrap(err, "failed to declare exchange")
	}

	return &RabbitMQEventPublisher{channel: ch, exchange: exchange}, nil
}

// Publish sends events one by one; the first failure stops the call
func (p *RabbitMQEventPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	for _, event := range evts {
		if err := p.publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (p *RabbitMQEventPublisher) publish(ctx context.Context, event *events.Event) error {
	key := RoutingKey(event)
	ctx, span := telemetry.StartSpan(ctx, "rabbitmq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", p.exchange),
			attribute.String("messaging.rabbitmq.routing_key", key),
		),
	)
	defer span.End()

	body, err := event.ToJSON()
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	traceHeaders := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(traceHeaders))

	headers := make(amqp.Table, len(event.Metadata)+len(traceHeaders))
	for k, v := range event.Metadata {
		if k == SQSMessageIDKey || k == SQSReceiptHandleKey || k == SQSReceiveCountKey {
			continue
		}
		headers[k] = v
	}
	for k, v := range traceHeaders {
		headers[k] = v
	}

	p.mu.Lock()
	err = p.channel.Publish(p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID.String(),
		CorrelationId: event.CorrelationID.String(),
		Type:          event.EventType,
		Timestamp:     event.Timestamp,
		Headers:       headers,
		Body:          body,
	})
	p.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "failed to publish %s", event.EventType)
	}

	span.SetAttributes(attribute.Int("messaging.message_payload_size_bytes", len(body)))
	return nil
}

// RoutingKey is "<destination>.<event type>", or the event type alone
func RoutingKey(event *events.Event) string {
	if destination := event.Metadata[events.MetadataDestination]; destination != "" {
		return destination + "." + event.EventType
	}
	return event.EventType
}

// Close closes the channel and the connection it was dialed with
func (p *RabbitMQEventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		return errors.Wrap(err, "failed to close RabbitMQ channel")
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
