package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bdougie/vidfeatures/internal/models"
)

// Publisher is the subset of an AMQP channel used to publish records
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes msgpack records to a topic exchange
type AMQPSink struct {
	mu         sync.Mutex
	channel    Publisher
	closer     func() error
	exchange   string
	routingKey string
	runID      string
}

// NewAMQPSink dials RabbitMQ and declares the topic exchange
func NewAMQPSink(url, exchange, featureType, runID string, logger *slog.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger.Info("publishing features", "exchange", exchange, "routing_key", RoutingKey(featureType))

	sink := NewAMQPPublisherSink(ch, exchange, featureType, runID)
	sink.closer = func() error {
		return errors.Join(ch.Close(), conn.Close())
	}
	return sink, nil
}

// NewAMQPPublisherSink wraps an already open publisher
func NewAMQPPublisherSink(pub Publisher, exchange, featureType, runID string) *AMQPSink {
	return &AMQPSink{
		channel:    pub,
		exchange:   exchange,
		routingKey: RoutingKey(featureType),
		runID:      runID,
	}
}

// RoutingKey returns the routing key records of featureType are published with
func RoutingKey(featureType string) string {
	return "features." + featureType
}

func (s *AMQPSink) Write(ctx context.Context, videoPath string, rec *models.Record) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishes
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.channel.PublishWithContext(ctx,
		s.exchange,
		s.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  msgpackContentType,
			Body:         data,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers: amqp.Table{
				"x-video-path": videoPath,
				"x-run-id":     s.runID,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish features for '%s': %w", videoPath, err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
