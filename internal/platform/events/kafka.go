package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events asynchronously to a single topic. Messages are
// keyed by subject so events about one record stay ordered in a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	source string
	logger zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic, source string, logger zerolog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{source: source, logger: logger}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Completion:   p.completion,
	}
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, subject string, data map[string]interface{}) {
	msg, err := toMessage(NewEvent(p.source, eventType, subject, data))
	if err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to encode event")
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to enqueue event")
	}
}

// completion is invoked by the async writer once a batch is acknowledged or
// has failed.
func (p *KafkaPublisher) completion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		p.logger.Error().Err(err).
			Str("event_type", headerValue(m, "event-type")).
			Str("event_id", headerValue(m, "event-id")).
			Str("topic", m.Topic).
			Msg("failed to publish event")
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(evt Event) (kafka.Message, error) {
	value, err := evt.Marshal()
	if err != nil {
		return kafka.Message{}, err
	}
	key := evt.Subject
	if key == "" {
		key = evt.ID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(evt.ID)},
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "source", Value: []byte(evt.Source)},
		},
	}, nil
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
