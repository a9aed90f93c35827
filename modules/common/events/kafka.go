package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaSink exports slot results and stream terminations to a topic keyed by task id.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Msgf("⚠️  [Kafka] Failed to export %d events", len(messages))
			}
		},
	}
	log.Info().Msgf("✅ [Kafka] Exporting generation events to %s", topic)
	return &KafkaSink{writer: w}
}

// exported reports whether an event type is worth exporting.
func exported(t Type) bool {
	switch t {
	case TypeImage, TypeImageError, TypeError, TypeComplete:
		return true
	}
	return false
}

func (k *KafkaSink) Publish(ctx context.Context, ev Event) error {
	if !exported(ev.Type) {
		return nil
	}
	payload := struct {
		Event
		UserID string    `json:"userId,omitempty"`
		At     time.Time `json:"at"`
	}{Event: ev, UserID: ev.UserID, At: time.Now().UTC()}

	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TaskID),
		Value: value,
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
