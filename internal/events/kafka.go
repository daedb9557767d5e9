// Package events publishes photo lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"tiedye/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per converted photo, keyed by photo id
// so events for a photo land on the same partition.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(cfg models.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{w: kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	})}
}

func (p *KafkaPublisher) PhotoReady(ctx context.Context, ev models.PhotoReadyEvent) error {
	const op = "events.KafkaPublisher.PhotoReady"

	msg, err := readyMessage(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func readyMessage(ev models.PhotoReadyEvent) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.PhotoID, 10)),
		Value: value,
	}, nil
}

// Nop drops every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) PhotoReady(context.Context, models.PhotoReadyEvent) error { return nil }
func (Nop) Close() error { return nil }
