package callevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to one topic and call summaries to another.
// Messages are keyed by call id so a call's events stay ordered within a
// partition.
type KafkaSink struct {
	events  messageWriter
	metrics messageWriter
	logger  *slog.Logger
	now     func() time.Time

	// SkipDeltas drops interim transcript events, which are high volume.
	SkipDeltas bool
}

// NewKafkaSink builds a sink over brokers. The events writer is async so
// Publish never waits on the broker; failed batches are logged.
func NewKafkaSink(brokers []string, eventsTopic, metricsTopic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{
		events: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        eventsTopic,
			Balancer:     &kafka.Hash{},
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					logger.Warn("kafka event batch failed", "topic", eventsTopic, "messages", len(msgs), "error", err)
				}
			},
		},
		metrics: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        metricsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
		now:    time.Now,
	}
}

func (k *KafkaSink) Publish(ctx context.Context, callID string, ev live.Event) {
	if ev == nil {
		return
	}
	if k.SkipDeltas {
		if _, ok := ev.(*live.TranscriptDeltaEvent); ok {
			return
		}
	}
	env, err := NewEnvelope(callID, ev, k.now())
	if err != nil {
		k.logger.Warn("drop call event", "call_id", callID, "error", err)
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		k.logger.Warn("drop call event", "call_id", callID, "error", err)
		return
	}
	if err := k.events.WriteMessages(ctx, kafka.Message{Key: []byte(callID), Value: value}); err != nil {
		k.logger.Warn("publish call event", "call_id", callID, "type", env.Type, "error", err)
	}
}

func (k *KafkaSink) SaveCallMetrics(ctx context.Context, m live.CallMetrics) error {
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode call metrics: %w", err)
	}
	if err := k.metrics.WriteMessages(ctx, kafka.Message{Key: []byte(m.CallID), Value: value}); err != nil {
		return fmt.Errorf("publish call metrics: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	err := k.events.Close()
	if merr := k.metrics.Close(); err == nil {
		err = merr
	}
	return err
}
