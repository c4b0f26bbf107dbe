// Package worker moves telemetry events from Kafka to Loki.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"elearning-marketplace/backend/internal/logging"
)

// MessageReader is the subset of *kafka.Reader the worker needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Pusher ships one raw event.
type Pusher interface {
	PushEventJSON(ctx context.Context, rawJSON []byte) error
}

// NewReader returns a consumer-group reader for topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
}

// Run consumes until ctx is cancelled. Read and push failures are logged; a push failure drops
// that event rather than stalling the partition. Returns nil on cancellation.
func Run(ctx context.Context, r MessageReader, p Pusher, log logging.Logger) error {
	if log == nil {
		log = logging.Nop()
	}
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Warn(ctx, "worker: kafka read failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := p.PushEventJSON(pushCtx, msg.Value); err != nil {
			log.Warn(ctx, "worker: loki push failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		cancel()
	}
}
