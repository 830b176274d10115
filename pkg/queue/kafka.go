// Package queue provides the Kafka consumer used by each chain pipeline.
package queue

import (
	"context"
	"fmt"
	"time"

	kafkaLib "github.com/segmentio/kafka-go"

	committer "github.com/blockproofs/committer"
)

var _ committer.QueueConsumer = (*KafkaConsumer)(nil)

// KafkaConsumer implements committer.QueueConsumer over a consumer-group
// reader. Offsets are committed on an interval, so delivery is
// at-least-once; the dedup checker absorbs redeliveries.
type KafkaConsumer struct {
	reader  *kafkaLib.Reader
	brokers []string
}

// NewKafkaConsumer creates a consumer-group reader for the given topic.
func NewKafkaConsumer(cfg committer.QueueConfig) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafkaLib.NewReader(kafkaLib.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 100 * time.Millisecond,
			StartOffset:    kafkaLib.FirstOffset,
		}),
		brokers: cfg.Brokers,
	}
}

// Fetch blocks until the next message is available or ctx is done. The
// returned payload is the raw message value; parsing is the caller's job.
func (c *KafkaConsumer) Fetch(ctx context.Context) ([]byte, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Value, nil
}

// Ping dials the first broker to check reachability.
func (c *KafkaConsumer) Ping(ctx context.Context) error {
	if len(c.brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	conn, err := kafkaLib.DialContext(ctx, "tcp", c.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka: %w", err)
	}
	return conn.Close()
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
