package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Envelope is one consumed event with its routing data. Payload is left
// raw so viewers need not know every event type.
type Envelope struct {
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	Received  time.Time       `json:"received"`
}

// Decode builds an Envelope from a Kafka message value. The value must be
// a JSON object; its eventType field is lifted when present.
func Decode(topic string, key, value []byte) (Envelope, error) {
	var head struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return Envelope{}, fmt.Errorf("decode %s event: %w", topic, err)
	}
	return Envelope{
		Topic:     topic,
		Key:       string(key),
		EventType: head.EventType,
		Payload:   json.RawMessage(append([]byte(nil), value...)),
	}, nil
}

// TailConfig selects one topic partition to follow.
type TailConfig struct {
	Brokers []string
	Topic   string
	// Since rewinds the reader before following. Zero starts at the tail.
	Since time.Duration
}

// Tail reads cfg.Topic partition 0 until ctx is done, handing every
// decodable message to fn. Read errors are logged and retried after a
// second.
func Tail(ctx context.Context, cfg TailConfig, fn func(Envelope)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     cfg.Topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	logger := log.With().Str("component", "events").Str("topic", cfg.Topic).Logger()

	if cfg.Since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-cfg.Since)); err != nil {
			logger.Warn().Err(err).Msg("Failed to rewind, following from the tail")
		}
	} else if err := reader.SetOffset(kafka.LastOffset); err != nil {
		logger.Warn().Err(err).Msg("Failed to seek to the tail")
	}
	logger.Info().Dur("since", cfg.Since).Msg("Tailing topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Msg("Kafka read failed")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		env, err := Decode(msg.Topic, msg.Key, msg.Value)
		if err != nil {
			logger.Debug().Err(err).Msg("Skipping undecodable message")
			continue
		}
		env.Received = time.Now()
		fn(env)
	}
}
