package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// RedisSource reads provider receipts published as JSON on a pub/sub channel.
type RedisSource struct {
	client  *redis.Client
	channel string
}

func NewRedisSource(client *redis.Client, channel string) *RedisSource {
	return &RedisSource{client: client, channel: channel}
}

func (s *RedisSource) Name() string {
	return "redis:" + s.channel
}

func (s *RedisSource) Run(ctx context.Context, submit func(context.Context, *models.Receipt) error) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r, err := decodeReceipt([]byte(msg.Payload))
			if err != nil {
				slog.Warn("dropping malformed receipt", "source", s.Name(), "error", err)
				continue
			}
			if err := submit(ctx, r); err != nil {
				slog.Warn("receipt rejected", "source", s.Name(), "alert_id", r.AlertID, "error", err)
			}
		}
	}
}

func decodeReceipt(payload []byte) (*models.Receipt, error) {
	var r models.Receipt
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("error decoding receipt: %w", err)
	}
	return &r, nil
}
