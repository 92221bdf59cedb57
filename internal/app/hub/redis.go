package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DeliverChannel is the pub/sub channel shared by every instance.
const DeliverChannel = "knitroom:deliver"

// RedisRelay relays deliveries over Redis pub/sub.
type RedisRelay struct {
	rdb    redis.UniversalClient
	logger zerolog.Logger
}

func NewRedisRelay(rdb redis.UniversalClient, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, d Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, DeliverChannel, data).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, fn func(Delivery)) error {
	sub := r.rdb.Subscribe(ctx, DeliverChannel)
	defer sub.Close()

	// Wait for the subscription confirmation before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", DeliverChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				r.logger.Warn().Err(err).Msg("Dropping malformed relay message.")
				continue
			}
			fn(d)
		}
	}
}
