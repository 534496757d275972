// README: Redis Pub/Sub backing for multi-process fan-out.
package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultRedisChannel = "floortwin:events"

// RedisRelay publishes events to a Redis channel; Run feeds every message on
// that channel, including this process's own, into the local hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     logrus.FieldLogger
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, log logrus.FieldLogger) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if log == nil {
		log = hub.log
	}
	return &RedisRelay{client: client, channel: channel, hub: hub, log: log.WithField("relay", "redis")}
}

func (r *RedisRelay) Publish(ctx context.Context, e Event, topics ...Topic) error {
	data, err := encodeEnvelope(e, topics)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.log.WithField("channel", r.channel).Info("relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := deliverEnvelope(ctx, r.hub, []byte(msg.Payload)); err != nil {
				r.log.WithError(err).Warn("dropping malformed relay message")
			}
		}
	}
}
