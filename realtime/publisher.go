package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync-api/domain"
)

// EventPublisher hands committed mutations to the delivery layer. Delivery is
// best effort: an event published while no channel is registered for the
// owner is dropped, never replayed.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// RedisPublisher stamps each event with a per-owner monotonic sequence and
// publishes it on a Redis channel, so every instance subscribed to that
// channel can fan it out to its local connections.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// NewRedisPublisher creates a publisher writing to the given pub/sub channel.
func NewRedisPublisher(client *redis.Client, channel string, logger *log.Logger) *RedisPublisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish assigns the next sequence number for the event's owner and sends
// the event. A sequencing failure is logged and the event goes out without a
// sequence rather than being dropped.
func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event) error {
	seq, err := p.client.Incr(ctx, seqKey(event.UserID)).Result()
	if err != nil {
		p.logger.WithFields(log.Fields{"owner": event.UserID, "error": err}).Warn("event sequencing failed")
	} else {
		event.Seq = uint64(seq)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

func seqKey(owner string) string {
	return "seq:" + owner
}
