package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// SubscribeEvents consumes published task events and fans each one out to the
// owner's local channels. It reconnects if the subscription drops and returns
// only when ctx is cancelled.
func SubscribeEvents(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, hub *Hub) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var ev struct {
					UserID string `json:"userId"`
				}
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Errorf("unable to parse event: %v", err)
					continue
				}
				if ev.UserID == "" {
					logger.Warn("event without owner, dropping")
					continue
				}
				hub.FanOut(ev.UserID, []byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
