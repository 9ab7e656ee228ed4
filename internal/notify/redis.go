package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "hailing:"

// Envelope is the JSON body published on every channel.
type Envelope struct {
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// RedisPublisher fans messages out over Redis pub/sub. Subscribers listen on
// hailing:topic:<topic> or hailing:user:<user>.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func TopicChannel(topic string) string { return channelPrefix + "topic:" + topic }
func UserChannel(user string) string   { return channelPrefix + "user:" + user }

func (p *RedisPublisher) PublishTopic(ctx context.Context, topic, event string, payload any) error {
	return p.publish(ctx, TopicChannel(topic), event, payload)
}

func (p *RedisPublisher) PublishUser(ctx context.Context, user, event string, payload any) error {
	return p.publish(ctx, UserChannel(user), event, payload)
}

func (p *RedisPublisher) publish(ctx context.Context, channel, event string, payload any) error {
	b, err := json.Marshal(Envelope{Event: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := p.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}
