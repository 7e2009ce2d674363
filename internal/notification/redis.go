package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	id "qcgate/pkg/domain"
)

// DefaultInboxSize caps each user's inbox list.
const DefaultInboxSize = 100

// RedisPublisher publishes to a per-user channel for live subscribers and
// keeps a capped inbox list for users who were offline.
type RedisPublisher struct {
	client    redis.UniversalClient
	inboxSize int64
}

func NewRedisPublisher(client redis.UniversalClient, inboxSize int) *RedisPublisher {
	if client == nil {
		panic("notification.NewRedisPublisher: client is required")
	}
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &RedisPublisher{client: client, inboxSize: int64(inboxSize)}
}

// ChannelKey is the pub/sub channel for userID.
func ChannelKey(userID id.UserID) string { return "notifications:" + userID.String() }

// InboxKey is the list holding userID's recent notifications, newest first.
func InboxKey(userID id.UserID) string { return "notifications:inbox:" + userID.String() }

func (r *RedisPublisher) Publish(ctx context.Context, userID id.UserID, ev Event) error {
	payload, err := json.Marshal(envelope(userID, ev))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, InboxKey(userID), payload)
		pipe.LTrim(ctx, InboxKey(userID), 0, r.inboxSize-1)
		pipe.Publish(ctx, ChannelKey(userID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Inbox returns up to limit of userID's most recent notifications.
func (r *RedisPublisher) Inbox(ctx context.Context, userID id.UserID, limit int) ([]Envelope, error) {
	if limit <= 0 {
		limit = int(r.inboxSize)
	}
	raw, err := r.client.LRange(ctx, InboxKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	out := make([]Envelope, 0, len(raw))
	for _, item := range raw {
		var env Envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			return nil, fmt.Errorf("decode inbox entry: %w", err)
		}
		out = append(out, env)
	}
	return out, nil
}
