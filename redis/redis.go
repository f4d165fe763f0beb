package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/share-dish/chat-backend/api"
)

// Redis caches the most recent messages of each chat so the REST read
// path does not hit Postgres for the hot tail of a conversation.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings it to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// Client exposes the underlying connection for callers that need raw
// pub/sub access, such as the relay's cross-instance bridge.
func (r *Redis) Client() *redis.Client {
	return r.cli
}

const (
	chatPrefix = "chat"
	maxSize    = 10
)

func chatKey(chatID string) string {
	return fmt.Sprintf("%s:%s:messages", chatPrefix, chatID)
}

// ListMessages returns the cached messages of a chat, oldest first.
func (r *Redis) ListMessages(ctx context.Context, chatID string) ([]api.Message, error) {
	vals, err := r.cli.ZRangeByScore(ctx, chatKey(chatID), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", time.Now().UnixNano()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}

	out := make([]api.Message, len(vals))
	for i, key := range vals {
		var msg message
		if err := r.cli.HGetAll(ctx, key).Scan(&msg); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		out[i] = msg.APIMessage()
	}

	return out, nil
}

// InsertMessage adds the message to its chat's cache under
// chat:CHAT_ID:messages:MESSAGE_ID and indexes the key in a per-chat
// sorted set scored by creation time.
func (r *Redis) InsertMessage(ctx context.Context, msg api.Message) error {
	m := &message{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}

	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			key := fmt.Sprintf("%s:%s", chatKey(m.ChatID), m.ID)
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, chatKey(m.ChatID), redis.Z{
				Score:  float64(msg.CreatedAt.UnixNano()),
				Member: key,
			})
			return nil
		})
		return err
	}, m.ID)
	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	// Keep only the most recent messages per chat.
	if err := r.evictOldest(ctx, m.ChatID); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// DeleteChat drops all cached messages of a chat. Called when the chat
// itself is deleted so the cache cannot resurrect history.
func (r *Redis) DeleteChat(ctx context.Context, chatID string) error {
	keys, err := r.cli.ZRange(ctx, chatKey(chatID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	for _, key := range keys {
		_ = r.cli.Del(ctx, key).Err()
	}
	if err := r.cli.Del(ctx, chatKey(chatID)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, chatID string) error {
	vals, err := r.cli.ZRange(ctx, chatKey(chatID), 0, int64(-maxSize-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	for _, key := range vals {
		_ = r.cli.ZRem(ctx, chatKey(chatID), key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}

	return nil
}
