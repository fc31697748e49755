package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBackend stores preferences as plain string keys under a prefix and
// announces each write on a pub/sub channel so that other processes sharing
// the keyspace can reload.
type RedisBackend struct {
	client *redis.Client
	prefix string
	origin string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
	}
}

func (b *RedisBackend) channel() string {
	return b.prefix + "changes"
}

func (b *RedisBackend) Load(ctx context.Context, key string) (json.RawMessage, bool, error) {
	val, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	if !json.Valid(val) {
		return nil, false, fmt.Errorf("stored preference is invalid JSON for key=%q", key)
	}
	return json.RawMessage(val), true, nil
}

func (b *RedisBackend) Save(ctx context.Context, key string, value json.RawMessage) error {
	if err := b.client.Set(ctx, b.prefix+key, []byte(value), 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(), b.origin+" "+key).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Changes streams keys written by other backends on the same channel.
func (b *RedisBackend) Changes(ctx context.Context) (<-chan string, error) {
	sub := b.client.Subscribe(ctx, b.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				origin, key, found := strings.Cut(msg.Payload, " ")
				if !found || origin == b.origin {
					continue
				}
				select {
				case out <- key:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
