package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// readBlock bounds each XRead so context cancellation is observed promptly.
const readBlock = time.Second

// RedisStream implements MessageTransport on Redis Streams.
type RedisStream struct {
	client *redis.Client
}

func NewRedisStream(url string) (*RedisStream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStream{client: client}, nil
}

func (s *RedisStream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: string(data)},
	}).Result()
	if errors.Is(err, redis.ErrClosed) {
		return "", fmt.Errorf("xadd %s: %w", stream, ErrClosed)
	}
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (s *RedisStream) ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error) {
	if lastID == "" {
		lastID = "$"
	}

	for {
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   1,
			Block:   readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return "", fmt.Errorf("xread %s: %w", stream, ErrClosed)
		}
		if err != nil {
			return "", fmt.Errorf("xread %s: %w", stream, err)
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}

		msg := res[0].Messages[0]
		raw, ok := msg.Values[payloadField].(string)
		if !ok {
			return "", fmt.Errorf("stream %s message %s has no %s field", stream, msg.ID, payloadField)
		}
		if err := json.Unmarshal([]byte(raw), v); err != nil {
			return "", fmt.Errorf("unmarshal message %s: %w", msg.ID, err)
		}
		return msg.ID, nil
	}
}

func (s *RedisStream) Close() error {
	return s.client.Close()
}
