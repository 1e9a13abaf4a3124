package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "passport:oauth_state:"

// RedisStore はRedisを使ったStore。複数インスタンス構成でstateを共有する。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore はredis URLからRedisStoreを生成する。
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreWithClient は既存のクライアントからRedisStoreを生成する。
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping はRedisへの疎通を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save はstateをSET NX EXで保存する。同じstateが既にあればエラー。
func (s *RedisStore) Save(ctx context.Context, state string, entry Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode oauth state: %w", err)
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+state, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	if !ok {
		return fmt.Errorf("oauth state already exists")
	}
	return nil
}

// Consume はGETDELで取り出しと削除を1コマンドで行う。
func (s *RedisStore) Consume(ctx context.Context, state string) (*Entry, error) {
	payload, err := s.client.GetDel(ctx, keyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode oauth state: %w", err)
	}
	return &entry, nil
}

// Close はRedisクライアントを閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
