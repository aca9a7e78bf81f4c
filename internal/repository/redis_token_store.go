package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/babyfamily/internal/clock"
	"github.com/hitoshi/babyfamily/internal/model"
)

// redisTokenKeyPrefix はRedis上のアクセストークンキーの接頭辞。
const redisTokenKeyPrefix = "wechat:access_token:"

// RedisTokenStore はRedisを使用したアクセストークンキャッシュ。
// キーのTTLはトークンの有効期限に合わせて設定する。
type RedisTokenStore struct {
	client *redis.Client
	clock  clock.Clock
}

// redisTokenEntry はRedisに保存するトークンのJSON表現。
type redisTokenEntry struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisTokenStore はRedisTokenStoreを生成する。
func NewRedisTokenStore(client *redis.Client, clk clock.Clock) *RedisTokenStore {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &RedisTokenStore{client: client, clock: clk}
}

// NewRedisClient はRedis URLからクライアントを生成する。
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func redisTokenKey(appID string) string {
	return redisTokenKeyPrefix + appID
}

// Get はAppIDのトークンを取得する。見つからない場合はnilを返す。
func (s *RedisTokenStore) Get(ctx context.Context, appID string) (*model.AccessToken, error) {
	raw, err := s.client.Get(ctx, redisTokenKey(appID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var entry redisTokenEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode access token: %w", err)
	}

	return &model.AccessToken{
		AppID:     appID,
		Token:     entry.Token,
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// Put はAppIDをキーにトークンを上書きする。
// 有効期限を過ぎたトークンは保存せず、既存のキーを削除する。
func (s *RedisTokenStore) Put(ctx context.Context, token *model.AccessToken) error {
	key := redisTokenKey(token.AppID)

	ttl := token.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete access token: %w", err)
		}
		return nil
	}

	raw, err := json.Marshal(redisTokenEntry{Token: token.Token, ExpiresAt: token.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to encode access token: %w", err)
	}

	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to put access token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccessTokenStore = (*RedisTokenStore)(nil)
