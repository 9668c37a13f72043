package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docstore/api/internal/store"
)

// sessionData is the JSON value stored per token hash.
type sessionData struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisProvider resolves bearer tokens from sessions kept in Redis.
// Sessions are written by the authentication frontend; this service
// only ever reads and registers them.
type RedisProvider struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisProvider connects to Redis and verifies the connection.
func NewRedisProvider(redisURL string, ttl time.Duration) (*RedisProvider, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisProviderWithClient(client, ttl), nil
}

// NewRedisProviderWithClient wraps an existing Redis client.
func NewRedisProviderWithClient(client *redis.Client, ttl time.Duration) *RedisProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisProvider{
		client: client,
		prefix: "session:",
		ttl:    ttl,
	}
}

func (p *RedisProvider) key(tokenHash string) string {
	return p.prefix + tokenHash
}

// Register stores a session for a raw token with the provider's TTL.
func (p *RedisProvider) Register(ctx context.Context, token string, user store.User) error {
	data := sessionData{
		UserID:    user.ID,
		Username:  user.Username,
		Name:      user.Name,
		CreatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	if err := p.client.Set(ctx, p.key(HashToken(token)), jsonData, p.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *RedisProvider) Lookup(ctx context.Context, token string) (store.User, error) {
	jsonData, err := p.client.Get(ctx, p.key(HashToken(token))).Result()
	if err == redis.Nil {
		return store.User{}, ErrUnknownToken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup session: %w", err)
	}

	var data sessionData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal session data: %w", err)
	}

	return store.User{
		ID:       data.UserID,
		Username: data.Username,
		Name:     data.Name,
	}, nil
}

// Revoke removes a session.
func (p *RedisProvider) Revoke(ctx context.Context, token string) error {
	if err := p.client.Del(ctx, p.key(HashToken(token))).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}

func (p *RedisProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
