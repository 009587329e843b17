// Package session stores client API and console sessions in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found or expired")

const (
	clientPrefix  = "session:"
	consolePrefix = "console:"
)

// Data is what the server remembers about an issued client session token.
// GroupScope is set when the client token was restricted to one group.
type Data struct {
	AppID          string    `json:"app_id"`
	UserID         string    `json:"user_id"`
	UserExternalID string    `json:"user_external_id"`
	GroupScope     string    `json:"group_scope,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConsoleData struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	CustomerID string    `json:"customer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RedisStore implements session storage using Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the shared connection for presence and pubsub.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) SaveSession(ctx context.Context, jti string, data Data) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}
	return s.save(ctx, clientPrefix+jti, data, time.Until(data.ExpiresAt))
}

func (s *RedisStore) LookupSession(ctx context.Context, jti string) (Data, error) {
	var data Data
	if err := s.load(ctx, clientPrefix+jti, &data); err != nil {
		return Data{}, err
	}
	return data, nil
}

func (s *RedisStore) RevokeSession(ctx context.Context, jti string) error {
	if err := s.client.Del(ctx, clientPrefix+jti).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// SaveConsoleSession stores a console login keyed by the hash of its token.
func (s *RedisStore) SaveConsoleSession(ctx context.Context, tokenHash string, data ConsoleData, ttl time.Duration) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}
	return s.save(ctx, consolePrefix+tokenHash, data, ttl)
}

func (s *RedisStore) LookupConsoleSession(ctx context.Context, tokenHash string) (ConsoleData, error) {
	var data ConsoleData
	if err := s.load(ctx, consolePrefix+tokenHash, &data); err != nil {
		return ConsoleData{}, err
	}
	return data, nil
}

func (s *RedisStore) RevokeConsoleSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, consolePrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("revoke console session: %w", err)
	}
	return nil
}

func (s *RedisStore) save(ctx context.Context, key string, value any, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string, dest any) error {
	jsonData, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if err := json.Unmarshal([]byte(jsonData), dest); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
