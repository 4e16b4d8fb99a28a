package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTokenStore keeps tokens in Redis with the token expiry as the key TTL
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore creates a Redis-backed token store
func NewRedisTokenStore(client *redis.Client, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "roomdesk:token"
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

func (s *RedisTokenStore) key(tokenHash string) string {
	return fmt.Sprintf("%s:%s", s.prefix, tokenHash)
}

// Create stores a token. Tokens without an expiry never expire in Redis either.
func (s *RedisTokenStore) Create(ctx context.Context, token *AccessToken) error {
	data, err := json.Marshal(redisToken{AccessToken: token, Hash: token.TokenHash})
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	var ttl time.Duration
	if token.ExpiresAt != nil {
		ttl = time.Until(*token.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("token already expired")
		}
	}

	if err := s.client.Set(ctx, s.key(token.TokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// FindByHash looks up a token by hash
func (s *RedisTokenStore) FindByHash(ctx context.Context, tokenHash string) (*AccessToken, error) {
	data, err := s.client.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var stored redisToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	stored.AccessToken.TokenHash = stored.Hash

	return stored.AccessToken, nil
}

// Touch records the last time a token was used, keeping its TTL. The write is
// SET XX so a token revoked after the read is never recreated.
func (s *RedisTokenStore) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	token, err := s.FindByHash(ctx, tokenHash)
	if err != nil {
		return err
	}
	token.LastUsedAt = &at

	data, err := json.Marshal(redisToken{AccessToken: token, Hash: tokenHash})
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	err = s.client.SetArgs(ctx, s.key(tokenHash), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

// Delete revokes a single token
func (s *RedisTokenStore) Delete(ctx context.Context, tokenHash string) error {
	n, err := s.client.Del(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteExpired is a no-op; Redis evicts expired keys itself.
func (s *RedisTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// redisToken carries the hash, which AccessToken hides from JSON
type redisToken struct {
	*AccessToken
	Hash string `json:"token_hash"`
}
