package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared backend: many proxy instances point at one
// Redis and coordinate only through last-writer-wins key overwrites.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects using a redis:// URL (e.g. redis://localhost:6379/0).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client (used by tests).
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) GetCredential(ctx context.Context, accountID string) (*Credential, error) {
	raw, err := s.rdb.Get(ctx, AccountKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", accountID, err)
	}
	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", accountID, err)
	}
	return &cred, nil
}

func (s *RedisStore) PutCredential(ctx context.Context, accountID string, cred *Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential %s: %w", accountID, err)
	}
	if err := s.rdb.Set(ctx, AccountKey(accountID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", accountID, err)
	}
	return nil
}

func (s *RedisStore) DeleteCredential(ctx context.Context, accountID string) error {
	return s.rdb.Del(ctx, AccountKey(accountID)).Err()
}

func (s *RedisStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, accountKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), accountKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan accounts: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) GetFailedSet(ctx context.Context) ([]string, error) {
	raw, err := s.rdb.Get(ctx, failedAccountsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed set: %w", err)
	}
	return decodeFailedSet(raw), nil
}

func (s *RedisStore) SetFailedSet(ctx context.Context, ids []string) error {
	return s.rdb.Set(ctx, failedAccountsKey, encodeFailedSet(ids), 0).Err()
}

func (s *RedisStore) GetLastResetDate(ctx context.Context) (string, error) {
	raw, err := s.rdb.Get(ctx, lastFailedResetKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get reset date: %w", err)
	}
	return raw, nil
}

func (s *RedisStore) SetLastResetDate(ctx context.Context, date string) error {
	return s.rdb.Set(ctx, lastFailedResetKey, date, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
