package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Bidon15/erc20kit/internal/config"
)

// RedisStore keeps, per network, a list of every record and a hash of the latest
// record per contract name.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, cfg.KeyPrefix), nil
}

func (s *RedisStore) listKey(network string) string {
	return redisKey(s.prefix, "deployments", network)
}

func (s *RedisStore) latestKey(network string) string {
	return redisKey(s.prefix, "latest", network)
}

func redisKey(prefix, kind, network string) string {
	if prefix == "" {
		return kind + ":" + network
	}
	return prefix + ":" + kind + ":" + network
}

// Save implements Repository.
func (s *RedisStore) Save(ctx context.Context, r *Record) error {
	prepare(r)
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.listKey(r.Network), data)
	pipe.HSet(ctx, s.latestKey(r.Network), r.ContractName, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// Latest implements Repository.
func (s *RedisStore) Latest(ctx context.Context, network, contract string) (*Record, error) {
	data, err := s.client.HGet(ctx, s.latestKey(network), contract).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	return decodeRecord(data)
}

// List implements Repository.
func (s *RedisStore) List(ctx context.Context, network string) ([]*Record, error) {
	items, err := s.client.LRange(ctx, s.listKey(network), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	records := make([]*Record, 0, len(items))
	for _, item := range items {
		r, err := decodeRecord([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Close implements Repository.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

var _ Repository = (*RedisStore)(nil)
