package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document under "<prefix><name>".
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects to addr and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return data, nil
}

func (s *RedisStore) Save(ctx context.Context, name string, contents []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+name, contents, 0).Err(); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Persistence = (*RedisStore)(nil)
