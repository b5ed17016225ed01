package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

const redisKeyPrefix = "tofu:session:"

// RedisOptions configures the Redis snapshot store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL expires idle snapshots; zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps each snapshot as a JSON string value.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = &RedisStore{}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("redis store: empty addr")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis store: ping %s", opts.Addr)
	}
	return &RedisStore{client: client, ttl: opts.TTL}, nil
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Save(ctx context.Context, snapshot chat.Snapshot) error {
	if strings.TrimSpace(snapshot.ID) == "" {
		return errors.New("redis store: empty snapshot id")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "redis store: marshal snapshot")
	}
	if err := s.client.Set(ctx, redisKey(snapshot.ID), payload, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis store: set")
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (chat.Snapshot, error) {
	raw, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return chat.Snapshot{}, errors.Wrap(err, "redis store: get")
	}
	var snapshot chat.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return chat.Snapshot{}, errors.Wrap(err, "redis store: decode snapshot")
	}
	return snapshot, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return errors.Wrap(err, "redis store: del")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
