package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// Redis defaults.
const (
	DefaultRedisPrefix      = "upstreamguard:snapshot:"
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultRedisIOTimeout   = 3 * time.Second
	redisScanCount          = 100
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore keeps documents in Redis under Prefix+gatewayID.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger observability.Logger
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger observability.Logger) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultRedisDialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultRedisIOTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultRedisIOTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info("connected to redis snapshot store",
		observability.String("address", cfg.Address),
		observability.Int("db", cfg.DB),
	)

	return &RedisStore{client: client, prefix: cfg.Prefix, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, logger: observability.NopLogger()}
}

func (s *RedisStore) key(gatewayID string) string {
	return s.prefix + gatewayID
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, gatewayID string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(gatewayID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", gatewayID, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, gatewayID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(gatewayID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", gatewayID, err)
	}
	return data, nil
}

// List implements Store using SCAN so large keyspaces are not blocked.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
