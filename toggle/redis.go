package toggle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// redisChange is the pub/sub payload.
type redisChange struct {
	Source string `json:"source"`
	Value  bool   `json:"value"`
}

// RedisStore keeps the flag under a Redis key and propagates writes on a channel.
type RedisStore struct {
	client  *redis.Client
	key     string
	channel string
	source  string
	logger  *zap.Logger
	//
	mu      sync.Mutex
	closed  bool
	pubsubs []*redis.PubSub
}

var _ Store = (*RedisStore)(nil)

// Get implements the Store interface.
func (s *RedisStore) Get(ctx context.Context) (bool, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("redis get: %w", err)
	}

	return raw == "1", true, nil
}

// Set implements the Store interface.
func (s *RedisStore) Set(ctx context.Context, value bool) error {
	payload, err := json.Marshal(redisChange{Source: s.source, Value: value})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	raw := "0"
	if value {
		raw = "1"
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key, raw, 0)
	pipe.Publish(ctx, s.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Watch implements the Store interface.
func (s *RedisStore) Watch(fn func(value bool)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := s.client.Subscribe(ctx, s.channel)
	// Wait for the subscription confirmation so no write is missed after Watch returns
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	s.pubsubs = append(s.pubsubs, pubsub)

	go func() {
		for msg := range pubsub.Channel() {
			change := redisChange{}
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.logger.Debug("malformed change", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			if change.Source == s.source {
				continue
			}
			fn(change.Value)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			pubsub.Close()
		})
	}, nil
}

// Close implements the Store interface.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, pubsub := range s.pubsubs {
		pubsub.Close()
	}
	s.pubsubs = nil

	return s.client.Close()
}

// NewRedisStore connects to Redis and creates a new context handle.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%s: empty", "addr")
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := RedisStore{
		client:  client,
		key:     cfg.Key,
		channel: cfg.Key + ":changes",
		source:  uuid.NewString(),
		logger:  logger.Named("toggle-redis"),
	}
	s.logger.Info("connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB), zap.String("key", cfg.Key))

	return &s, nil
}
