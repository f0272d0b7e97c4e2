package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisDeadLetterMirror copies escalated entries onto a redis list for external consumers.
type RedisDeadLetterMirror struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetterMirror(client *redis.Client, key string) *RedisDeadLetterMirror {
	return &RedisDeadLetterMirror{client: client, key: key}
}

func (m *RedisDeadLetterMirror) Push(ctx context.Context, dl *models.DeadLetter) error {
	if m.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if dl == nil {
		return errors.New("dead letter is nil")
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := m.client.LPush(ctx, m.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter to redis: %w", err)
	}
	return nil
}

// Recent returns up to n mirrored entries, newest first. n <= 0 means all of them.
func (m *RedisDeadLetterMirror) Recent(ctx context.Context, n int64) ([]models.DeadLetter, error) {
	if m.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	stop := n - 1
	if n <= 0 {
		stop = -1
	}
	raw, err := m.client.LRange(ctx, m.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters from redis: %w", err)
	}
	out := make([]models.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var dl models.DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLock is a cross-process run-lock: SET NX with an expiry so a crashed holder
// cannot wedge other processes forever.
type RedisRunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewRedisRunLock(client *redis.Client, key string, ttl time.Duration) *RedisRunLock {
	return &RedisRunLock{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

func (l *RedisRunLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

func (l *RedisRunLock) Unlock(ctx context.Context) error {
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
