package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wavepoint/roomcast/internal/config"
	"github.com/wavepoint/roomcast/internal/domain"
)

// RedisStore keeps the history snapshot and the pending wakeup
// timestamp under two keys scoped by the configured room prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
	}, nil
}

func (s *RedisStore) historyKey() string {
	return fmt.Sprintf("%s:messages", s.prefix)
}

func (s *RedisStore) alarmKey() string {
	return fmt.Sprintf("%s:alarm", s.prefix)
}

func (s *RedisStore) LoadHistory(ctx context.Context) ([]domain.ChatMessage, error) {
	data, err := s.client.Get(ctx, s.historyKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var messages []domain.ChatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}

	return messages, nil
}

func (s *RedisStore) SaveHistory(ctx context.Context, messages []domain.ChatMessage) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := s.client.Set(ctx, s.historyKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	return nil
}

func (s *RedisStore) ScheduleWakeup(ctx context.Context, at time.Time) error {
	millis := strconv.FormatInt(at.UnixMilli(), 10)
	if err := s.client.Set(ctx, s.alarmKey(), millis, 0).Err(); err != nil {
		return fmt.Errorf("failed to schedule wakeup: %w", err)
	}
	return nil
}

func (s *RedisStore) NextWakeup(ctx context.Context) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, s.alarmKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read wakeup: %w", err)
	}

	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt wakeup timestamp %q: %w", val, err)
	}

	return time.UnixMilli(millis), true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
