package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/stitts-dev/survivor-ev/internal/models"
)

// RedisStore keeps results in Redis as JSON. Every round trip goes through a
// circuit breaker so an unhealthy Redis fails fast instead of stalling requests.
type RedisStore struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewRedisStore wraps client. threshold is the number of consecutive
// failures that opens the breaker.
func NewRedisStore(client *redis.Client, threshold int, logger *logrus.Logger) *RedisStore {
	if threshold < 1 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"component": "circuit_breaker",
				"service":   name,
				"from":      from.String(),
				"to":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &RedisStore{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (s *RedisStore) Name() string {
	return "redis"
}

func (s *RedisStore) State() gobreaker.State {
	return s.breaker.State()
}

func (s *RedisStore) SaveResult(ctx context.Context, result *models.EVResult, fingerprint string, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal EV result: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, resultKey(result.ID), data, ttl)
		if fingerprint != "" {
			pipe.Set(ctx, instanceKey(fingerprint), result.ID, ttl)
		}
		return pipe.Exec(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to set EV result in cache: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"cache_key":  resultKey(result.ID),
		"expiration": ttl,
		"players":    len(result.Players),
	}).Debug("Cached EV result")

	return nil
}

func (s *RedisStore) GetResult(ctx context.Context, id string) (*models.EVResult, error) {
	data, err := s.get(ctx, resultKey(id))
	if err != nil {
		return nil, err
	}

	var result models.EVResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal EV result: %w", err)
	}

	s.logger.WithField("cache_key", resultKey(id)).Debug("Retrieved EV result from cache")
	return &result, nil
}

func (s *RedisStore) LookupInstance(ctx context.Context, fingerprint string) (string, error) {
	return s.get(ctx, instanceKey(fingerprint))
}

func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

func (s *RedisStore) get(ctx context.Context, key string) (string, error) {
	value, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, key).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get %s from cache: %w", key, err)
	}
	return value.(string), nil
}
