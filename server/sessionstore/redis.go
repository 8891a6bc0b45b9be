package sessionstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-errors/errors"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type redisStore[T any] struct {
	client   *redis.Client
	prefix   string
	lifetime time.Duration
	logger   *logrus.Logger
}

// Update retries this many times when a concurrent writer invalidates the
// optimistic transaction before giving up.
const redisUpdateRetries = 3

// NewRedisStore returns a Store backed by Redis. Entries are stored as JSON
// under prefix+key with a native TTL, so expiry needs no sweep and survives
// across server instances.
func NewRedisStore[T any](opts Options) Store[T] {
	return &redisStore[T]{
		client:   opts.Client,
		prefix:   opts.Prefix,
		lifetime: opts.Lifetime,
		logger:   opts.logger(),
	}
}

func (s *redisStore[T]) key(key string) string {
	return s.prefix + key
}

func (s *redisStore[T]) Add(key string, value T) error {
	bts, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	if err := s.client.Set(context.Background(), s.key(key), bts, s.lifetime).Err(); err != nil {
		return errors.WrapPrefix(err, "failed to store session in Redis", 0)
	}
	return nil
}

func (s *redisStore[T]) Get(key string) (T, error) {
	var value T
	bts, err := s.client.Get(context.Background(), s.key(key)).Bytes()
	if err == redis.Nil {
		return value, ErrNoSession
	} else if err != nil {
		return value, errors.WrapPrefix(err, "failed to load session from Redis", 0)
	}
	if err := json.Unmarshal(bts, &value); err != nil {
		return value, errors.Wrap(err, 0)
	}
	return value, nil
}

func (s *redisStore[T]) Update(key string, f func(*T) error) error {
	redisKey := s.key(key)
	txf := func(tx *redis.Tx) error {
		bts, err := tx.Get(context.Background(), redisKey).Bytes()
		if err == redis.Nil {
			return ErrNoSession
		} else if err != nil {
			return errors.WrapPrefix(err, "failed to load session from Redis", 0)
		}
		var value T
		if err := json.Unmarshal(bts, &value); err != nil {
			return errors.Wrap(err, 0)
		}
		if err := f(&value); err != nil {
			return err
		}
		bts, err = json.Marshal(value)
		if err != nil {
			return errors.Wrap(err, 0)
		}
		_, err = tx.TxPipelined(context.Background(), func(pipe redis.Pipeliner) error {
			pipe.Set(context.Background(), redisKey, bts, s.lifetime)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < redisUpdateRetries; i++ {
		err = s.client.Watch(context.Background(), txf, redisKey)
		if err != redis.TxFailedErr {
			return err
		}
		s.logger.WithFields(logrus.Fields{"session": key}).Debug("Retrying session update after concurrent modification")
	}
	return errors.WrapPrefix(err, "session update kept conflicting with concurrent writers", 0)
}

func (s *redisStore[T]) Delete(key string) {
	if err := s.client.Del(context.Background(), s.key(key)).Err(); err != nil {
		s.logger.WithFields(logrus.Fields{"session": key}).Warnf("Failed to delete session from Redis: %s", err)
	}
}

func (s *redisStore[T]) Close() {}
