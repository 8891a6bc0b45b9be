package sessionstore

import (
	"github.com/go-errors/errors"
	"github.com/go-redis/redis/v8"

	"github.com/vcwallet/walletkit/server"
)

// New builds a store for the backend selected in the configuration. For the
// Redis backend the caller supplies the shared client.
func New[T any](conf *server.Configuration, prefix string, client *redis.Client) (Store[T], error) {
	opts := Options{
		Lifetime: conf.SessionLifetime,
		Prefix:   prefix,
		Client:   client,
		Logger:   conf.Logger,
	}
	switch conf.StoreType {
	case "", "memory":
		return NewMemoryStore[T](opts), nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis store type requires a redis client")
		}
		return NewRedisStore[T](opts), nil
	default:
		return nil, errors.Errorf("storeType %q not known", conf.StoreType)
	}
}
