// Package sessionstore provides the TTL-bounded, concurrency-safe key/value
// stores backing all credential exchange sessions. Keys are capability
// tokens: possession of a key is the only authorization check at this layer.
// Two backends are available, an in-memory store with a periodic expiry
// sweep and a Redis store relying on native key expiration.
package sessionstore

import (
	"time"

	"github.com/go-errors/errors"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ErrNoSession is returned when a key is unknown or its entry has expired.
// Callers must translate it into a client-visible error.
var ErrNoSession = errors.New("session unknown or expired")

// Store is a mapping from unguessable keys to session values of type T, with
// bounded entry lifetime.
//
// Update applies f to the stored value under a guarantee that no concurrent
// Update on the same key interleaves: two racing state transitions resolve to
// exactly one winner, the loser observing the winner's mutation. If f returns
// an error the entry is left unmodified. Add and Update refresh the entry's
// lifetime.
type Store[T any] interface {
	Add(key string, value T) error
	Get(key string) (T, error)
	Update(key string, f func(*T) error) error
	Delete(key string)
	Close()
}

// Options configure a store instance.
type Options struct {
	// Lifetime of an entry since it was last added or updated.
	Lifetime time.Duration
	// Prefix namespaces the keys of this store within a shared backend.
	Prefix string
	// Client must be set for Redis-backed stores.
	Client *redis.Client

	Logger *logrus.Logger
}

func (o Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}
