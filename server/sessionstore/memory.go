package sessionstore

import (
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

type memoryStore[T any] struct {
	sync.Mutex
	entries map[string]*memoryEntry[T]

	lifetime  time.Duration
	scheduler *gocron.Scheduler
	logger    *logrus.Logger
}

type memoryEntry[T any] struct {
	value   T
	expires time.Time
}

// NewMemoryStore returns an in-memory Store. A background job sweeps expired
// entries every ten seconds; Get additionally treats expired entries as
// absent, so an entry never outlives its lifetime observably.
func NewMemoryStore[T any](opts Options) Store[T] {
	store := &memoryStore[T]{
		entries:   make(map[string]*memoryEntry[T]),
		lifetime:  opts.Lifetime,
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    opts.logger(),
	}
	if _, err := store.scheduler.Every(10).Seconds().Do(store.deleteExpired); err != nil {
		// the only error cause is a malformed job definition, which is static here
		panic(err)
	}
	store.scheduler.StartAsync()
	return store
}

func (s *memoryStore[T]) Add(key string, value T) error {
	s.Lock()
	defer s.Unlock()
	s.entries[key] = &memoryEntry[T]{value: value, expires: time.Now().Add(s.lifetime)}
	return nil
}

func (s *memoryStore[T]) Get(key string) (T, error) {
	s.Lock()
	defer s.Unlock()
	entry, ok := s.entries[key]
	if !ok || time.Now().After(entry.expires) {
		var empty T
		return empty, ErrNoSession
	}
	return entry.value, nil
}

func (s *memoryStore[T]) Update(key string, f func(*T) error) error {
	s.Lock()
	defer s.Unlock()
	entry, ok := s.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return ErrNoSession
	}
	// mutate a copy so a failed transition leaves the entry untouched
	value := entry.value
	if err := f(&value); err != nil {
		return err
	}
	entry.value = value
	entry.expires = time.Now().Add(s.lifetime)
	return nil
}

func (s *memoryStore[T]) Delete(key string) {
	s.Lock()
	defer s.Unlock()
	delete(s.entries, key)
}

func (s *memoryStore[T]) Close() {
	s.scheduler.Stop()
}

func (s *memoryStore[T]) deleteExpired() {
	now := time.Now()
	s.Lock()
	defer s.Unlock()
	for key, entry := range s.entries {
		if now.After(entry.expires) {
			s.logger.WithFields(logrus.Fields{"session": key}).Debug("Deleting expired session")
			delete(s.entries, key)
		}
	}
}
