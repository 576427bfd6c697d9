// Package redis provides a Redis-backed model.BlobStore.
//
// Writes go through a circuit breaker. While the breaker is open the latest
// blob per key is held in memory. The buffer is replayed by the first direct
// write that succeeds after recovery, and by Close.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix    = "tracker:"
	defaultMaxFailures  = 5
	defaultResetTimeout = 10 * time.Second
)

// Config configures the Redis blob store.
type Config struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	KeyPrefix string // defaults to "tracker:"
}

// Store reads and writes blobs as plain Redis strings.
type Store struct {
	client *goredis.Client
	prefix string
	cb     *CircuitBreaker
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string][]byte // latest blob per key written while the breaker was open

	flushMu sync.Mutex // serialises replays

	// Optional hooks (metrics)
	OnBuffer func()
	OnFlush  func(count int)
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker returns the circuit breaker guarding writes.
func (s *Store) Breaker() *CircuitBreaker { return s.cb }

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis store connected", slog.String("component", "redis"), slog.String("addr", cfg.Addr))
	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{
		client:  client,
		prefix:  prefix,
		cb:      NewCircuitBreaker(defaultMaxFailures, defaultResetTimeout),
		log:     logger.Component(slog.Default(), "redis"),
		pending: make(map[string][]byte),
	}
}

// Get returns the blob stored under key. A blob still waiting in the
// open-circuit buffer wins over the server copy.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	if b, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return b, nil
}

// Put writes the blob through the circuit breaker. If the circuit is open
// the write is buffered and nil is returned.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	err := s.cb.Execute(func() error {
		return s.client.Set(ctx, s.prefix+key, data, 0).Err()
	})
	if errors.Is(err, ErrCircuitOpen) {
		s.buffer(key, data)
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis put %q: %w", key, err)
	}

	// A direct write supersedes anything buffered for the key; the rest
	// can go out now that Redis accepts writes again.
	s.mu.Lock()
	delete(s.pending, key)
	replay := len(s.pending) > 0
	s.mu.Unlock()
	if replay {
		s.flush(ctx)
	}
	return nil
}

func (s *Store) buffer(key string, data []byte) {
	b := make([]byte, len(data))
	copy(b, data)

	s.mu.Lock()
	s.pending[key] = b
	s.mu.Unlock()

	if s.OnBuffer != nil {
		s.OnBuffer()
	}
}

// flush writes every buffered blob. Failed writes stay buffered unless a
// newer blob for the key arrived meanwhile.
func (s *Store) flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	toFlush := s.pending
	s.pending = make(map[string][]byte)
	s.mu.Unlock()

	flushed := 0
	for key, data := range toFlush {
		if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
			s.log.Error("flush buffered blob failed", slog.String("key", key), slog.Any("error", err))
			s.mu.Lock()
			if _, newer := s.pending[key]; !newer {
				s.pending[key] = data
			}
			s.mu.Unlock()
			continue
		}
		flushed++
	}

	s.log.Info("flushed buffered blobs", slog.Int("count", flushed))
	if s.OnFlush != nil {
		s.OnFlush(flushed)
	}
}

// PendingCount returns the number of keys waiting to be flushed.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close replays any buffered blobs, then closes the client. Blobs that still
// cannot be written are logged and lost.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.flush(ctx)
	cancel()

	if n := s.PendingCount(); n > 0 {
		s.log.Error("closing with unwritten blobs", slog.Int("count", n))
	}
	return s.client.Close()
}
