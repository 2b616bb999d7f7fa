package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/notifhub/notifhub/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidURL indicates the Redis connection URL could not be parsed.
	ErrInvalidURL = errors.New("store: invalid redis connection URL")

	// ErrNotReady indicates Redis did not answer a ping within the
	// configured retry budget.
	ErrNotReady = errors.New("store: redis did not become ready")
)

// Config contains Redis connection settings.
type Config struct {
	// Connection URL, e.g. "redis://:password@localhost:6379/0".
	URL string

	// Number of connection attempts before giving up.
	RetryAttempts int

	// Delay between connection attempts.
	RetryInterval time.Duration

	// Overall budget for establishing the initial connection.
	ConnectTimeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		URL:            "redis://localhost:6379/0",
		RetryAttempts:  3,
		RetryInterval:  2 * time.Second,
		ConnectTimeout: 15 * time.Second,
	}
}

// RedisStore implements Store on a Redis client. Durable state lives in
// Redis lists; live delivery uses Redis pub/sub channels.
type RedisStore struct {
	client  *redis.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Connect establishes a Redis connection, retrying until the server
// answers a ping or the retry budget is exhausted.
func Connect(ctx context.Context, cfg Config) (*RedisStore, error) {
	logger := log.With().Str("component", "store").Logger()

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	for attempt := 0; attempt < cfg.RetryAttempts; attempt++ {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			logger.Info().Str("addr", opt.Addr).Msg("Connected to Redis")
			return &RedisStore{client: client, logger: logger, metrics: metrics.GetMetrics()}, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrNotReady
}

// NewWithClient wraps an existing Redis client. The caller keeps
// ownership of the client's lifetime when constructed this way, but
// Close still closes it.
func NewWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		logger:  log.With().Str("component", "store").Logger(),
		metrics: metrics.GetMetrics(),
	}
}

// track counts an operation and, when err is non-nil, its failure.
func (s *RedisStore) track(op string, err error) {
	s.metrics.StoreOperations.WithLabelValues(op).Inc()
	if err != nil {
		s.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

// ListAppend appends value to the tail of the list at key.
func (s *RedisStore) ListAppend(ctx context.Context, key string, value string) error {
	err := s.client.RPush(ctx, key, value).Err()
	s.track("rpush", err)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("RPUSH failed")
		return wrap("rpush", key, err)
	}
	return nil
}

// ListRange returns the full list at key, in append order. An absent
// key yields an empty slice.
func (s *RedisStore) ListRange(ctx context.Context, key string) ([]string, error) {
	values, err := s.client.LRange(ctx, key, 0, -1).Result()
	s.track("lrange", err)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("LRANGE failed")
		return nil, wrap("lrange", key, err)
	}
	return values, nil
}

// Publish sends message on the named pub/sub channel. Delivery is
// fire-and-forget: zero subscribers is not an error.
func (s *RedisStore) Publish(ctx context.Context, channel string, message string) error {
	err := s.client.Publish(ctx, channel, message).Err()
	s.track("publish", err)
	if err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("PUBLISH failed")
		return wrap("publish", channel, err)
	}
	return nil
}

// Subscribe opens a live pub/sub read over the given channels. Zero
// initial channels is valid; channels can be added later via Add.
func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (Stream, error) {
	pubsub := s.client.Subscribe(ctx, channels...)

	// Force the subscription onto the wire so a publish immediately
	// after Subscribe returns is not lost.
	if len(channels) > 0 {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, wrap("subscribe", channels[0], err)
		}
	}

	stream := &redisStream{
		pubsub: pubsub,
		out:    make(chan Message),
		done:   make(chan struct{}),
	}
	go stream.pump()

	return stream, nil
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", "", err)
	}
	return nil
}

// Close releases the underlying client and its connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisStream adapts *redis.PubSub to the Stream interface.
type redisStream struct {
	pubsub    *redis.PubSub
	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (r *redisStream) Messages() <-chan Message {
	return r.out
}

func (r *redisStream) Add(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	if err := r.pubsub.Subscribe(ctx, channels...); err != nil {
		return wrap("subscribe", channels[0], err)
	}
	return nil
}

func (r *redisStream) Close() error {
	// Closing the pubsub closes its message channel, which ends pump;
	// done unblocks a pump stuck on a consumer that stopped reading.
	r.closeOnce.Do(func() { close(r.done) })
	return r.pubsub.Close()
}

// pump copies deliveries from the pubsub connection to the stream's
// output channel until the pubsub is closed.
func (r *redisStream) pump() {
	defer close(r.out)
	for msg := range r.pubsub.Channel() {
		select {
		case r.out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
		case <-r.done:
			return
		}
	}
}
