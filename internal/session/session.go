package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/notifhub/notifhub/internal/metrics"
	"github.com/notifhub/notifhub/internal/store"
	"github.com/notifhub/notifhub/internal/subscription"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrChangeFeedClosed indicates the user's change feed closed while the
// session was still attached. The session can no longer learn about new
// subscriptions, so it tears down instead of silently serving a stale set.
var ErrChangeFeedClosed = errors.New("session: change feed closed while session active")

// Transport is the session's view of the client connection. Send is
// called from a single goroutine; Closed is closed when the client
// disconnects or sends a close frame.
type Transport interface {
	Send(payload string) error
	Closed() <-chan struct{}
	Close() error
}

// Config contains session tuning parameters.
type Config struct {
	// Size of the bounded outbound queue per session. When a client
	// cannot drain it, the oldest queued event is dropped to make room.
	OutboundQueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		OutboundQueueSize: 64,
	}
}

// Session is the per-connection actor that multiplexes a user's
// subscribed category channels and change feed into one outbound
// stream. It moves Connecting → Streaming → Closing → Closed; all of
// its state is owned by its own run loop.
type Session struct {
	user      uuid.UUID
	store     store.Store
	registry  *subscription.Registry
	transport Transport
	config    Config

	monitored map[string]struct{}
	out       chan string

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a session for one connected client.
func New(user uuid.UUID, s store.Store, registry *subscription.Registry, transport Transport, config Config) *Session {
	if config.OutboundQueueSize == 0 {
		config.OutboundQueueSize = DefaultConfig().OutboundQueueSize
	}

	return &Session{
		user:      user,
		store:     s,
		registry:  registry,
		transport: transport,
		config:    config,
		monitored: make(map[string]struct{}),
		out:       make(chan string, config.OutboundQueueSize),
		logger: log.With().
			Str("component", "session").
			Stringer("user", user).
			Logger(),
		metrics: metrics.GetMetrics(),
	}
}

// Run drives the session until the client disconnects, the context is
// canceled, or an unrecoverable session error occurs. It always
// releases the session's change-feed receiver and live store
// subscriptions before returning; no durable state changes happen on
// close.
func (s *Session) Run(ctx context.Context) error {
	// Connecting: attach to the change feed first so a subscribe racing
	// with connect is either in the snapshot or signaled on the feed.
	changes, detach := s.registry.AttachChangeFeed(s.user)
	defer detach()

	snapshot, err := s.registry.Subscriptions(ctx, s.user)
	if err != nil && !errors.Is(err, subscription.ErrNoSubscriptions) {
		return fmt.Errorf("session: subscription snapshot: %w", err)
	}

	stream, err := s.store.Subscribe(ctx, snapshot...)
	if err != nil {
		return fmt.Errorf("session: open live stream: %w", err)
	}
	defer stream.Close()

	for _, category := range snapshot {
		s.monitored[category] = struct{}{}
	}

	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()
	s.logger.Info().Int("categories", len(snapshot)).Msg("Session streaming")

	// Writer goroutine: drains the bounded outbound queue into the
	// transport so a slow client never stalls the multiplex loop.
	writerErr := make(chan error, 1)
	writerStop := make(chan struct{})
	defer close(writerStop)
	go func() {
		for {
			select {
			case payload := <-s.out:
				if err := s.transport.Send(payload); err != nil {
					writerErr <- err
					return
				}
				s.metrics.SessionEventsForwarded.Inc()
			case <-writerStop:
				return
			}
		}
	}()

	// Streaming: wait on whichever source produces first.
	for {
		select {
		case msg, ok := <-stream.Messages():
			if !ok {
				s.metrics.SessionErrorsTotal.WithLabelValues("stream_closed").Inc()
				s.logger.Warn().Msg("Live stream closed, ending session")
				return errors.New("session: live stream closed")
			}
			s.enqueue(msg.Payload)

		case category, ok := <-changes:
			if !ok {
				// Nothing can signal new subscriptions anymore;
				// continuing would silently serve a stale set.
				s.metrics.SessionErrorsTotal.WithLabelValues("change_feed_closed").Inc()
				s.logger.Error().Msg("Change feed closed while session active")
				return ErrChangeFeedClosed
			}
			if err := s.monitor(ctx, stream, category); err != nil {
				s.metrics.SessionErrorsTotal.WithLabelValues("monitor").Inc()
				return err
			}

		case err := <-writerErr:
			s.metrics.SessionErrorsTotal.WithLabelValues("transport_write").Inc()
			s.logger.Info().Err(err).Msg("Client write failed, closing session")
			return nil

		case <-s.transport.Closed():
			s.logger.Info().Msg("Client disconnected, closing session")
			return nil

		case <-ctx.Done():
			s.logger.Info().Msg("Server shutdown, closing session")
			return nil
		}
	}
}

// monitor adds a category to the live read set. Redelivered categories
// are a no-op.
func (s *Session) monitor(ctx context.Context, stream store.Stream, category string) error {
	if _, ok := s.monitored[category]; ok {
		return nil
	}
	if err := stream.Add(ctx, category); err != nil {
		return fmt.Errorf("session: add category %q: %w", category, err)
	}
	s.monitored[category] = struct{}{}
	s.logger.Info().Str("category", category).Msg("Added category to live stream")
	return nil
}

// enqueue places payload on the bounded outbound queue, dropping the
// oldest queued event when the client is too slow to drain it.
func (s *Session) enqueue(payload string) {
	select {
	case s.out <- payload:
		return
	default:
	}

	select {
	case <-s.out:
		s.metrics.SessionEventsDropped.Inc()
		s.logger.Warn().Msg("Outbound queue full, dropped oldest event")
	default:
	}

	select {
	case s.out <- payload:
	default:
		s.metrics.SessionEventsDropped.Inc()
	}
}
