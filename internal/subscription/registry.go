package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/notifhub/notifhub/internal/metrics"
	"github.com/notifhub/notifhub/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Upper bound on category name length, matching the limit enforced
	// at the API layer.
	MaxCategoryLength = 128

	// Buffer size for change-feed receivers. A session that falls this
	// far behind on change signals re-reads the durable list on its
	// next connect anyway.
	changeFeedBuffer = 16
)

var (
	// ErrAlreadySubscribed is returned when the (user, category) pair
	// already exists in the durable subscription list.
	ErrAlreadySubscribed = errors.New("subscription: already subscribed")

	// ErrNoSubscriptions is returned when a user's subscription list is
	// empty. An empty list and a never-seen user are indistinguishable
	// in the backing store.
	ErrNoSubscriptions = errors.New("subscription: no subscriptions")

	// ErrInvalidCategory is returned for empty or oversized category names.
	ErrInvalidCategory = errors.New("subscription: invalid category")
)

// subsKey is the durable list holding a user's subscribed categories.
func subsKey(user uuid.UUID) string {
	return "subs:" + user.String()
}

// ValidateCategory checks a category name before any state change.
func ValidateCategory(category string) error {
	if category == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCategory)
	}
	if len(category) > MaxCategoryLength {
		return fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidCategory, MaxCategoryLength)
	}
	return nil
}

// Registry owns the durable user→categories mapping and the in-memory
// per-user change feeds used to wake live sessions when a subscription
// is added mid-connection.
type Registry struct {
	store   store.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	feeds map[uuid.UUID]*changeFeed
}

// NewRegistry creates a subscription registry backed by the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{
		store:   s,
		logger:  log.With().Str("component", "subscription").Logger(),
		metrics: metrics.GetMetrics(),
		feeds:   make(map[uuid.UUID]*changeFeed),
	}
}

// Subscribe appends category to the user's durable subscription list.
// Duplicates are rejected with ErrAlreadySubscribed. After a successful
// append, a change notification is published on the user's feed so a
// live session picks the category up without reconnecting; absence of a
// listener is not an error.
func (r *Registry) Subscribe(ctx context.Context, user uuid.UUID, category string) error {
	if err := ValidateCategory(category); err != nil {
		return err
	}

	current, err := r.store.ListRange(ctx, subsKey(user))
	if err != nil {
		return err
	}
	for _, existing := range current {
		if existing == category {
			r.metrics.SubscriptionConflicts.Inc()
			return fmt.Errorf("%w: user %s, category %q", ErrAlreadySubscribed, user, category)
		}
	}

	if err := r.store.ListAppend(ctx, subsKey(user), category); err != nil {
		return err
	}
	r.metrics.SubscriptionsCreated.Inc()

	// Fire-and-forget: wake any live session for this user. Creating
	// the feed here also lets a later connect find it already present.
	delivered := r.feed(user).publish(category)
	if delivered == 0 {
		r.metrics.ChangeSignalsDropped.Inc()
	}

	r.logger.Info().
		Stringer("user", user).
		Str("category", category).
		Int("sessions_notified", delivered).
		Msg("Subscription added")

	return nil
}

// Subscriptions returns the user's persisted categories in subscription
// order. ErrNoSubscriptions when the list is empty.
func (r *Registry) Subscriptions(ctx context.Context, user uuid.UUID) ([]string, error) {
	categories, err := r.store.ListRange(ctx, subsKey(user))
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoSubscriptions, user)
	}
	return categories, nil
}

// AttachChangeFeed registers a receiver on the user's change feed,
// creating the feed if this is the first subscribe-or-connect for the
// user. The returned detach function must be called when the session
// closes.
func (r *Registry) AttachChangeFeed(user uuid.UUID) (<-chan string, func()) {
	return r.feed(user).attach(changeFeedBuffer)
}

// feed returns the user's change feed, creating it atomically on first
// use: concurrent first-subscribe and first-connect calls converge on
// the same instance.
func (r *Registry) feed(user uuid.UUID) *changeFeed {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.feeds[user]
	if !ok {
		f = newChangeFeed()
		r.feeds[user] = f
		r.metrics.ChangeFeedsActive.Inc()
	}
	return f
}

// ListenerCount reports how many sessions are attached to the user's
// change feed. Zero if the feed does not exist.
func (r *Registry) ListenerCount(user uuid.UUID) int {
	r.mu.Lock()
	f, ok := r.feeds[user]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return f.receiverCount()
}

// Close closes all change feeds. Live sessions observe their receiver
// closing and tear down. Called only on shutdown; feeds are otherwise
// never destroyed (no unsubscribe operation exists at this layer).
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for user, f := range r.feeds {
		f.close()
		delete(r.feeds, user)
		r.metrics.ChangeFeedsActive.Dec()
	}
}
