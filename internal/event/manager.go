package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/notifhub/notifhub/internal/metrics"
	"github.com/notifhub/notifhub/internal/store"
	"github.com/notifhub/notifhub/internal/subscription"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoEvents is returned when a user's history read finds nothing:
// either zero subscriptions or zero events in every subscribed category.
var ErrNoEvents = errors.New("event: no events")

// Event is an immutable record appended to its category's durable log
// and published verbatim on the category's live channel.
type Event struct {
	ID       uuid.UUID `json:"event_id"`
	Category string    `json:"category"`
	Name     string    `json:"name"`
}

// New builds an event with a fresh random identifier. Random IDs never
// collide under concurrent creation, so no coordination is needed
// across publishers.
func New(category, name string) Event {
	return Event{
		ID:       uuid.New(),
		Category: category,
		Name:     name,
	}
}

// eventsKey is the durable per-category event log.
func eventsKey(category string) string {
	return "events:" + category
}

// Manager accepts new events, persists them, and publishes them on
// their category's live channel.
type Manager struct {
	store    store.Store
	registry *subscription.Registry
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewManager creates an event manager.
func NewManager(s store.Store, registry *subscription.Registry) *Manager {
	return &Manager{
		store:    s,
		registry: registry,
		logger:   log.With().Str("component", "event").Logger(),
		metrics:  metrics.GetMetrics(),
	}
}

// AddEvent records a new event and publishes it live. The durable
// append and the publish are independent store operations: a crash
// between them leaves an event that is recorded but never delivered
// live, which late readers still see via EventsForUser. The append
// failing aborts before publish, so "published but not recorded" cannot
// happen.
func (m *Manager) AddEvent(ctx context.Context, category, name string) (uuid.UUID, error) {
	if err := subscription.ValidateCategory(category); err != nil {
		return uuid.Nil, err
	}

	ev := New(category, name)
	serialized, err := json.Marshal(ev)
	if err != nil {
		return uuid.Nil, fmt.Errorf("event: marshal %s: %w", ev.ID, err)
	}

	if err := m.store.ListAppend(ctx, eventsKey(category), string(serialized)); err != nil {
		return uuid.Nil, err
	}
	if err := m.store.Publish(ctx, category, string(serialized)); err != nil {
		// The append already succeeded, so the caller sees an error for
		// an event that later history reads will return.
		return uuid.Nil, err
	}

	m.metrics.EventsPublished.Inc()
	m.logger.Info().
		Stringer("event_id", ev.ID).
		Str("category", category).
		Msg("Event recorded and published")

	return ev.ID, nil
}

// EventsForUser concatenates the durable event logs of every category
// the user is subscribed to, in subscription order, append order within
// each category. A category whose log cannot be read is logged and
// skipped rather than failing the whole read. ErrNoEvents when the
// concatenation is empty.
func (m *Manager) EventsForUser(ctx context.Context, user uuid.UUID) ([]string, error) {
	categories, err := m.registry.Subscriptions(ctx, user)
	if err != nil {
		if errors.Is(err, subscription.ErrNoSubscriptions) {
			return nil, fmt.Errorf("%w: user %s", ErrNoEvents, user)
		}
		return nil, err
	}

	var events []string
	for _, category := range categories {
		list, err := m.store.ListRange(ctx, eventsKey(category))
		if err != nil {
			m.logger.Warn().Err(err).
				Stringer("user", user).
				Str("category", category).
				Msg("Skipping unreadable category in history read")
			continue
		}
		events = append(events, list...)
	}

	if len(events) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoEvents, user)
	}

	m.metrics.EventReadsTotal.Inc()
	return events, nil
}
