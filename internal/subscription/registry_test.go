package subscription

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/notifhub/notifhub/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewWithClient(client)
	t.Cleanup(func() { st.Close() })

	return NewRegistry(st)
}

func TestSubscribeAndList(t *testing.T) {
	registry := setupTestRegistry(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, registry.Subscribe(ctx, user, "orders"))
	require.NoError(t, registry.Subscribe(ctx, user, "posts"))

	categories, err := registry.Subscriptions(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "posts"}, categories, "subscription order preserved")
}

func TestDuplicateSubscriptionRejected(t *testing.T) {
	registry := setupTestRegistry(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, registry.Subscribe(ctx, user, "orders"))

	err := registry.Subscribe(ctx, user, "orders")
	require.ErrorIs(t, err, ErrAlreadySubscribed)

	categories, err := registry.Subscriptions(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, categories, "category must appear exactly once")
}

func TestSubscribeWithoutListenerNeverBlocks(t *testing.T) {
	registry := setupTestRegistry(t)
	user := uuid.New()

	done := make(chan error, 1)
	go func() {
		done <- registry.Subscribe(context.Background(), user, "orders")
	}()

	select {
	case err := <-done:
		require.NoError(t, err, "no live session is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe blocked with no listener attached")
	}
}

func TestSubscriptionsEmpty(t *testing.T) {
	registry := setupTestRegistry(t)

	_, err := registry.Subscriptions(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNoSubscriptions)
}

func TestValidateCategory(t *testing.T) {
	tests := []struct {
		name     string
		category string
		wantErr  bool
	}{
		{"valid", "order_shipped", false},
		{"empty", "", true},
		{"max length", strings.Repeat("a", MaxCategoryLength), false},
		{"oversized", strings.Repeat("a", MaxCategoryLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCategory(tt.category)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCategory)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubscribeRejectsInvalidCategory(t *testing.T) {
	registry := setupTestRegistry(t)

	err := registry.Subscribe(context.Background(), uuid.New(), "")
	require.ErrorIs(t, err, ErrInvalidCategory)
}

func TestChangeFeedSignalsListener(t *testing.T) {
	registry := setupTestRegistry(t)
	user := uuid.New()

	changes, detach := registry.AttachChangeFeed(user)
	defer detach()

	require.NoError(t, registry.Subscribe(context.Background(), user, "orders"))

	select {
	case category := <-changes:
		assert.Equal(t, "orders", category)
	case <-time.After(2 * time.Second):
		t.Fatal("change notification not delivered to attached listener")
	}
}

func TestChangeFeedGetOrCreateConverges(t *testing.T) {
	registry := setupTestRegistry(t)
	user := uuid.New()

	// Concurrent first-connect calls for the same user must all land on
	// the same feed instance.
	var wg sync.WaitGroup
	detaches := make([]func(), 10)
	for i := range detaches {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, detaches[i] = registry.AttachChangeFeed(user)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, registry.ListenerCount(user))

	for _, detach := range detaches {
		detach()
	}
	assert.Equal(t, 0, registry.ListenerCount(user))
}

func TestDetachClosesReceiver(t *testing.T) {
	registry := setupTestRegistry(t)
	user := uuid.New()

	changes, detach := registry.AttachChangeFeed(user)
	detach()

	_, ok := <-changes
	assert.False(t, ok, "receiver channel should be closed after detach")

	// Detaching twice is harmless.
	detach()
}

func TestRegistryCloseClosesReceivers(t *testing.T) {
	registry := setupTestRegistry(t)
	user := uuid.New()

	changes, detach := registry.AttachChangeFeed(user)
	defer detach()

	registry.Close()

	select {
	case _, ok := <-changes:
		assert.False(t, ok, "receiver should observe feed close")
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not closed on registry close")
	}
}
