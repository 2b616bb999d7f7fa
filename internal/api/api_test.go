package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/notifhub/notifhub/internal/event"
	"github.com/notifhub/notifhub/internal/store"
	"github.com/notifhub/notifhub/internal/subscription"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server   *httptest.Server
	registry *subscription.Registry
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewWithClient(client)

	registry := subscription.NewRegistry(st)
	events := event.NewManager(st, registry)
	a := New(Config{}, st, registry, events)

	server := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		server.Close()
		registry.Close()
		st.Close()
	})

	return &testEnv{server: server, registry: registry}
}

func (e *testEnv) subscribe(t *testing.T, user uuid.UUID, category string) *http.Response {
	t.Helper()
	resp, err := http.Post(
		fmt.Sprintf("%s/subscriptions/%s/%s", e.server.URL, user, category),
		"application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) addEvent(t *testing.T, category, name string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"category": category, "name": name})
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+"/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response, data any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, data))
}

func TestSubscribeEndpoint(t *testing.T) {
	env := setupTestAPI(t)
	user := uuid.New()

	resp := env.subscribe(t, user, "orders")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Duplicate subscription conflicts.
	resp = env.subscribe(t, user, "orders")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubscribeInvalidUser(t *testing.T) {
	env := setupTestAPI(t)

	resp, err := http.Post(env.server.URL+"/subscriptions/not-a-uuid/orders", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscribeEmptyCategory(t *testing.T) {
	env := setupTestAPI(t)
	user := uuid.New()

	// An empty category must fail validation, not vanish into a 404.
	resp := env.subscribe(t, user, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSubscriptions(t *testing.T) {
	env := setupTestAPI(t)
	user := uuid.New()

	resp, err := http.Get(fmt.Sprintf("%s/subscriptions/%s", env.server.URL, user))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.subscribe(t, user, "orders")
	env.subscribe(t, user, "posts")

	resp, err = http.Get(fmt.Sprintf("%s/subscriptions/%s", env.server.URL, user))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		Categories []string `json:"categories"`
	}
	decodeData(t, resp, &data)
	assert.Equal(t, []string{"orders", "posts"}, data.Categories)
}

func TestAddEventEndpoint(t *testing.T) {
	env := setupTestAPI(t)

	resp := env.addEvent(t, "orders", "shipped#42")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		EventID string `json:"event_id"`
	}
	decodeData(t, resp, &data)
	_, err := uuid.Parse(data.EventID)
	assert.NoError(t, err, "event_id must be a UUID")
}

func TestAddEventValidation(t *testing.T) {
	env := setupTestAPI(t)

	resp := env.addEvent(t, "", "nameless")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	malformed, err := http.Post(env.server.URL+"/events", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer malformed.Body.Close()
	assert.Equal(t, http.StatusBadRequest, malformed.StatusCode)
}

// TestEventFlow walks the concrete scenario: subscribe, post an event,
// read it back in history, then receive the next event live on an open
// stream.
func TestEventFlow(t *testing.T) {
	env := setupTestAPI(t)
	user := uuid.New()

	resp := env.subscribe(t, user, "orders")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.addEvent(t, "orders", "shipped#42")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// History contains the recorded event.
	historyResp, err := http.Get(fmt.Sprintf("%s/events/%s", env.server.URL, user))
	require.NoError(t, err)
	defer historyResp.Body.Close()
	require.Equal(t, http.StatusOK, historyResp.StatusCode)

	var history struct {
		Events []string `json:"events"`
	}
	decodeData(t, historyResp, &history)
	require.Len(t, history.Events, 1)
	assert.Contains(t, history.Events[0], "shipped#42")

	// Open the live stream; it must stay silent until the next event.
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/notifications/" + user.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.registry.ListenerCount(user) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	resp = env.addEvent(t, "orders", "shipped#43")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "shipped#43")
	assert.NotContains(t, string(payload), "shipped#42", "history must not replay on the live stream")
}

// TestStreamPicksUpNewSubscription covers subscribing to a category
// after the stream is already open.
func TestStreamPicksUpNewSubscription(t *testing.T) {
	env := setupTestAPI(t)
	user := uuid.New()

	resp := env.subscribe(t, user, "orders")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/notifications/" + user.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.registry.ListenerCount(user) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	resp = env.subscribe(t, user, "billing")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	time.Sleep(100 * time.Millisecond)

	resp = env.addEvent(t, "billing", "invoice#7")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "invoice#7")
}

func TestGetEventsNotFound(t *testing.T) {
	env := setupTestAPI(t)

	resp, err := http.Get(fmt.Sprintf("%s/events/%s", env.server.URL, uuid.New()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := setupTestAPI(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
