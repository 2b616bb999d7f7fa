package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	apierrors "github.com/notifhub/notifhub/internal/api/errors"
	"github.com/notifhub/notifhub/internal/api/models"
	"github.com/notifhub/notifhub/internal/api/response"
	"github.com/notifhub/notifhub/internal/event"
	"github.com/notifhub/notifhub/internal/metrics"
	"github.com/notifhub/notifhub/internal/session"
	"github.com/notifhub/notifhub/internal/store"
	"github.com/notifhub/notifhub/internal/subscription"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout time.Duration
	IdleTimeout time.Duration

	// Per-session outbound queue size
	SessionQueueSize int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}

// API exposes the subscription, event and notification endpoints.
type API struct {
	config   Config
	store    store.Store
	registry *subscription.Registry
	events   *event.Manager
	upgrader websocket.Upgrader
	server   *http.Server
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	// Canceled on shutdown to end long-lived notification sessions.
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
}

// New creates the API.
func New(config Config, s store.Store, registry *subscription.Registry, events *event.Manager) *API {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}

	return &API{
		config:   config,
		store:    s,
		registry: registry,
		events:   events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  log.With().Str("component", "api").Logger(),
		metrics: metrics.GetMetrics(),
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive the API through httptest.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/subscriptions/{user}/{category}", a.handleSubscribe)
	// chi cannot bind {category} to an empty segment, so an empty
	// category would otherwise 404 before validation runs.
	r.Post("/subscriptions/{user}/", a.handleSubscribe)
	r.Get("/subscriptions/{user}", a.handleGetSubscriptions)
	r.Post("/events", a.handleAddEvent)
	r.Get("/events/{user}", a.handleGetEvents)
	r.Get("/notifications/{user}", a.handleNotifications)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start runs the HTTP server until the context is canceled.
func (a *API) Start(ctx context.Context) error {
	a.sessionCtx, a.sessionCancel = context.WithCancel(context.Background())

	a.server = &http.Server{
		Addr:        a.config.Addr,
		Handler:     a.Handler(),
		ReadTimeout: a.config.ReadTimeout,
		IdleTimeout: a.config.IdleTimeout,
	}

	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server")

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown ends live notification sessions and stops the server.
func (a *API) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down API server")
	if a.sessionCancel != nil {
		a.sessionCancel()
	}
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// handleSubscribe implements POST /subscriptions/{user}/{category}.
func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	user, err := parseUser(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	category := chi.URLParam(r, "category")

	if err := a.registry.Subscribe(r.Context(), user, category); err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, nil)
}

// handleGetSubscriptions implements GET /subscriptions/{user}.
func (a *API) handleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	user, err := parseUser(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	categories, err := a.registry.Subscriptions(r.Context(), user)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.SubscriptionsResponse{Categories: categories})
}

// handleAddEvent implements POST /events.
func (a *API) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var req models.AddEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, apierrors.ValidationError("invalid_body", "Request body must be JSON with category and name"))
		return
	}

	id, err := a.events.AddEvent(r.Context(), req.Category, req.Name)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.AddEventResponse{EventID: id.String()})
}

// handleGetEvents implements GET /events/{user}.
func (a *API) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	user, err := parseUser(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	events, err := a.events.EventsForUser(r.Context(), user)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.EventsResponse{Events: events})
}

// handleNotifications implements GET /notifications/{user}: upgrades to
// a WebSocket and streams events for every category the user is or
// becomes subscribed to, until the client disconnects.
func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	user, err := parseUser(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		a.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	transport := session.NewWSTransport(conn)
	defer transport.Close()

	ctx := a.sessionCtx
	if ctx == nil {
		ctx = r.Context()
	}

	sess := session.New(user, a.store, a.registry, transport, session.Config{
		OutboundQueueSize: a.config.SessionQueueSize,
	})
	if err := sess.Run(ctx); err != nil {
		a.logger.Error().Err(err).Stringer("user", user).Msg("Notification session ended with error")
	}
}

// handleHealth implements GET /healthz with a store ping.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// metricsMiddleware records request counts and latency per route.
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		a.metrics.APIRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		a.metrics.APIRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// parseUser extracts and validates the user identifier path parameter.
func parseUser(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "user")
	user, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierrors.ValidationError("invalid_user", "User identifier must be a UUID")
	}
	return user, nil
}
